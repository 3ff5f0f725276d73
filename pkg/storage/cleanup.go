// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AuditPurger deletes audit entries created before a cutoff.
// *SQLStore implements it.
type AuditPurger interface {
	PurgeAudit(ctx context.Context, before time.Time) (int64, error)
}

// AuditCleaner manages the background goroutine that enforces audit-log
// retention. Call Stop to cancel the goroutine and wait for it to exit.
type AuditCleaner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the cleanup goroutine and blocks until it has exited.
func (c *AuditCleaner) Stop() {
	c.cancel()
	<-c.done
}

// StartAuditCleanup purges audit entries older than retention once at start
// and then every interval.
func StartAuditCleanup(store AuditPurger, retention, interval time.Duration, logger *zap.Logger) *AuditCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	const defaultCleanupInterval = 24 * time.Hour
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	logger.Info("Starting audit retention cleanup",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention),
	)

	purge := func() {
		n, err := store.PurgeAudit(ctx, time.Now().Add(-retention))
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("Audit retention cleanup failed", zap.Error(err))
			}
			return
		}
		logger.Debug("Audit retention cleanup completed", zap.Int64("purged", n))
	}

	go func() {
		defer close(done)
		purge()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("Audit retention cleanup stopped")
				return
			case <-ticker.C:
				purge()
			}
		}
	}()

	return &AuditCleaner{cancel: cancel, done: done}
}
