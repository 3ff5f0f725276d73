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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockPurger struct {
	mu         sync.Mutex
	callCount  atomic.Int32
	lastBefore time.Time
	err        error
}

func (m *mockPurger) PurgeAudit(_ context.Context, before time.Time) (int64, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	m.lastBefore = before
	m.mu.Unlock()
	return 0, m.err
}

var _ AuditPurger = (*mockPurger)(nil)
var _ AuditPurger = (*SQLStore)(nil)

func TestStartAuditCleanup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		storeErr error
	}{
		{name: "purges with retention cutoff"},
		{name: "continues running after purge error", storeErr: fmt.Errorf("connection refused")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := &mockPurger{err: tc.storeErr}
			start := time.Now()

			cleaner := StartAuditCleanup(store, 24*time.Hour, 20*time.Millisecond, zaptest.NewLogger(t))
			require.Eventually(t, func() bool { return store.callCount.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
			cleaner.Stop()

			store.mu.Lock()
			defer store.mu.Unlock()
			cutoff := start.Add(-24 * time.Hour)
			assert.WithinDuration(t, cutoff, store.lastBefore, time.Second)
		})
	}
}

func TestAuditCleanupStopEndsGoroutine(t *testing.T) {
	t.Parallel()
	store := &mockPurger{}

	cleaner := StartAuditCleanup(store, time.Hour, time.Hour, zaptest.NewLogger(t))
	require.Eventually(t, func() bool { return store.callCount.Load() == 1 }, time.Second, 5*time.Millisecond)
	cleaner.Stop()

	countAfterStop := store.callCount.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, countAfterStop, store.callCount.Load())
}

func TestSQLStorePurgeAudit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Record(ctx, AuditEntry{DataSourceID: "shop", Query: "SELECT 1", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.Record(ctx, AuditEntry{DataSourceID: "shop", Query: "SELECT 2", CreatedAt: now}))

	n, err := s.PurgeAudit(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := s.AuditEntries(ctx, "shop", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "SELECT 2", entries[0].Query)
}
