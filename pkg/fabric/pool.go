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
package fabric

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teradata-labs/weft/pkg/observability"
)

// DataSourceLookup resolves a data source id to its connection record.
type DataSourceLookup interface {
	Get(ctx context.Context, id string) (*DataSource, error)
}

// Pool keeps one open, instrumented backend per data source id.
// Backends are opened lazily and concurrent first uses share one Open call.
type Pool struct {
	registry    *Registry
	lookup      DataSourceLookup
	tracer      observability.Tracer
	logger      *zap.Logger
	openTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]poolEntry
	opening singleflight.Group
}

type poolEntry struct {
	backend ExecutionBackend
	source  *DataSource
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Registry *Registry
	Lookup   DataSourceLookup
	Tracer   observability.Tracer
	Logger   *zap.Logger

	// OpenTimeout bounds opening one backend. Defaults to DefaultOpenTimeout.
	OpenTimeout time.Duration
}

// DefaultOpenTimeout bounds opening one backend.
const DefaultOpenTimeout = 30 * time.Second

// NewPool creates a backend pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	return &Pool{
		registry:    cfg.Registry,
		lookup:      cfg.Lookup,
		tracer:      cfg.Tracer,
		logger:      cfg.Logger,
		openTimeout: cfg.OpenTimeout,
		entries:     make(map[string]poolEntry),
	}
}

// Backend returns the backend for a data source, opening it on first use.
// The returned DataSource must not be modified. Concurrent callers share one
// open, which is detached from their contexts and bounded by the open timeout;
// each caller stops waiting when its own ctx is done.
func (p *Pool) Backend(ctx context.Context, id string) (ExecutionBackend, *DataSource, error) {
	p.mu.RLock()
	e, ok := p.entries[id]
	p.mu.RUnlock()
	if ok {
		return e.backend, e.source, nil
	}

	ch := p.opening.DoChan(id, func() (interface{}, error) {
		p.mu.RLock()
		e, ok := p.entries[id]
		p.mu.RUnlock()
		if ok {
			return e, nil
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.openTimeout)
		defer cancel()

		ds, err := p.lookup.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		raw, err := p.registry.Open(ctx, ds)
		if err != nil {
			return nil, fmt.Errorf("failed to open data source %s: %w", id, err)
		}
		e = poolEntry{backend: NewInstrumentedBackend(raw, p.tracer, id), source: ds}

		p.mu.Lock()
		p.entries[id] = e
		p.mu.Unlock()
		p.logger.Info("data source opened", zap.String("data_source_id", id), zap.String("db_type", string(ds.Type)))
		return e, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, nil, res.Err
	}
	e = res.Val.(poolEntry)
	return e.backend, e.source, nil
}

// Evict closes and forgets the backend for id so the next use reconnects.
func (p *Pool) Evict(id string) error {
	p.mu.Lock()
	e, ok := p.entries[id]
	delete(p.entries, id)
	p.mu.Unlock()
	p.opening.Forget(id)
	if !ok {
		return nil
	}
	return e.backend.Close()
}

// Open lists the ids of currently open backends.
func (p *Pool) Open() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every open backend.
func (p *Pool) Close() error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]poolEntry)
	p.mu.Unlock()

	var errs []error
	for id, e := range entries {
		if err := e.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
