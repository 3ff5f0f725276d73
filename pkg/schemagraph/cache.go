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
package schemagraph

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teradata-labs/weft/pkg/observability"
)

// DefaultBuildTimeout bounds a single graph build.
const DefaultBuildTimeout = 5 * time.Minute

// BuildFunc produces a fresh graph for a data source.
type BuildFunc func(ctx context.Context, dataSourceID string) (*Graph, error)

// Cache holds one graph per data source. Readers never block on each other;
// concurrent misses for the same data source share a single rebuild.
type Cache struct {
	build        BuildFunc
	tracer       observability.Tracer
	buildTimeout time.Duration

	mu       sync.RWMutex
	graphs   map[string]*Graph
	versions map[string]uint64
	// gens invalidates in-flight builds started before an Invalidate.
	gens map[string]uint64

	group singleflight.Group
}

// NewCache creates a cache around build.
func NewCache(build BuildFunc, tracer observability.Tracer) *Cache {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Cache{
		build:        build,
		tracer:       tracer,
		buildTimeout: DefaultBuildTimeout,
		graphs:       make(map[string]*Graph),
		versions:     make(map[string]uint64),
		gens:         make(map[string]uint64),
	}
}

// SetBuildTimeout overrides DefaultBuildTimeout. Non-positive values are ignored.
func (c *Cache) SetBuildTimeout(d time.Duration) {
	if d > 0 {
		c.buildTimeout = d
	}
}

// Get returns the cached graph, building it on a miss.
func (c *Cache) Get(ctx context.Context, dataSourceID string) (*Graph, error) {
	if g, ok := c.Peek(dataSourceID); ok {
		return g, nil
	}
	return c.rebuild(ctx, dataSourceID)
}

// Peek returns the cached graph without building.
func (c *Cache) Peek(dataSourceID string) (*Graph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.graphs[dataSourceID]
	return g, ok
}

// Invalidate drops the cached graph. A build already in flight still
// answers its callers but is not stored.
func (c *Cache) Invalidate(dataSourceID string) {
	c.mu.Lock()
	delete(c.graphs, dataSourceID)
	c.gens[dataSourceID]++
	c.mu.Unlock()
	c.group.Forget(dataSourceID)
}

// Refresh invalidates and rebuilds immediately.
func (c *Cache) Refresh(ctx context.Context, dataSourceID string) (*Graph, error) {
	c.Invalidate(dataSourceID)
	return c.rebuild(ctx, dataSourceID)
}

// rebuild shares one build among concurrent callers. The build runs detached
// from the caller that started it and is bounded by the build timeout; each
// caller stops waiting when its own ctx is done.
func (c *Cache) rebuild(ctx context.Context, dataSourceID string) (*Graph, error) {
	ch := c.group.DoChan(dataSourceID, func() (interface{}, error) {
		c.mu.RLock()
		gen := c.gens[dataSourceID]
		if g, ok := c.graphs[dataSourceID]; ok {
			c.mu.RUnlock()
			return g, nil
		}
		c.mu.RUnlock()

		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.buildTimeout)
		defer cancel()
		g, err := c.build(buildCtx, dataSourceID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.versions[dataSourceID]++
		g.Version = c.versions[dataSourceID]
		if c.gens[dataSourceID] == gen {
			c.graphs[dataSourceID] = g
		}
		c.tracer.RecordMetric(observability.MetricGraphRebuilds, 1, map[string]string{
			observability.AttrDataSourceID: dataSourceID,
		})
		return g, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Graph), nil
	}
}
