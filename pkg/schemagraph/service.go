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
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
)

// BackendSource hands out the backend of a data source. *fabric.Pool implements it.
type BackendSource interface {
	Backend(ctx context.Context, dataSourceID string) (fabric.ExecutionBackend, *fabric.DataSource, error)
}

// Config configures a Service.
type Config struct {
	Backends                 BackendSource
	IntrospectionConcurrency int
	Search                   SearchOptions
	Tracer                   observability.Tracer
	Logger                   *zap.Logger

	// BuildTimeout bounds one graph build. Defaults to DefaultBuildTimeout.
	BuildTimeout time.Duration
}

// Service answers discovery questions per data source, keeping graphs cached.
type Service struct {
	backends BackendSource
	builder  *Builder
	cache    *Cache
	search   SearchOptions
	logger   *zap.Logger
}

// NewService creates a discovery service.
func NewService(cfg Config) *Service {
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Service{
		backends: cfg.Backends,
		builder: &Builder{
			Concurrency: cfg.IntrospectionConcurrency,
			Tracer:      cfg.Tracer,
			Logger:      cfg.Logger,
		},
		search: cfg.Search,
		logger: cfg.Logger,
	}
	if s.search.Tracer == nil {
		s.search.Tracer = cfg.Tracer
	}
	if s.search.Logger == nil {
		s.search.Logger = cfg.Logger
	}
	s.cache = NewCache(s.buildGraph, cfg.Tracer)
	s.cache.SetBuildTimeout(cfg.BuildTimeout)
	return s
}

func (s *Service) buildGraph(ctx context.Context, dataSourceID string) (*Graph, error) {
	backend, _, err := s.backends.Backend(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(ctx, dataSourceID, backend)
}

// Cache exposes the graph cache.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Graph returns the current graph of a data source.
func (s *Service) Graph(ctx context.Context, dataSourceID string) (*Graph, error) {
	return s.cache.Get(ctx, dataSourceID)
}

// ListEntities lists tables, views or indices. The list may be empty.
func (s *Service) ListEntities(ctx context.Context, dataSourceID string) ([]Entity, error) {
	g, err := s.Graph(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	return g.Entities(), nil
}

// DescribeTable returns one table with its column references.
func (s *Service) DescribeTable(ctx context.Context, dataSourceID, table string) (*Table, error) {
	g, err := s.Graph(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	return g.Describe(table)
}

// FindJoinPath returns the JOIN fragments of a shortest path.
func (s *Service) FindJoinPath(ctx context.Context, dataSourceID, startTable, endTable string) ([]string, error) {
	g, err := s.Graph(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	return g.FindJoinPath(startTable, endTable)
}

// GetDatabaseCompass returns every foreign-key edge.
func (s *Service) GetDatabaseCompass(ctx context.Context, dataSourceID string) ([]Edge, error) {
	g, err := s.Graph(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	return g.Compass(), nil
}

// CrossEntitySearch searches every text column for keyword. limitPerTable <= 0
// uses the configured default.
func (s *Service) CrossEntitySearch(ctx context.Context, dataSourceID, keyword string, limitPerTable int) (*SearchResult, error) {
	g, err := s.Graph(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	backend, _, err := s.backends.Backend(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	opts := s.search
	if limitPerTable > 0 {
		opts.LimitPerTable = limitPerTable
	}
	return CrossEntitySearch(ctx, g, backend, keyword, opts)
}

// Resync drops the cached graph and rebuilds it.
func (s *Service) Resync(ctx context.Context, dataSourceID string) (*Graph, error) {
	g, err := s.cache.Refresh(ctx, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("resync %s: %w", dataSourceID, err)
	}
	s.logger.Info("schema resynced",
		zap.String("data_source_id", dataSourceID),
		zap.Uint64("version", g.Version))
	return g, nil
}
