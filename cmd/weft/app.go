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
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/backends"
	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/factory"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/orchestration"
	"github.com/teradata-labs/weft/pkg/schemagraph"
	"github.com/teradata-labs/weft/pkg/semantic"
	"github.com/teradata-labs/weft/pkg/storage"
	"github.com/teradata-labs/weft/pkg/supervisor"
	"github.com/teradata-labs/weft/pkg/types"
)

// stores holds the persistence layer. Data-source records live in the
// YAML file when one is configured, otherwise in the SQL store.
type stores struct {
	sql     *storage.SQLStore
	sources storage.DataSourceStore

	// file is set when records come from datasources_file.
	file *storage.FileDataSourceStore
}

func openStores(ctx context.Context, cfg *config.Config, tracer observability.Tracer, logger *zap.Logger) (*stores, error) {
	if isSQLiteFile(cfg.Storage) {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DSN), 0o750); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	sqlStore, err := storage.OpenSQL(ctx, storage.SQLConfig{
		Driver:        cfg.Storage.Driver,
		DSN:           cfg.Storage.DSN,
		EncryptionKey: cfg.Storage.EncryptionKey,
		Tracer:        tracer,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	s := &stores{sql: sqlStore, sources: sqlStore}
	if cfg.DataSourcesFile != "" {
		file, err := storage.NewFileDataSourceStore(cfg.DataSourcesFile, logger)
		if err != nil {
			_ = sqlStore.Close()
			return nil, err
		}
		s.file = file
		s.sources = file
	}
	return s, nil
}

func isSQLiteFile(sc config.StorageConfig) bool {
	if sc.Driver != "" && sc.Driver != "sqlite" {
		return false
	}
	return sc.DSN != ":memory:" && !strings.HasPrefix(sc.DSN, "file:")
}

func (s *stores) Close() error {
	return s.sql.Close()
}

// app is the fully wired engine used by serve, ask and sync.
type app struct {
	cfg       *config.Config
	stores    *stores
	pool      *fabric.Pool
	discovery *schemagraph.Service
	engine    *orchestration.Engine
	index     *semantic.Index
	registry  *prometheus.Registry
	tracer    observability.Tracer
	logger    *zap.Logger
}

// appOptions overrides parts of the wiring.
type appOptions struct {
	// provider replaces the configured LLM provider.
	provider types.LLMProvider

	// discoveryOnly skips the LLM provider and the engine.
	discoveryOnly bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tracer, err := observability.NewPrometheusTracer(registry, "weft", logger)
	if err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg, tracer, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, stores: st, registry: registry, tracer: tracer, logger: logger}

	a.pool = fabric.NewPool(fabric.PoolConfig{
		Registry: backends.NewRegistry(),
		Lookup:   st.sources,
		Tracer:   tracer,
		Logger:   logger,
	})

	a.discovery = schemagraph.NewService(schemagraph.Config{
		Backends:                 a.pool,
		IntrospectionConcurrency: cfg.Discovery.IntrospectionConcurrency,
		Search: schemagraph.SearchOptions{
			LimitPerTable: cfg.Discovery.LimitPerTable,
			Timeout:       cfg.Discovery.SearchTimeout,
			Concurrency:   cfg.Discovery.SearchConcurrency,
		},
		Tracer:       tracer,
		Logger:       logger,
		BuildTimeout: cfg.Discovery.BuildTimeout,
	})

	var index orchestration.SemanticIndex
	if cfg.Semantic.Enabled {
		a.index, err = semantic.NewIndex(semantic.Config{
			Provider:    cfg.Semantic.Provider,
			Model:       cfg.Semantic.Model,
			BaseURL:     cfg.Semantic.BaseURL,
			APIKey:      cfg.Semantic.APIKey,
			PersistPath: filepath.Join(cfg.DataDir, "vectors"),
			Tracer:      tracer,
			Logger:      logger,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("semantic index: %w", err)
		}
		index = a.index
	}
	if opts.discoveryOnly {
		return a, nil
	}

	provider := opts.provider
	if provider == nil {
		provider, err = newProvider(ctx, cfg, tracer, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	classifier := supervisor.Classifier(supervisor.NewKeywordClassifier())
	if cfg.LLM.Classifier == "llm" {
		lc := supervisor.DefaultLLMClassifierConfig(provider)
		lc.Logger = logger
		classifier = supervisor.Chain(supervisor.NewLLMClassifier(lc), classifier)
	}

	a.engine, err = orchestration.NewEngine(orchestration.Config{
		Conversations: st.sql,
		Audit:         st.sql,
		Backends:      a.pool,
		Discovery:     a.discovery,
		Supervisor:    supervisor.New(supervisor.Config{Classifier: classifier, Tracer: tracer, Logger: logger}),
		Provider:      provider,
		Index:         index,
		TopK:          cfg.Semantic.TopK,
		Agent:         cfg.Agent,

		SearchLimitPerTable: cfg.Discovery.LimitPerTable,
		TokenCounter:        agent.GetTokenCounter(),
		Location:            cfg.Location(),
		Tracer:              tracer,
		Logger:              logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func newProvider(ctx context.Context, cfg *config.Config, tracer observability.Tracer, logger *zap.Logger) (types.LLMProvider, error) {
	fc := factory.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		Region:      cfg.LLM.Region,
		Profile:     cfg.LLM.Profile,
	}
	if rps := cfg.LLM.RequestsPerSecond; rps > 0 {
		fc.RateLimit = llm.RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: rps,
			BurstCapacity:     int(math.Max(1, math.Ceil(rps))),
		}
	}
	provider, err := factory.New(ctx, fc, tracer, logger)
	if err != nil {
		return nil, fmt.Errorf("LLM provider: %w", err)
	}
	return provider, nil
}

// resync rebuilds one graph. Without an engine the embedding index is
// refreshed here.
func (a *app) resync(ctx context.Context, dataSourceID string) (*schemagraph.Graph, error) {
	if a.engine != nil {
		return a.engine.Resync(ctx, dataSourceID)
	}
	g, err := a.discovery.Resync(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	if a.index != nil {
		if err := a.index.IndexGraph(ctx, g); err != nil {
			return g, fmt.Errorf("index %s: %w", dataSourceID, err)
		}
	}
	return g, nil
}

// Close releases backends and storage.
func (a *app) Close() error {
	var errs []error
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	errs = append(errs, a.stores.Close())
	return errors.Join(errs...)
}
