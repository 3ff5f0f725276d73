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
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/scheduler"
	"github.com/teradata-labs/weft/pkg/server"
	"github.com/teradata-labs/weft/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: heredoc.Doc(`
		Start the HTTP API with the SSE progress stream and Prometheus metrics.

		Data sources with a sync_schedule are re-synced on their cron schedule.
		When datasources_file is set, edits to the file are picked up without a
		restart.`),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().Bool("cors", false, "Allow cross-origin requests from any origin")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := log.L()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.NewScheduler(scheduler.Config{
			Resyncer: a.engine,
			Sources:  a.stores.sources,
			Timeout:  cfg.Scheduler.Timeout,
			Tracer:   a.tracer,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	if a.stores.file != nil {
		watcher, err := config.NewDataSourceWatcher(config.WatcherConfig{
			Path:     a.stores.file.Path(),
			Reload:   a.stores.file.Reload,
			OnChange: func(ids []string) { a.dataSourcesChanged(ctx, sched, ids) },
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("watch %s: %w", a.stores.file.Path(), err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	if cfg.Storage.AuditRetention > 0 {
		cleaner := storage.StartAuditCleanup(a.stores.sql, cfg.Storage.AuditRetention, 0, logger)
		defer cleaner.Stop()
	}

	if a.index != nil {
		go a.warmIndex(ctx)
	}

	cors := server.CORSConfig{}
	if enabled, _ := cmd.Flags().GetBool("cors"); enabled {
		cors = server.DefaultCORSConfig()
	}
	srv, err := server.NewHTTPServer(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		TurnTimeout:  cfg.Server.TurnTimeout,
		Engine:       a.engine,
		Sources:      a.stores.sources,
		Metrics:      promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		CORS:         cors,
		Tracer:       a.tracer,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if sched != nil {
			_ = sched.Stop(context.Background())
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := srv.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dataSourcesChanged drops cached state of edited records and re-applies
// their sync schedules.
func (a *app) dataSourcesChanged(ctx context.Context, sched *scheduler.Scheduler, ids []string) {
	for _, id := range ids {
		if err := a.engine.InvalidateDataSource(id); err != nil {
			a.logger.Warn("Failed to invalidate data source", zap.String("data_source_id", id), zap.Error(err))
		}
	}
	if sched != nil {
		if err := sched.Reload(ctx); err != nil {
			a.logger.Warn("Failed to reload sync schedules", zap.Error(err))
		}
	}
}

// warmIndex builds the graph and embeddings of every data source so
// find_relevant_tables is available from the first turn.
func (a *app) warmIndex(ctx context.Context) {
	sources, err := a.stores.sources.List(ctx)
	if err != nil {
		a.logger.Warn("Failed to list data sources", zap.Error(err))
		return
	}
	for _, ds := range sources {
		if a.index.Indexed(ds.ID) {
			continue
		}
		start := time.Now()
		if _, err := a.resync(ctx, ds.ID); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("Failed to index data source", zap.String("data_source_id", ds.ID), zap.Error(err))
			continue
		}
		a.logger.Debug("Data source indexed", zap.String("data_source_id", ds.ID), zap.Duration("duration", time.Since(start)))
	}
}
