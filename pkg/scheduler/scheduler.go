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
// Package scheduler re-syncs schema graphs on the cron schedule configured
// per data source.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/schemagraph"
)

// ErrNotScheduled is returned for a data source without a schedule.
var ErrNotScheduled = errors.New("data source has no sync schedule")

// Resyncer rebuilds the schema graph of one data source.
// *orchestration.Engine implements it.
type Resyncer interface {
	Resync(ctx context.Context, dataSourceID string) (*schemagraph.Graph, error)
}

// DataSourceLister lists configured data sources.
type DataSourceLister interface {
	List(ctx context.Context) ([]fabric.DataSource, error)
}

// Config contains scheduler configuration.
type Config struct {
	Resyncer Resyncer
	Sources  DataSourceLister

	// Timeout bounds one sync run. Default 10 minutes.
	Timeout time.Duration

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Status is the runtime state of one schedule.
type Status struct {
	DataSourceID string    `json:"data_source_id"`
	Cron         string    `json:"cron"`
	Next         time.Time `json:"next,omitempty"`
	LastRun      time.Time `json:"last_run,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	LastVersion  uint64    `json:"last_version,omitempty"`
	Running      bool      `json:"running"`
	Runs         int       `json:"runs"`
	Failures     int       `json:"failures"`
	Skipped      int       `json:"skipped"`
}

type entry struct {
	id     cron.EntryID
	status Status
}

// Scheduler manages cron-based schema re-sync.
type Scheduler struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	cronEngine *cron.Cron
	resyncer   Resyncer
	sources    DataSourceLister
	timeout    time.Duration
	tracer     observability.Tracer
	logger     *zap.Logger

	// ctx is cancelled by Stop so running syncs end.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Call Start to load schedules and run.
func NewScheduler(config Config) (*Scheduler, error) {
	if config.Resyncer == nil {
		return nil, fmt.Errorf("resyncer is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.Tracer == nil {
		config.Tracer = observability.NewNoOpTracer()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		entries:    make(map[string]*entry),
		cronEngine: cron.New(),
		resyncer:   config.Resyncer,
		sources:    config.Sources,
		timeout:    config.Timeout,
		tracer:     config.Tracer,
		logger:     config.Logger,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start loads the schedules of all data sources and starts the cron engine.
// A data source with an invalid schedule is logged and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting sync scheduler")
	if s.sources != nil {
		if err := s.Reload(ctx); err != nil {
			return err
		}
	}
	s.cronEngine.Start()
	return nil
}

// Reload reconciles the schedules with the current data-source list.
func (s *Scheduler) Reload(ctx context.Context) error {
	if s.sources == nil {
		return fmt.Errorf("no data-source lister configured")
	}
	sources, err := s.sources.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load data sources: %w", err)
	}
	seen := make(map[string]bool, len(sources))
	for i := range sources {
		ds := &sources[i]
		seen[ds.ID] = true
		if err := s.Apply(ds); err != nil {
			s.logger.Error("Failed to schedule data source sync",
				zap.String("data_source_id", ds.ID),
				zap.String("cron", ds.SyncSchedule),
				zap.Error(err))
		}
	}
	for _, id := range s.ids() {
		if !seen[id] {
			s.Remove(id)
		}
	}
	s.logger.Info("Loaded sync schedules", zap.Int("count", len(s.ids())))
	return nil
}

// Apply adds, updates or removes the schedule of one data source to match
// its SyncSchedule. An empty schedule removes it.
func (s *Scheduler) Apply(ds *fabric.DataSource) error {
	if ds.SyncSchedule == "" {
		s.Remove(ds.ID)
		return nil
	}
	if _, err := cron.ParseStandard(ds.SyncSchedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", ds.SyncSchedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[ds.ID]; ok {
		if e.status.Cron == ds.SyncSchedule {
			return nil
		}
		s.cronEngine.Remove(e.id)
		delete(s.entries, ds.ID)
	}

	id := ds.ID
	entryID, err := s.cronEngine.AddFunc(ds.SyncSchedule, func() {
		if _, err := s.run(s.ctx, id, true); err != nil && !errors.Is(err, errSkipped) {
			s.logger.Warn("Scheduled sync failed", zap.String("data_source_id", id), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entries[ds.ID] = &entry{id: entryID, status: Status{DataSourceID: ds.ID, Cron: ds.SyncSchedule}}
	return nil
}

// Remove drops the schedule of a data source, if any.
func (s *Scheduler) Remove(dataSourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[dataSourceID]; ok {
		s.cronEngine.Remove(e.id)
		delete(s.entries, dataSourceID)
	}
}

// TriggerNow runs a scheduled sync immediately. With skipIfRunning set, a
// run already in progress makes it return without syncing.
func (s *Scheduler) TriggerNow(ctx context.Context, dataSourceID string, skipIfRunning bool) (*schemagraph.Graph, error) {
	s.mu.RLock()
	_, ok := s.entries[dataSourceID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", dataSourceID, ErrNotScheduled)
	}
	return s.run(ctx, dataSourceID, skipIfRunning)
}

// Schedules returns the status of every schedule, ordered by data source.
func (s *Scheduler) Schedules() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		st := e.status
		st.Next = s.cronEngine.Entry(e.id).Next
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DataSourceID < out[j].DataSourceID })
	return out
}

// Stop stops the cron engine, cancels running syncs and waits for them or
// for ctx, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping sync scheduler")
	cronCtx := s.cronEngine.Stop()
	s.cancel()
	select {
	case <-cronCtx.Done():
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler shutdown timeout, some syncs may still be running")
		return ctx.Err()
	}
}

var errSkipped = errors.New("sync skipped: previous run still in progress")

func (s *Scheduler) run(ctx context.Context, dataSourceID string, skipIfRunning bool) (*schemagraph.Graph, error) {
	s.mu.Lock()
	e, ok := s.entries[dataSourceID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", dataSourceID, ErrNotScheduled)
	}
	if e.status.Running && skipIfRunning {
		e.status.Skipped++
		s.mu.Unlock()
		s.logger.Info("Skipping sync, previous still running", zap.String("data_source_id", dataSourceID))
		s.tracer.RecordMetric(observability.MetricScheduledSyncs, 1, map[string]string{"status": "skipped"})
		return nil, errSkipped
	}
	e.status.Running = true
	s.mu.Unlock()

	ctx, span := s.tracer.StartSpan(ctx, observability.SpanScheduledSync,
		observability.WithAttribute(observability.AttrDataSourceID, dataSourceID),
	)
	defer s.tracer.EndSpan(span)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	g, err := s.resyncer.Resync(ctx, dataSourceID)
	duration := time.Since(start)

	status := "success"
	s.mu.Lock()
	// the entry may have been replaced or removed while running
	if cur, ok := s.entries[dataSourceID]; ok && cur == e {
		e.status.Running = false
		e.status.Runs++
		e.status.LastRun = start
		if err != nil {
			e.status.Failures++
			e.status.LastError = err.Error()
		} else {
			e.status.LastError = ""
			e.status.LastVersion = g.Version
		}
	}
	s.mu.Unlock()

	if err != nil {
		status = "failed"
		span.RecordError(err)
		s.logger.Error("Schema sync failed",
			zap.String("data_source_id", dataSourceID),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		s.logger.Info("Schema sync succeeded",
			zap.String("data_source_id", dataSourceID),
			zap.Uint64("version", g.Version),
			zap.Duration("duration", duration))
	}
	s.tracer.RecordMetric(observability.MetricScheduledSyncs, 1, map[string]string{"status": status})
	return g, err
}

func (s *Scheduler) ids() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}
