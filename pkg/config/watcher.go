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
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc re-reads the watched file and returns the ids of changed
// records. *storage.FileDataSourceStore.Reload matches it.
type ReloadFunc func() ([]string, error)

// WatcherConfig configures a DataSourceWatcher.
type WatcherConfig struct {
	Path   string
	Reload ReloadFunc

	// OnChange receives the ids of records that changed, were added or
	// were removed.
	OnChange func(ids []string)

	// Debounce collapses bursts of writes. Default 300ms.
	Debounce time.Duration
	Logger   *zap.Logger
}

// DataSourceWatcher reloads the data-source file when it changes on disk.
type DataSourceWatcher struct {
	config  WatcherConfig
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu    sync.Mutex
	timer *time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDataSourceWatcher creates a watcher. Call Start to begin watching.
func NewDataSourceWatcher(cfg WatcherConfig) (*DataSourceWatcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watched path is required")
	}
	if cfg.Reload == nil {
		return nil, fmt.Errorf("reload function is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &DataSourceWatcher{
		config:  cfg,
		watcher: w,
		logger:  cfg.Logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start watches the file's directory; editors and atomic writers replace
// the file instead of writing it in place.
func (w *DataSourceWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.config.Path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.Info("Watching data-source file", zap.String("path", w.config.Path))
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *DataSourceWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		<-w.doneCh
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
	return err
}

func (w *DataSourceWatcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	target := filepath.Clean(w.config.Path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *DataSourceWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.Debounce, w.reload)
}

func (w *DataSourceWatcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}
	ids, err := w.config.Reload()
	if err != nil {
		w.logger.Warn("Data-source file reload failed; keeping previous records",
			zap.String("path", w.config.Path), zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}
	w.logger.Info("Data sources changed", zap.Strings("data_source_ids", ids))
	if w.config.OnChange != nil {
		w.config.OnChange(ids)
	}
}
