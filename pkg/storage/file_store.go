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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/weft/pkg/fabric"
)

// FileDataSourceStore serves data sources from a YAML file. Reads see the
// file with ${VAR} references expanded; writes keep the references so
// secrets never land in the file. Call Reload after the file changes on
// disk (pkg/config watches it).
type FileDataSourceStore struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	sources map[string]fabric.DataSource

	// writeMu serialises read-modify-write cycles of the file.
	writeMu sync.Mutex
}

// NewFileDataSourceStore loads path. A missing file is an empty store.
func NewFileDataSourceStore(path string, logger *zap.Logger) (*FileDataSourceStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &FileDataSourceStore{path: path, logger: logger, sources: map[string]fabric.DataSource{}}
	if _, err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the backing file.
func (f *FileDataSourceStore) Path() string { return f.path }

// Reload re-reads the file and returns the ids that were added, removed or
// modified, sorted. On error the previous contents stay in effect.
func (f *FileDataSourceStore) Reload() ([]string, error) {
	var loaded []fabric.DataSource
	if _, err := os.Stat(f.path); err == nil {
		loaded, err = fabric.LoadDataSources(f.path)
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", f.path, err)
	}

	next := make(map[string]fabric.DataSource, len(loaded))
	for _, ds := range loaded {
		next[ds.ID] = ds
	}

	f.mu.Lock()
	prev := f.sources
	f.sources = next
	f.mu.Unlock()

	var changed []string
	for id, ds := range next {
		if old, ok := prev[id]; !ok || !reflect.DeepEqual(old, ds) {
			changed = append(changed, id)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	if len(changed) > 0 {
		f.logger.Info("Data sources reloaded",
			zap.String("path", f.path),
			zap.Int("count", len(next)),
			zap.Strings("changed", changed),
		)
	}
	return changed, nil
}

// Get implements DataSourceStore.
func (f *FileDataSourceStore) Get(_ context.Context, id string) (*fabric.DataSource, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ds, ok := f.sources[id]
	if !ok {
		return nil, fmt.Errorf("data source %s: %w", id, ErrNotFound)
	}
	return &ds, nil
}

// List implements DataSourceStore.
func (f *FileDataSourceStore) List(context.Context) ([]fabric.DataSource, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]fabric.DataSource, 0, len(f.sources))
	for _, ds := range f.sources {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put implements DataSourceStore.
func (f *FileDataSourceStore) Put(_ context.Context, ds fabric.DataSource) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	return f.modify(func(raw []fabric.DataSource) ([]fabric.DataSource, error) {
		for i := range raw {
			if raw[i].ID == ds.ID {
				raw[i] = ds
				return raw, nil
			}
		}
		return append(raw, ds), nil
	})
}

// Delete implements DataSourceStore.
func (f *FileDataSourceStore) Delete(_ context.Context, id string) error {
	return f.modify(func(raw []fabric.DataSource) ([]fabric.DataSource, error) {
		for i := range raw {
			if raw[i].ID == id {
				return append(raw[:i], raw[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("data source %s: %w", id, ErrNotFound)
	})
}

// modify edits the unexpanded file contents and reloads.
func (f *FileDataSourceStore) modify(edit func([]fabric.DataSource) ([]fabric.DataSource, error)) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var doc fabric.DataSourcesYAML
	data, err := os.ReadFile(f.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse %s: %w", f.path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	sources, err := edit(doc.DataSources)
	if err != nil {
		return err
	}
	out, err := fabric.MarshalDataSources(sources)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(f.path, out); err != nil {
		return err
	}
	_, err = f.Reload()
	return err
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".datasources-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var (
	_ DataSourceStore         = (*FileDataSourceStore)(nil)
	_ fabric.DataSourceLookup = (*FileDataSourceStore)(nil)
)
