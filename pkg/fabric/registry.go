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
	"fmt"
	"sort"
	"sync"
)

// BackendFactory opens a backend for a data source.
type BackendFactory func(ctx context.Context, ds *DataSource) (ExecutionBackend, error)

// Registry maps data source types to backend factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[DBType]BackendFactory
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[DBType]BackendFactory),
	}
}

// Register registers a factory for a type, replacing any previous one.
func (r *Registry) Register(t DBType, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = factory
}

// Get retrieves a backend factory by type.
func (r *Registry) Get(t DBType) (BackendFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[t]
	return factory, ok
}

// Open validates ds and creates a backend with the registered factory.
func (r *Registry) Open(ctx context.Context, ds *DataSource) (ExecutionBackend, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	factory, ok := r.Get(ds.Type)
	if !ok {
		return nil, fmt.Errorf("backend not registered: %s", ds.Type)
	}
	return factory(ctx, ds)
}

// List returns all registered types in sorted order.
func (r *Registry) List() []DBType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]DBType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Unregister removes a factory.
func (r *Registry) Unregister(t DBType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, t)
}
