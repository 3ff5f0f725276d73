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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/weft/pkg/fabric"
)

// fakeBackend serves canned schemas and rows for discovery tests.
type fakeBackend struct {
	resources []fabric.Resource
	schemas   map[string]*fabric.Schema
	// rows per table; SearchColumn filters them by substring on the column.
	rows        map[string][]map[string]interface{}
	delay       time.Duration
	failSchema  map[string]bool
	concurrency int

	mu       sync.Mutex
	searched []string
	inflight int32
	peak     int32
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) ExecuteQuery(ctx context.Context, query string) (*fabric.QueryResult, error) {
	return nil, fmt.Errorf("not supported")
}

func (f *fakeBackend) GetSchema(ctx context.Context, resource string) (*fabric.Schema, error) {
	if f.failSchema[resource] {
		return nil, fmt.Errorf("permission denied for %s", resource)
	}
	s, ok := f.schemas[resource]
	if !ok {
		return nil, fmt.Errorf("no such table: %s", resource)
	}
	return s, nil
}

func (f *fakeBackend) ListResources(ctx context.Context, filters map[string]string) ([]fabric.Resource, error) {
	return f.resources, nil
}

func (f *fakeBackend) SampleRows(ctx context.Context, resource string, limit int) (*fabric.QueryResult, error) {
	return &fabric.QueryResult{Rows: f.rows[resource]}, nil
}

func (f *fakeBackend) SearchColumn(ctx context.Context, resource, column, keyword string, limit int) (*fabric.QueryResult, error) {
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	f.mu.Lock()
	f.searched = append(f.searched, resource+"."+column)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var out []map[string]interface{}
	for _, row := range f.rows[resource] {
		v, ok := row[column].(string)
		if ok && strings.Contains(strings.ToLower(v), strings.ToLower(keyword)) {
			out = append(out, row)
			if len(out) == limit {
				break
			}
		}
	}
	return &fabric.QueryResult{Type: "rows", Rows: out, RowCount: len(out)}, nil
}

func (f *fakeBackend) Ping(ctx context.Context) error { return nil }

func (f *fakeBackend) Capabilities() *fabric.Capabilities {
	c := f.concurrency
	if c == 0 {
		c = 8
	}
	return fabric.NewCapabilities().WithConcurrency(c > 1, c)
}

func (f *fakeBackend) Close() error { return nil }

// staticSource hands out one backend for every data source id.
type staticSource struct {
	backend fabric.ExecutionBackend
	calls   int32
}

func (s *staticSource) Backend(ctx context.Context, id string) (fabric.ExecutionBackend, *fabric.DataSource, error) {
	atomic.AddInt32(&s.calls, 1)
	if id == "missing" {
		return nil, nil, fmt.Errorf("data source not found: %s", id)
	}
	return s.backend, &fabric.DataSource{ID: id, Type: fabric.DBTypeSQLite}, nil
}

func shopBackend() *fakeBackend {
	return &fakeBackend{
		resources: []fabric.Resource{
			{Name: "customers", Type: "table"},
			{Name: "orders", Type: "table", Metadata: map[string]interface{}{"row_estimate": int64(1200)}},
			{Name: "products", Type: "table"},
			{Name: "metrics", Type: "table"},
		},
		schemas: map[string]*fabric.Schema{
			"customers": {Name: "customers", Fields: []fabric.Field{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "name", Type: "TEXT"},
				{Name: "email", Type: "VARCHAR(100)"},
			}},
			"orders": {Name: "orders", Fields: []fabric.Field{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "customer_id", Type: "INTEGER", ForeignKey: &fabric.ForeignKey{ReferencedTable: "customers", ReferencedColumn: "id"}},
				{Name: "product_id", Type: "INTEGER", ForeignKey: &fabric.ForeignKey{ReferencedTable: "products", ReferencedColumn: "id"}},
				{Name: "note", Type: "TEXT"},
			}},
			"products": {Name: "products", Fields: []fabric.Field{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "title", Type: "TEXT"},
			}},
			"metrics": {Name: "metrics", Fields: []fabric.Field{
				{Name: "value", Type: "DOUBLE"},
			}},
		},
		rows: map[string][]map[string]interface{}{
			"customers": {
				{"id": 1, "name": "Apple Inc", "email": "ir@apple.com"},
				{"id": 2, "name": "Banana Co", "email": "hi@banana.io"},
				{"id": 3, "name": "Pineapple Ltd", "email": "apple-fan@pine.io"},
			},
			"orders": {
				{"id": 1, "note": "apple crate"},
			},
			"products": {
				{"id": 1, "title": "Cherry"},
			},
		},
	}
}
