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
	"time"

	"github.com/teradata-labs/weft/pkg/observability"
)

// InstrumentedBackend wraps any ExecutionBackend with spans and error metrics.
// Every backend opened by the orchestration engine is wrapped, so discovery
// tools and final execution share the same instrumentation.
type InstrumentedBackend struct {
	backend      ExecutionBackend
	tracer       observability.Tracer
	dataSourceID string
}

// NewInstrumentedBackend creates a new instrumented execution backend.
func NewInstrumentedBackend(backend ExecutionBackend, tracer observability.Tracer, dataSourceID string) *InstrumentedBackend {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &InstrumentedBackend{
		backend:      backend,
		tracer:       tracer,
		dataSourceID: dataSourceID,
	}
}

// Unwrap returns the wrapped backend.
func (ib *InstrumentedBackend) Unwrap() ExecutionBackend {
	return ib.backend
}

// Name returns the underlying backend name.
func (ib *InstrumentedBackend) Name() string {
	return ib.backend.Name()
}

// ExecuteQuery executes a query with observability instrumentation.
func (ib *InstrumentedBackend) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	preview := query
	if len(preview) > 500 {
		preview = preview[:500] + "..."
	}
	var result *QueryResult
	err := ib.observe(ctx, observability.SpanBackendQuery, "query", func(ctx context.Context, span *observability.Span) error {
		span.SetAttribute("query.preview", preview)
		var err error
		result, err = ib.backend.ExecuteQuery(ctx, query)
		if err == nil {
			span.SetAttribute("result.row_count", result.RowCount)
		}
		return err
	})
	return result, err
}

// GetSchema retrieves schema with instrumentation.
func (ib *InstrumentedBackend) GetSchema(ctx context.Context, resource string) (*Schema, error) {
	var schema *Schema
	err := ib.observe(ctx, observability.SpanBackendSchema, "schema", func(ctx context.Context, span *observability.Span) error {
		span.SetAttribute("resource", resource)
		var err error
		schema, err = ib.backend.GetSchema(ctx, resource)
		return err
	})
	return schema, err
}

// ListResources lists resources with instrumentation.
func (ib *InstrumentedBackend) ListResources(ctx context.Context, filters map[string]string) ([]Resource, error) {
	var resources []Resource
	err := ib.observe(ctx, observability.SpanBackendSchema, "list", func(ctx context.Context, span *observability.Span) error {
		var err error
		resources, err = ib.backend.ListResources(ctx, filters)
		span.SetAttribute("resource.count", len(resources))
		return err
	})
	return resources, err
}

// SampleRows samples with instrumentation.
func (ib *InstrumentedBackend) SampleRows(ctx context.Context, resource string, limit int) (*QueryResult, error) {
	var result *QueryResult
	err := ib.observe(ctx, observability.SpanBackendQuery, "sample", func(ctx context.Context, span *observability.Span) error {
		span.SetAttribute("resource", resource)
		var err error
		result, err = ib.backend.SampleRows(ctx, resource, limit)
		return err
	})
	return result, err
}

// SearchColumn searches with instrumentation.
func (ib *InstrumentedBackend) SearchColumn(ctx context.Context, resource, column, keyword string, limit int) (*QueryResult, error) {
	var result *QueryResult
	err := ib.observe(ctx, observability.SpanBackendQuery, "search", func(ctx context.Context, span *observability.Span) error {
		span.SetAttribute("resource", resource)
		span.SetAttribute("column", column)
		var err error
		result, err = ib.backend.SearchColumn(ctx, resource, column, keyword, limit)
		return err
	})
	return result, err
}

// Ping checks health with instrumentation.
func (ib *InstrumentedBackend) Ping(ctx context.Context) error {
	return ib.observe(ctx, observability.SpanBackendQuery, "ping", func(ctx context.Context, _ *observability.Span) error {
		return ib.backend.Ping(ctx)
	})
}

// Capabilities returns the underlying capabilities.
func (ib *InstrumentedBackend) Capabilities() *Capabilities {
	return ib.backend.Capabilities()
}

// Close closes the underlying backend.
func (ib *InstrumentedBackend) Close() error {
	return ib.backend.Close()
}

func (ib *InstrumentedBackend) observe(ctx context.Context, spanName, operation string, fn func(context.Context, *observability.Span) error) error {
	ctx, span := ib.tracer.StartSpan(ctx, spanName,
		observability.WithSpanKind("backend"),
		observability.WithAttribute(observability.AttrBackendType, ib.backend.Name()),
		observability.WithAttribute(observability.AttrDataSourceID, ib.dataSourceID),
		observability.WithAttribute("operation", operation),
	)
	defer ib.tracer.EndSpan(span)

	start := time.Now()
	err := fn(ctx, span)
	span.SetAttribute("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		span.RecordError(err)
		ib.tracer.RecordMetric(observability.MetricBackendErrors, 1, map[string]string{
			observability.AttrBackendType: ib.backend.Name(),
			"operation":                   operation,
		})
	}
	return err
}

var _ ExecutionBackend = (*InstrumentedBackend)(nil)
