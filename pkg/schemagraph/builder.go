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
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
)

// Builder introspects a backend into a Graph.
type Builder struct {
	// Concurrency bounds parallel GetSchema calls. Defaults to 4, further
	// capped by the backend's own concurrency limit.
	Concurrency int
	Tracer      observability.Tracer
	Logger      *zap.Logger
}

// Build lists resources, fetches every schema and collects foreign keys.
// A table whose schema cannot be read is kept without columns.
func (b *Builder) Build(ctx context.Context, dataSourceID string, backend fabric.ExecutionBackend) (*Graph, error) {
	tracer := b.Tracer
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, span := tracer.StartSpan(ctx, observability.SpanGraphBuild,
		observability.WithAttribute(observability.AttrDataSourceID, dataSourceID))
	defer tracer.EndSpan(span)
	start := time.Now()

	resources, err := backend.ListResources(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	limit := b.Concurrency
	if limit <= 0 {
		limit = 4
	}
	if c := backend.Capabilities().ConcurrencyLimit(); c < limit {
		limit = c
	}

	tables := make([]Table, len(resources))
	fks := make([][]Edge, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, r := range resources {
		tables[i] = Table{Name: r.Name, Type: r.Type, Description: r.Description, RowEstimate: rowEstimate(r.Metadata)}
		g.Go(func() error {
			schema, err := backend.GetSchema(gctx, r.Name)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("schema introspection failed",
					zap.String("data_source_id", dataSourceID),
					zap.String("table", r.Name),
					zap.Error(err))
				tracer.RecordMetric(observability.MetricIntrospectErrors, 1, map[string]string{
					observability.AttrDataSourceID: dataSourceID,
				})
				return nil
			}
			tables[i].Columns, fks[i] = convertSchema(r.Name, schema)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("schema introspection cancelled: %w", err)
	}

	// tables sorted by name, then edges in column order
	order := make([]int, len(tables))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return tables[order[a]].Name < tables[order[b]].Name })
	var edges []Edge
	for _, i := range order {
		edges = append(edges, fks[i]...)
	}

	graph := NewGraph(dataSourceID, tables, edges)
	span.SetAttribute("graph.tables", graph.Len())
	span.SetAttribute("graph.edges", len(graph.edges))
	logger.Info("schema graph built",
		zap.String("data_source_id", dataSourceID),
		zap.Int("tables", graph.Len()),
		zap.Int("edges", len(graph.edges)),
		zap.Duration("duration", time.Since(start)))
	return graph, nil
}

func convertSchema(table string, s *fabric.Schema) ([]Column, []Edge) {
	if s == nil {
		return nil, nil
	}
	cols := make([]Column, 0, len(s.Fields))
	var edges []Edge
	for _, f := range s.Fields {
		c := Column{
			Name:        f.Name,
			Type:        f.Type,
			Nullable:    f.Nullable,
			PrimaryKey:  f.PrimaryKey,
			Description: f.Description,
		}
		if fk := f.ForeignKey; fk != nil && fk.ReferencedTable != "" {
			c.References = &ColumnRef{Table: fk.ReferencedTable, Column: fk.ReferencedColumn}
			edges = append(edges, Edge{
				FromTable:  table,
				FromColumn: f.Name,
				ToTable:    fk.ReferencedTable,
				ToColumn:   fk.ReferencedColumn,
			})
		}
		cols = append(cols, c)
	}
	return cols, edges
}

func rowEstimate(md map[string]interface{}) int64 {
	switch v := md["row_estimate"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
