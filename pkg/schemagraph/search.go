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
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
)

// Search defaults.
const (
	DefaultLimitPerTable = 5
	DefaultSearchTimeout = 10 * time.Second
	DefaultConcurrency   = 4
)

// SearchOptions bounds a cross-entity search.
type SearchOptions struct {
	LimitPerTable int
	// Timeout bounds the whole search. Tables not finished in time are
	// left out and the result is marked partial.
	Timeout     time.Duration
	Concurrency int
	Tracer      observability.Tracer
	Logger      *zap.Logger
}

// EntityMatch holds the rows of one table column that contain the keyword.
type EntityMatch struct {
	Table   string                   `json:"table"`
	Column  string                   `json:"column"`
	Matches []map[string]interface{} `json:"matches"`
}

// SearchResult is the outcome of CrossEntitySearch.
type SearchResult struct {
	Keyword        string        `json:"keyword"`
	Matches        []EntityMatch `json:"matches"`
	TablesSearched int           `json:"tables_searched"`
	TimedOut       bool          `json:"timed_out,omitempty"`
}

// CrossEntitySearch scans every text column of every table for keyword,
// case-insensitively. At most LimitPerTable rows are returned per table and
// tables without matches are omitted. Tables are scanned concurrently; the
// result keeps table name order.
func CrossEntitySearch(ctx context.Context, g *Graph, backend fabric.ExecutionBackend, keyword string, opts SearchOptions) (*SearchResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("keyword is required")
	}
	if opts.LimitPerTable <= 0 {
		opts.LimitPerTable = DefaultLimitPerTable
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSearchTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if c := backend.Capabilities().ConcurrencyLimit(); c < opts.Concurrency {
		opts.Concurrency = c
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, span := tracer.StartSpan(ctx, observability.SpanEntitySearch,
		observability.WithAttribute(observability.AttrDataSourceID, g.DataSourceID))
	defer tracer.EndSpan(span)

	searchCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	names := g.TableNames()
	perTable := make([][]EntityMatch, len(names))
	done := make([]bool, len(names))

	eg := new(errgroup.Group)
	eg.SetLimit(opts.Concurrency)
	for i, name := range names {
		cols := g.tables[name].TextColumns()
		if len(cols) == 0 {
			done[i] = true
			continue
		}
		eg.Go(func() error {
			if searchCtx.Err() != nil {
				return nil
			}
			matches, complete := searchTable(searchCtx, backend, name, cols, keyword, opts.LimitPerTable, logger)
			perTable[i] = matches
			done[i] = complete
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &SearchResult{Keyword: keyword, Matches: []EntityMatch{}}
	for i := range names {
		if done[i] {
			result.TablesSearched++
		}
		result.Matches = append(result.Matches, perTable[i]...)
	}
	if errors.Is(searchCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		tracer.RecordMetric(observability.MetricSearchTimeouts, 1, map[string]string{
			observability.AttrDataSourceID: g.DataSourceID,
		})
		logger.Warn("cross entity search timed out",
			zap.String("data_source_id", g.DataSourceID),
			zap.Int("tables_searched", result.TablesSearched),
			zap.Int("tables_total", len(names)))
	}
	span.SetAttribute("search.matches", len(result.Matches))
	return result, nil
}

// searchTable shares the per-table row budget across the table's text
// columns. complete is false when the context ended before every column ran.
func searchTable(ctx context.Context, backend fabric.ExecutionBackend, table string, cols []string, keyword string, limit int, logger *zap.Logger) ([]EntityMatch, bool) {
	var out []EntityMatch
	remaining := limit
	for _, col := range cols {
		if remaining <= 0 {
			break
		}
		if ctx.Err() != nil {
			return out, false
		}
		res, err := backend.SearchColumn(ctx, table, col, keyword, remaining)
		if err != nil {
			if ctx.Err() != nil {
				return out, false
			}
			logger.Debug("column search failed",
				zap.String("table", table),
				zap.String("column", col),
				zap.Error(err))
			continue
		}
		if res == nil || len(res.Rows) == 0 {
			continue
		}
		rows := res.Rows
		if len(rows) > remaining {
			rows = rows[:remaining]
		}
		remaining -= len(rows)
		out = append(out, EntityMatch{Table: table, Column: col, Matches: rows})
	}
	return out, true
}
