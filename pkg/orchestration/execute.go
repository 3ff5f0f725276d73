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
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/schemagraph"
	"github.com/teradata-labs/weft/pkg/shuttle/builtin"
	"github.com/teradata-labs/weft/pkg/storage"
)

// ErrBlockingSafetyIssue is returned by Execute when a query fails the
// safety validator. The concrete error is a *BlockingSafetyIssueError.
var ErrBlockingSafetyIssue = errors.New("query blocked by safety validation")

// ErrInvalidRequest marks requests rejected before any work is done.
var ErrInvalidRequest = errors.New("invalid request")

// ErrConversationConflict is returned when a conversation is continued
// against a different data source than the one it started on.
var ErrConversationConflict = errors.New("conversation bound to another data source")

// BlockingSafetyIssueError carries the report that blocked a query.
type BlockingSafetyIssueError struct {
	Report *fabric.SafetyReport
}

func (e *BlockingSafetyIssueError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBlockingSafetyIssue, strings.Join(e.Report.BlockingIssues, "; "))
}

func (e *BlockingSafetyIssueError) Unwrap() error { return ErrBlockingSafetyIssue }

// QueryError is a query the backend accepted but failed to run, with a
// hint for correcting it when the failure could be classified.
type QueryError struct {
	Err        error
	Suggestion string
}

func (e *QueryError) Error() string { return e.Err.Error() }

func (e *QueryError) Unwrap() error { return e.Err }

func queryFailure(result *fabric.QueryResult, err error) (*fabric.QueryResult, error) {
	if err != nil {
		return nil, &QueryError{Err: err, Suggestion: fabric.SuggestFix(fabric.InferErrorType(err.Error()))}
	}
	return result, nil
}

// ExecuteRequest is a read-only query against a data source. Index names
// the target index on search-engine sources.
type ExecuteRequest struct {
	DataSourceID   string `json:"data_source_id"`
	Query          string `json:"query"`
	Index          string `json:"index,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// Execute runs a submitted query. SQL passes the safety validator first;
// search DSL passes the structural check. Every attempt is audited.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*fabric.QueryResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	}
	backend, ds, err := e.backends.Backend(ctx, req.DataSourceID)
	if err != nil {
		return nil, fmt.Errorf("data source %s: %w", req.DataSourceID, err)
	}

	entry := storage.AuditEntry{
		DataSourceID:   ds.ID,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Query:          query,
		Language:       ds.Type.QueryLanguage(),
	}
	start := time.Now()
	result, err := e.execute(ctx, backend, ds, query, req.Index, &entry)
	entry.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.RowCount = result.RowCount
	}
	e.recordAudit(ctx, entry)
	return result, err
}

func (e *Engine) execute(ctx context.Context, backend fabric.ExecutionBackend, ds *fabric.DataSource, query, index string, entry *storage.AuditEntry) (*fabric.QueryResult, error) {
	if ds.Type.IsSearchEngine() {
		report := builtin.ValidateSearchQuery(query)
		if !report.IsValid {
			entry.Issues = strings.Join(report.Errors, "; ")
			e.tracer.RecordMetric(observability.MetricBlockedQueries, 1, map[string]string{
				observability.AttrDBType: string(ds.Type),
			})
			return nil, &BlockingSafetyIssueError{Report: &fabric.SafetyReport{BlockingIssues: report.Errors, Warnings: report.Warnings}}
		}
		entry.Allowed = true
		if index == "" {
			return nil, fmt.Errorf("%w: index is required for search-engine queries", ErrInvalidRequest)
		}
		q, ok := fabric.AsIndexQuerier(backend)
		if !ok {
			return nil, fmt.Errorf("backend %s cannot run index queries", backend.Name())
		}
		return queryFailure(q.ExecuteIndexQuery(ctx, index, query))
	}

	report := e.guardrails(ds).Check(ctx, query)
	if !report.IsSafe {
		entry.Issues = strings.Join(report.BlockingIssues, "; ")
		e.tracer.RecordMetric(observability.MetricBlockedQueries, 1, map[string]string{
			observability.AttrDBType: string(ds.Type),
		})
		e.logger.Warn("Query blocked",
			zap.String("data_source_id", ds.ID),
			zap.Strings("issues", report.BlockingIssues),
		)
		return nil, &BlockingSafetyIssueError{Report: report}
	}
	entry.Allowed = true
	entry.Issues = strings.Join(report.Warnings, "; ")
	return queryFailure(backend.ExecuteQuery(ctx, query))
}

func (e *Engine) recordAudit(ctx context.Context, entry storage.AuditEntry) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Error("Failed to record audit entry", zap.String("data_source_id", entry.DataSourceID), zap.Error(err))
	}
}

// Resync rebuilds the schema graph of a data source and re-indexes its
// tables when a semantic index is configured.
func (e *Engine) Resync(ctx context.Context, dataSourceID string) (*schemagraph.Graph, error) {
	start := time.Now()
	g, err := e.discovery.Resync(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	if e.index != nil {
		if err := e.index.IndexGraph(ctx, g); err != nil {
			return g, fmt.Errorf("index %s: %w", dataSourceID, err)
		}
	}
	e.logger.Info("Schema resynced",
		zap.String("data_source_id", dataSourceID),
		zap.Uint64("version", g.Version),
		zap.Duration("duration", time.Since(start)),
	)
	return g, nil
}

// InvalidateDataSource drops everything cached for a data source after
// its record changed or was removed.
func (e *Engine) InvalidateDataSource(dataSourceID string) error {
	e.discovery.Cache().Invalidate(dataSourceID)
	var errs []error
	if err := e.backends.Evict(dataSourceID); err != nil {
		errs = append(errs, err)
	}
	if e.index != nil {
		if err := e.index.Drop(dataSourceID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discovery returns the schema-graph service.
func (e *Engine) Discovery() *schemagraph.Service { return e.discovery }
