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
// Package builtin implements every tool the agent nodes expose to the model.
// Tools are built per turn from an Env that binds them to one data source.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/schemagraph"
	"github.com/teradata-labs/weft/pkg/semantic"
	"github.com/teradata-labs/weft/pkg/shuttle"
)

// Discovery is the part of the schema-graph service the tools call.
// *schemagraph.Service implements it.
type Discovery interface {
	ListEntities(ctx context.Context, dataSourceID string) ([]schemagraph.Entity, error)
	DescribeTable(ctx context.Context, dataSourceID, table string) (*schemagraph.Table, error)
	FindJoinPath(ctx context.Context, dataSourceID, startTable, endTable string) ([]string, error)
	GetDatabaseCompass(ctx context.Context, dataSourceID string) ([]schemagraph.Edge, error)
	CrossEntitySearch(ctx context.Context, dataSourceID, keyword string, limitPerTable int) (*schemagraph.SearchResult, error)
}

// RelevanceIndex ranks tables by semantic similarity to a question.
// *semantic.Index implements it.
type RelevanceIndex interface {
	FindRelevantTables(ctx context.Context, dataSourceID, question string, k int) ([]semantic.TableRef, error)
}

// Env binds tools to the active data source of a turn.
type Env struct {
	DataSourceID string
	DBType       fabric.DBType

	Discovery Discovery
	Backend   fabric.ExecutionBackend

	// Index is optional; find_relevant_tables is only offered when set.
	Index RelevanceIndex
	TopK  int

	// Guardrails validates SQL for validate_sql.
	Guardrails *fabric.GuardrailEngine

	// SearchLimitPerTable is the default limit of cross_entity_search.
	SearchLimitPerTable int

	// Now and Location drive get_current_time. Defaults: time.Now, time.Local.
	Now      func() time.Time
	Location *time.Location
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) location() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

// discoveryFailure maps discovery errors to tool error codes. Errors the
// model can react to become failed results; context errors are returned so
// turn cancellation propagates.
func discoveryFailure(err error) (*shuttle.Result, error) {
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	var unknown *schemagraph.UnknownTableError
	switch {
	case errors.As(err, &unknown):
		suggestion := "call list_entities to see the available tables"
		if len(unknown.Suggestions) > 0 {
			suggestion = "did you mean " + strings.Join(unknown.Suggestions, ", ") + "?"
		}
		return shuttle.Failure(shuttle.CodeUnknownTable, err.Error(), suggestion), nil
	case errors.Is(err, schemagraph.ErrUnknownTable):
		return shuttle.Failure(shuttle.CodeUnknownTable, err.Error(), "call list_entities to see the available tables"), nil
	case errors.Is(err, schemagraph.ErrNoPathFound):
		return shuttle.Failure(shuttle.CodeNoPathFound, err.Error(),
			"the tables are not connected by foreign keys; check get_database_compass or use cross_entity_search"), nil
	case errors.Is(err, context.DeadlineExceeded):
		return shuttle.Failure(shuttle.CodeTimeout, err.Error(), "narrow the request and try again"), nil
	default:
		return shuttle.Failure(shuttle.CodeExecutionFailed, err.Error(),
			fabric.SuggestFix(fabric.InferErrorType(err.Error()))), nil
	}
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

func intParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func stringsParam(params map[string]interface{}, key string) []string {
	raw, _ := params[key].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func invalid(format string, args ...interface{}) *shuttle.Result {
	return shuttle.Failure(shuttle.CodeInvalidArguments, fmt.Sprintf(format, args...), "")
}

// tool is the common shape of every builtin tool.
type tool struct {
	name        string
	description string
	schema      *shuttle.JSONSchema
	run         func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error)
}

func (t *tool) Name() string                     { return t.name }
func (t *tool) Description() string              { return t.description }
func (t *tool) InputSchema() *shuttle.JSONSchema { return t.schema }

func (t *tool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	return t.run(ctx, params)
}
