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
package shuttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/observability"
)

func tableTool(fn func(ctx context.Context, params map[string]interface{}) (*Result, error)) *FuncTool {
	return NewFuncTool("get_table_schema", "Describe one table", NewObjectSchema("",
		map[string]*JSONSchema{
			"table_name": NewStringSchema("table to describe").WithMinLength(1),
			"limit":      NewIntegerSchema("row cap").WithRange(1, 50),
		},
		[]string{"table_name"},
	), fn)
}

func TestExecutor_Execute(t *testing.T) {
	tool := tableTool(func(_ context.Context, params map[string]interface{}) (*Result, error) {
		return Success("described " + params["table_name"].(string)), nil
	})
	exec := NewExecutor(NewRegistry(tool))

	result, err := exec.Execute(context.Background(), "get_table_schema", map[string]interface{}{"table_name": "orders"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "described orders", result.Text())
	assert.GreaterOrEqual(t, result.ExecutionTimeMs, int64(0))
}

func TestExecutor_UnknownTool(t *testing.T) {
	exec := NewExecutor(NewRegistry(tableTool(nil)))

	result, err := exec.Execute(context.Background(), "drop_everything", nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, CodeUnknownTool, result.Error.Code)
	assert.Contains(t, result.Error.Suggestion, "get_table_schema")
}

func TestExecutor_InvalidArguments(t *testing.T) {
	tool := tableTool(nil)
	exec := NewExecutor(NewRegistry(tool))

	tests := []struct {
		name   string
		params map[string]interface{}
		want   string
	}{
		{"missing required", nil, "table_name"},
		{"wrong type", map[string]interface{}{"table_name": 42}, "table_name"},
		{"empty string", map[string]interface{}{"table_name": ""}, "table_name"},
		{"out of range", map[string]interface{}{"table_name": "orders", "limit": float64(500)}, "limit"},
		{"not an integer", map[string]interface{}{"table_name": "orders", "limit": 2.5}, "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := exec.Execute(context.Background(), tool.Name(), tt.params)
			require.NoError(t, err)
			require.False(t, result.Success)
			assert.Equal(t, CodeInvalidArguments, result.Error.Code)
			assert.Contains(t, result.Error.Message, tt.want)
			assert.True(t, result.Error.Retryable)
		})
	}
	assert.Empty(t, tool.Calls(), "tool must not run with invalid arguments")
}

func TestExecutor_IntegerArgumentFromJSON(t *testing.T) {
	tool := tableTool(nil)
	exec := NewExecutor(NewRegistry(tool))

	// JSON decoding yields float64 for every number.
	result, err := exec.Execute(context.Background(), tool.Name(), map[string]interface{}{"table_name": "orders", "limit": float64(5)})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestExecutor_NormalizesParameterNames(t *testing.T) {
	tool := tableTool(nil)
	exec := NewExecutor(NewRegistry(tool))

	result, err := exec.Execute(context.Background(), tool.Name(), map[string]interface{}{"tableName": "orders"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, tool.Calls(), 1)
	assert.Equal(t, "orders", tool.Calls()[0]["table_name"])
}

func TestToLowerUnderscore(t *testing.T) {
	assert.Equal(t, "table_name", toLowerUnderscore("tableName"))
	assert.Equal(t, "table_name", toLowerUnderscore("TableName"))
	assert.Equal(t, "table_name", toLowerUnderscore("table_name"))
	assert.Equal(t, "", toLowerUnderscore(""))
}

func TestExecutor_ToolErrorBecomesResult(t *testing.T) {
	tool := tableTool(func(context.Context, map[string]interface{}) (*Result, error) {
		return nil, errors.New("connection reset")
	})
	exec := NewExecutor(NewRegistry(tool))

	result, err := exec.Execute(context.Background(), tool.Name(), map[string]interface{}{"table_name": "orders"})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, CodeExecutionFailed, result.Error.Code)
	assert.Equal(t, "error [EXECUTION_FAILED]: connection reset", result.Text())
}

func TestExecutor_NilResultIsSuccess(t *testing.T) {
	tool := tableTool(func(context.Context, map[string]interface{}) (*Result, error) { return nil, nil })
	exec := NewExecutor(NewRegistry(tool))

	result, err := exec.Execute(context.Background(), tool.Name(), map[string]interface{}{"table_name": "orders"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Text())
}

func TestExecutor_Timeout(t *testing.T) {
	tool := tableTool(func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	exec := NewExecutor(NewRegistry(tool), WithToolTimeout(20*time.Millisecond))

	result, err := exec.Execute(context.Background(), tool.Name(), map[string]interface{}{"table_name": "orders"})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, CodeTimeout, result.Error.Code)
}

func TestExecutor_CallerCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tool := tableTool(func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	exec := NewExecutor(NewRegistry(tool))

	result, err := exec.Execute(ctx, tool.Name(), map[string]interface{}{"table_name": "orders"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)

	_, err = exec.Execute(ctx, tool.Name(), map[string]interface{}{"table_name": "orders"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_PermissionChecker(t *testing.T) {
	tool := tableTool(nil)
	other := NewFuncTool("sample_rows", "", nil, nil)
	exec := NewExecutor(NewRegistry(tool, other), WithPermissionChecker(NewPermissionChecker(PermissionConfig{
		DisabledTools: []string{"sample_rows"},
	})))

	result, err := exec.Execute(context.Background(), "sample_rows", nil)
	require.NoError(t, err)
	assert.Equal(t, CodeDisabled, result.Error.Code)
	assert.Empty(t, other.Calls())

	result, err = exec.Execute(context.Background(), tool.Name(), map[string]interface{}{"table_name": "orders"})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestPermissionChecker_AllowList(t *testing.T) {
	pc := NewPermissionChecker(PermissionConfig{AllowedTools: []string{"list_entities"}, DisabledTools: []string{"sample_rows"}})
	assert.NoError(t, pc.CheckPermission("list_entities"))
	assert.Error(t, pc.CheckPermission("sample_rows"))
	assert.Error(t, pc.CheckPermission("find_join_path"))
	assert.True(t, pc.IsToolDisabled("sample_rows"))

	var nilChecker *PermissionChecker
	assert.NoError(t, nilChecker.CheckPermission("anything"))
}

func TestInstrumentedExecutor(t *testing.T) {
	tracer := observability.NewMockTracer()
	tool := tableTool(nil)
	exec := NewInstrumentedExecutor(NewExecutor(NewRegistry(tool)), tracer)

	_, err := exec.Execute(context.Background(), tool.Name(), map[string]interface{}{"table_name": "orders"})
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), tool.Name(), map[string]interface{}{})
	require.NoError(t, err)

	spans := tracer.GetSpansByName(observability.SpanToolExecute)
	require.Len(t, spans, 2)
	assert.Equal(t, observability.StatusOK, spans[0].Status.Code)
	assert.Equal(t, observability.StatusError, spans[1].Status.Code)
	code, _ := spans[1].Attribute("tool.error.code")
	assert.Equal(t, CodeInvalidArguments, code)

	assert.Equal(t, 2.0, tracer.MetricTotal(observability.MetricToolCalls))
	assert.Equal(t, 1.0, tracer.MetricTotal(observability.MetricToolErrors))
}
