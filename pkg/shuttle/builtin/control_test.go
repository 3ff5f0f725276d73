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
package builtin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/shuttle"
)

func TestControl(t *testing.T) {
	assert.Equal(t, ControlClarify, Control(ToolClarifyIntent))
	assert.Equal(t, ControlSubmit, Control(ToolSubmitSQL))
	assert.Equal(t, ControlSubmit, Control(ToolSubmitQuery))
	assert.Equal(t, ControlNone, Control(ToolValidateSQL))
}

func TestClarifyIntent(t *testing.T) {
	env := newEnv(t)
	r := run(t, env, ToolClarifyIntent, map[string]interface{}{
		"question": "Which sales metric do you mean?",
		"options":  []interface{}{"order count", "revenue", " "},
	})
	require.True(t, r.Success)
	c := r.Data.(*Clarification)
	assert.Equal(t, "Which sales metric do you mean?", c.Question)
	assert.Equal(t, []string{"order count", "revenue"}, c.Options)
	assert.Equal(t, "Which sales metric do you mean?\n- order count\n- revenue", r.Text())

	r = run(t, env, ToolClarifyIntent, map[string]interface{}{"options": []interface{}{"a"}})
	assert.Equal(t, shuttle.CodeInvalidArguments, r.Error.Code)
}

func TestEnsureFenced(t *testing.T) {
	const q = "SELECT COUNT(*) FROM orders"
	tests := []struct {
		name        string
		explanation string
		want        string
	}{
		{
			name:        "appends when missing",
			explanation: "Counts all orders.",
			want:        "Counts all orders.\n\n```sql\n" + q + "\n```",
		},
		{
			name:        "keeps matching block",
			explanation: "Counts orders:\n```sql\n" + q + "\n```\nDone.",
			want:        "Counts orders:\n```sql\n" + q + "\n```\nDone.",
		},
		{
			name:        "replaces a stale body",
			explanation: "Counts orders:\n```SQL\nSELECT 1\n```",
			want:        "Counts orders:\n```sql\n" + q + "\n```",
		},
		{
			name:        "retags an untagged block holding the query",
			explanation: "Counts orders:\n```\n" + q + "\n```",
			want:        "Counts orders:\n```sql\n" + q + "\n```",
		},
		{
			name:        "empty explanation",
			explanation: "",
			want:        "```sql\n" + q + "\n```",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnsureFenced(tt.explanation, "sql", q)
			assert.Equal(t, tt.want, got)
			assert.True(t, HasFencedQuery(got, "sql", q))
		})
	}
	assert.False(t, HasFencedQuery("```sql\nSELECT 1\n```", "sql", q))
	assert.False(t, HasFencedQuery("```json\n"+q+"\n```", "sql", q))
}

func TestSubmitSQL(t *testing.T) {
	env := newEnv(t)
	r := run(t, env, ToolSubmitSQL, map[string]interface{}{
		"sql":         "  SELECT name FROM customers LIMIT 10 ",
		"explanation": "Lists customer names.",
	})
	require.True(t, r.Success)
	sub := r.Data.(*Submission)
	assert.Equal(t, "SELECT name FROM customers LIMIT 10", sub.SQL)
	assert.Equal(t, "sql", sub.Language)
	assert.True(t, HasFencedQuery(sub.Explanation, "sql", sub.SQL))
}

func TestSubmitSQL_BlockedStatement(t *testing.T) {
	env := newEnv(t)
	r := run(t, env, ToolSubmitSQL, map[string]interface{}{
		"sql":         "DROP TABLE orders",
		"explanation": "Removes orders.",
	})
	require.False(t, r.Success)
	assert.Equal(t, shuttle.CodeInvalidArguments, r.Error.Code)
	assert.Contains(t, r.Error.Message, "BLOCKED")
}

func TestSubmitSQL_MissingExplanation(t *testing.T) {
	env := newEnv(t)
	r := run(t, env, ToolSubmitSQL, map[string]interface{}{"sql": "SELECT 1"})
	require.False(t, r.Success)
	assert.Equal(t, shuttle.CodeInvalidArguments, r.Error.Code)
}

func TestValidateSQL(t *testing.T) {
	env := newEnv(t)
	r := run(t, env, ToolValidateSQL, map[string]interface{}{"sql": "DELETE FROM orders"})
	require.True(t, r.Success, "validation reports, it does not fail the call")
	report := r.Data.(*fabric.SafetyReport)
	assert.False(t, report.IsSafe)
	assert.NotEmpty(t, report.BlockingIssues)
	assert.Equal(t, false, r.Metadata["is_safe"])

	r = run(t, env, ToolValidateSQL, map[string]interface{}{"sql": "SELECT id FROM orders WHERE amount > 10"})
	require.True(t, r.Success)
	assert.True(t, r.Data.(*fabric.SafetyReport).IsSafe)

	env.Guardrails = nil
	r = run(t, env, ToolValidateSQL, map[string]interface{}{"sql": "SELECT 1"})
	assert.False(t, r.Success)
}

func TestValidateSearchQuery(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		valid  bool
		errSub string
	}{
		{"match", `{"query":{"match":{"message":"timeout"}},"size":20}`, true, ""},
		{"bool", `{"query":{"bool":{"must":[{"term":{"level":"error"}}],"filter":{"range":{"ts":{"gte":"now-1d"}}}}},"size":5}`, true, ""},
		{"aggregation only", `{"size":0,"aggs":{"by_level":{"terms":{"field":"level"}}}}`, true, ""},
		{"not json", `SELECT * FROM logs`, false, "not a JSON object"},
		{"unknown key", `{"qeury":{"match_all":{}}}`, false, `unknown top-level key "qeury"`},
		{"unknown clause", `{"query":{"matches":{"a":"b"}}}`, false, `unknown clause "matches"`},
		{"two clauses", `{"query":{"match":{"a":"b"},"term":{"c":"d"}}}`, false, "exactly one clause"},
		{"bad bool", `{"query":{"bool":{"mustnt":[]}}}`, false, `unknown occurrence "mustnt"`},
		{"nested bad clause", `{"query":{"bool":{"should":[{"nope":{}}]}}}`, false, "query.bool.should[0]"},
		{"size too big", `{"query":{"match_all":{}},"size":50000}`, false, "result window"},
		{"size fractional", `{"query":{"match_all":{}},"size":1.5}`, false, "non-negative integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := ValidateSearchQuery(tt.query)
			assert.Equal(t, tt.valid, report.IsValid, report.Errors)
			if tt.errSub != "" {
				assert.Contains(t, report.Errors[0], tt.errSub)
			}
		})
	}

	report := ValidateSearchQuery(`{"query":{"match_all":{}}}`)
	assert.True(t, report.IsValid)
	assert.Contains(t, report.Warnings, "no size given; the engine returns 10 hits by default")
}

func TestValidateSearchQueryTool_UnknownIndex(t *testing.T) {
	env := newEnv(t)
	r := run(t, env, ToolValidateSearchQuery, map[string]interface{}{
		"query": `{"query":{"match_all":{}},"size":1}`,
		"index": "missing_index",
	})
	require.True(t, r.Success)
	report := r.Data.(*SearchQueryReport)
	assert.False(t, report.IsValid)
}

func TestSubmitQuery(t *testing.T) {
	env := newEnv(t)
	env.DBType = fabric.DBTypeElasticsearch
	query := `{"index":"orders","query":{"match":{"status":"shipped"}},"size":10}`
	r := run(t, env, ToolSubmitQuery, map[string]interface{}{
		"query":       query,
		"explanation": "Finds shipped orders.",
	})
	require.True(t, r.Success, r.Text())
	sub := r.Data.(*Submission)
	assert.Equal(t, "orders", sub.Index)
	assert.Equal(t, "json", sub.Language)
	assert.True(t, HasFencedQuery(sub.Explanation, "json", query))

	r = run(t, env, ToolSubmitQuery, map[string]interface{}{
		"query":       `{"query":{"bogus":{}}}`,
		"explanation": "x",
	})
	require.False(t, r.Success)
	assert.Equal(t, shuttle.CodeInvalidArguments, r.Error.Code)

	r = run(t, env, ToolSubmitQuery, map[string]interface{}{
		"query":       `{"query":{"match_all":{}},"size":1}`,
		"index":       "ordres",
		"explanation": "x",
	})
	require.False(t, r.Success)
	assert.Equal(t, shuttle.CodeUnknownTable, r.Error.Code)
}

func TestGetCurrentTime(t *testing.T) {
	env := newEnv(t)
	r := run(t, env, ToolGetCurrentTime, nil)
	require.True(t, r.Success)
	out := r.Data.(map[string]interface{})
	assert.Equal(t, "2026-03-18T15:04:05Z", out["now"])
	assert.Equal(t, "Wednesday", out["weekday"])

	r = run(t, env, ToolGetCurrentTime, map[string]interface{}{"timezone": "Asia/Shanghai", "phrase": "去年"})
	require.True(t, r.Success)
	out = r.Data.(map[string]interface{})
	assert.Equal(t, "2026-03-18T23:04:05+08:00", out["now"])
	assert.Equal(t, map[string]string{"phrase": "去年", "start": "2025-01-01", "end": "2026-01-01"}, out["range"])

	r = run(t, env, ToolGetCurrentTime, map[string]interface{}{"timezone": "Mars/Olympus"})
	assert.Equal(t, shuttle.CodeInvalidArguments, r.Error.Code)

	r = run(t, env, ToolGetCurrentTime, map[string]interface{}{"phrase": "the day after the war"})
	assert.Equal(t, shuttle.CodeInvalidArguments, r.Error.Code)
}

func TestResolveRelative(t *testing.T) {
	now := time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC) // a Wednesday
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		phrase     string
		start, end time.Time
	}{
		{"today", day(2026, 3, 18), day(2026, 3, 19)},
		{"昨天", day(2026, 3, 17), day(2026, 3, 18)},
		{"this week", day(2026, 3, 16), day(2026, 3, 23)},
		{"上周", day(2026, 3, 9), day(2026, 3, 16)},
		{"Last Month", day(2026, 2, 1), day(2026, 3, 1)},
		{"本月", day(2026, 3, 1), day(2026, 4, 1)},
		{"this year", day(2026, 1, 1), day(2027, 1, 1)},
		{"last 7 days", day(2026, 3, 12), day(2026, 3, 19)},
		{"最近30天", day(2026, 2, 17), day(2026, 3, 19)},
	}
	for _, tt := range tests {
		r, ok := ResolveRelative(tt.phrase, now)
		require.True(t, ok, tt.phrase)
		assert.Equal(t, tt.start, r.Start, tt.phrase)
		assert.Equal(t, tt.end, r.End, tt.phrase)
	}
	_, ok := ResolveRelative("last 0 days", now)
	assert.False(t, ok)
}

func TestPlanTools(t *testing.T) {
	env := newEnv(t)
	ctx, st := withState(fabric.DBTypeSQLite)

	r := runCtx(t, ctx, env, ToolCreatePlan, map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{"task": "find sales tables", "assigned_to": "metadata_agent"},
			map[string]interface{}{"task": "sum revenue by month", "assigned_to": "sql_agent", "description": "2025 only"},
		},
	})
	require.True(t, r.Success, r.Text())
	require.Len(t, st.Plan(), 2)

	r = runCtx(t, ctx, env, ToolCreatePlan, map[string]interface{}{
		"steps": []interface{}{map[string]interface{}{"task": "x", "assigned_to": "janitor"}},
	})
	assert.Equal(t, shuttle.CodeInvalidArguments, r.Error.Code)

	r = runCtx(t, ctx, env, ToolUpdatePlanStep, map[string]interface{}{"step_id": float64(1), "status": "in_progress"})
	require.True(t, r.Success)
	r = runCtx(t, ctx, env, ToolUpdatePlanStep, map[string]interface{}{"step_id": float64(1), "status": "completed"})
	require.True(t, r.Success)
	assert.Equal(t, session.StatusCompleted, st.Plan()[0].Status)

	r = runCtx(t, ctx, env, ToolUpdatePlanStep, map[string]interface{}{"step_id": float64(1), "status": "failed"})
	require.False(t, r.Success)
	assert.Contains(t, r.Error.Message, "invalid plan step transition")

	r = runCtx(t, ctx, env, ToolUpdatePlanStep, map[string]interface{}{"step_id": float64(7), "status": "in_progress"})
	require.False(t, r.Success)

	r = runCtx(t, ctx, env, ToolRecordResult, map[string]interface{}{"key": "step-1", "value": `["orders","customers"]`})
	require.True(t, r.Success)
	r = runCtx(t, ctx, env, ToolRecordResult, map[string]interface{}{"key": "note", "value": "plain text"})
	require.True(t, r.Success)
	results := st.IntermediateResults()
	assert.Equal(t, []interface{}{"orders", "customers"}, results["step-1"])
	assert.Equal(t, "plain text", results["note"])
}

func TestPlanTools_NoState(t *testing.T) {
	env := newEnv(t)
	r := run(t, env, ToolRecordResult, map[string]interface{}{"key": "k", "value": "v"})
	require.False(t, r.Success)
	assert.Equal(t, shuttle.CodeExecutionFailed, r.Error.Code)
}
