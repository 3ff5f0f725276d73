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
package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/skills"
	"github.com/teradata-labs/weft/pkg/types"
)

func TestNewNode_Validation(t *testing.T) {
	_, err := NewNode(NodeConfig{Composition: sqlComposition()})
	assert.Error(t, err)

	_, err = NewNode(NodeConfig{Provider: script(text("x"))})
	assert.Error(t, err)

	comp := sqlComposition()
	comp.Role = "planner"
	_, err = NewNode(NodeConfig{Provider: script(text("x")), Composition: comp})
	assert.ErrorContains(t, err, "unknown agent role")

	n := newTestNode(t, script(text("x")), sqlComposition(lookupTool(nil)), testConfig())
	assert.Equal(t, skills.RoleSQL, n.Role())
	assert.Equal(t, []string{"clarify_intent", "submit_sql", "lookup"}, n.ToolNames())
}

func TestRun_SubmitSQL(t *testing.T) {
	p := script(
		calls(call("t1", "lookup", map[string]interface{}{"table": "orders"})),
		calls(call("t2", "submit_sql", map[string]interface{}{
			"sql":         "SELECT SUM(amount) FROM orders",
			"explanation": "Total order amount.",
		})),
	)
	n := newTestNode(t, p, sqlComposition(lookupTool(nil)), testConfig())
	st := newState(userMessage("统计订单总额"))

	out, err := n.Run(context.Background(), st, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFinal, out.Kind)
	assert.Equal(t, skills.RoleSQL, out.Role)
	assert.Equal(t, "SELECT SUM(amount) FROM orders", out.SQL)
	assert.Contains(t, out.Text, "```sql\nSELECT SUM(amount) FROM orders\n```")
	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, 30, out.Usage.TotalTokens)

	assert.Equal(t, "SELECT SUM(amount) FROM orders", st.SQL())
	assert.Equal(t, out.Text, st.Explanation())
	assert.Nil(t, st.Err())

	turn := st.TurnMessages()
	require.Len(t, turn, 4)
	assert.Equal(t, types.RoleAssistant, turn[0].Role)
	assert.Equal(t, "sql_agent", turn[0].AgentRole)
	assert.Equal(t, types.RoleTool, turn[1].Role)
	assert.Equal(t, "t1", turn[1].ToolUseID)
	assert.Equal(t, "orders: ok", turn[1].Content)
	assert.False(t, turn[1].IsError)
	assert.Equal(t, "t2", turn[3].ToolUseID)
	assert.Equal(t, submittedResult, turn[3].Content)

	// The second model call sees the system prompt and the first tool result.
	seen := p.Seen(1)
	require.Len(t, seen, 4)
	assert.Equal(t, types.RoleSystem, seen[0].Role)
	assert.Equal(t, "You write SQL for shop.", seen[0].Content)
	assert.Equal(t, "orders: ok", seen[3].Content)
}

func TestRun_PlainTextIsFinal(t *testing.T) {
	n := newTestNode(t, script(text("  The users table has id and name.  ")), sqlComposition(), testConfig())
	st := newState(userMessage("users 表有哪些字段？"))

	out, err := n.Run(context.Background(), st, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinal, out.Kind)
	assert.Equal(t, "The users table has id and name.", out.Text)
	assert.Equal(t, out.Text, st.Explanation())
	assert.Empty(t, st.SQL())
	assert.Equal(t, 1, out.Iterations)
}

func TestRun_ClarificationSuspends(t *testing.T) {
	p := script(calls(
		call("t1", "lookup", map[string]interface{}{"table": "orders"}),
		call("t2", "clarify_intent", map[string]interface{}{
			"question": "Which time range?",
			"options":  []interface{}{"last month", "last year"},
		}),
		call("t3", "lookup", map[string]interface{}{"table": "customers"}),
	))
	n := newTestNode(t, p, sqlComposition(lookupTool(nil)), testConfig())
	st := newState(userMessage("show sales"))

	out, err := n.Run(context.Background(), st, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeClarification, out.Kind)
	require.NotNil(t, out.Clarification)
	assert.Equal(t, "Which time range?", out.Clarification.Question)
	assert.Equal(t, "Which time range?\n- last month\n- last year", out.Text)
	assert.Equal(t, "sql_agent", st.Next())
	assert.False(t, st.HasFinal())
	assert.Equal(t, 1, p.Calls())

	turn := st.TurnMessages()
	require.Len(t, turn, 4)
	assert.Equal(t, "orders: ok", turn[1].Content)
	assert.Equal(t, awaitingUserResult, turn[2].Content)
	assert.Equal(t, "t3", turn[3].ToolUseID)
	assert.Equal(t, skippedResult, turn[3].Content)
	assert.True(t, turn[3].IsError)
}

func TestRun_IterationLimit(t *testing.T) {
	p := script(calls(call("t", "lookup", map[string]interface{}{"table": "orders"})))
	conf := testConfig()
	conf.MaxIterations = 3
	n := newTestNode(t, p, sqlComposition(lookupTool(nil)), conf)
	st := newState(userMessage("loop forever"))

	out, err := n.Run(context.Background(), st, nil)
	assert.Nil(t, out)
	require.ErrorIs(t, err, ErrIterationLimitExceeded)
	assert.Equal(t, 3, p.Calls())
	require.NotNil(t, st.Err())
	assert.Equal(t, session.ErrorIterationLimit, st.Err().Kind)
	assert.False(t, st.HasFinal())
}

func TestRun_ProviderFailureAfterRetries(t *testing.T) {
	p := script(failing(errUpstream))
	conf := testConfig()
	conf.MaxRetries = 2
	tracer := observability.NewMockTracer()
	n, err := NewNode(NodeConfig{Provider: p, Composition: sqlComposition(), Config: conf, Counter: &TokenCounter{}, Tracer: tracer})
	require.NoError(t, err)
	st := newState(userMessage("hi"))

	_, err = n.Run(context.Background(), st, nil)
	require.ErrorIs(t, err, ErrProviderFailure)
	assert.ErrorContains(t, err, "upstream 500")
	assert.Equal(t, 3, p.Calls())
	assert.Equal(t, session.ErrorProvider, st.Err().Kind)
	assert.Equal(t, float64(2), tracer.MetricTotal(observability.MetricLLMRetries))

	spans := tracer.GetSpansByName(observability.SpanAgentNode)
	require.Len(t, spans, 1)
	assert.Equal(t, observability.StatusError, spans[0].Status.Code)
}

func TestRun_RetrySucceeds(t *testing.T) {
	p := script(failing(errUpstream), text("done"))
	n := newTestNode(t, p, sqlComposition(), testConfig())

	out, err := n.Run(context.Background(), newState(userMessage("hi")), nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out.Text)
	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, 1, out.Iterations)
}

func TestRun_ZeroRetries(t *testing.T) {
	p := script(failing(errUpstream), text("never reached"))
	conf := testConfig()
	conf.MaxRetries = 0
	n := newTestNode(t, p, sqlComposition(), conf)

	_, err := n.Run(context.Background(), newState(userMessage("hi")), nil)
	require.ErrorIs(t, err, ErrProviderFailure)
	assert.Equal(t, 1, p.Calls())
}

func TestRun_ToolErrorsAreFedBack(t *testing.T) {
	p := script(
		calls(
			call("t1", "lookup", map[string]interface{}{}),
			call("t2", "no_such_tool", nil),
		),
		calls(call("t3", "submit_sql", map[string]interface{}{
			"sql":         "DROP TABLE orders",
			"explanation": "drop it",
		})),
		text("I can only run read-only queries."),
	)
	n := newTestNode(t, p, sqlComposition(lookupTool(nil)), testConfig())
	st := newState(userMessage("clean up"))

	out, err := n.Run(context.Background(), st, nil)
	require.NoError(t, err)
	assert.Equal(t, "I can only run read-only queries.", out.Text)
	assert.Equal(t, 3, out.Iterations)
	assert.Empty(t, st.SQL())

	turn := st.TurnMessages()
	require.Len(t, turn, 6)
	assert.True(t, turn[1].IsError)
	assert.Contains(t, turn[1].Content, shuttle.CodeInvalidArguments)
	assert.True(t, turn[2].IsError)
	assert.Contains(t, turn[2].Content, shuttle.CodeUnknownTool)
	assert.True(t, turn[4].IsError)
	assert.Contains(t, turn[4].Content, "BLOCKED")
}

func TestRun_ParallelResultsKeepRequestOrder(t *testing.T) {
	delays := map[string]time.Duration{"slow": 40 * time.Millisecond}
	p := script(
		calls(
			call("a", "lookup", map[string]interface{}{"table": "slow"}),
			call("b", "lookup", map[string]interface{}{"table": "fast"}),
			call("c", "lookup", map[string]interface{}{"table": "faster"}),
		),
		text("ok"),
	)
	n := newTestNode(t, p, sqlComposition(lookupTool(delays)), testConfig())
	st := newState(userMessage("look"))

	_, err := n.Run(context.Background(), st, nil)
	require.NoError(t, err)

	turn := st.TurnMessages()
	require.Len(t, turn, 5)
	assert.Equal(t, []string{"a", "b", "c"}, []string{turn[1].ToolUseID, turn[2].ToolUseID, turn[3].ToolUseID})
	assert.Equal(t, "slow: ok", turn[1].Content)
}

func TestRun_SequentialTools(t *testing.T) {
	p := script(
		calls(
			call("a", "lookup", map[string]interface{}{"table": "x"}),
			call("b", "lookup", map[string]interface{}{"table": "y"}),
		),
		text("ok"),
	)
	conf := testConfig()
	conf.ParallelTools = false
	n := newTestNode(t, p, sqlComposition(lookupTool(nil)), conf)
	st := newState(userMessage("look"))

	_, err := n.Run(context.Background(), st, nil)
	require.NoError(t, err)
	turn := st.TurnMessages()
	assert.Equal(t, "x: ok", turn[1].Content)
	assert.Equal(t, "y: ok", turn[2].Content)
}

func TestRun_Cancellation(t *testing.T) {
	started := make(chan struct{})
	p := script(calls(call("w", "wait", nil)))
	n := newTestNode(t, p, sqlComposition(blockingTool(started)), testConfig())
	st := newState(userMessage("wait"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := n.Run(ctx, st, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, session.ErrorCancelled, st.Err().Kind)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := script(text("x"))
	n := newTestNode(t, p, sqlComposition(), testConfig())
	st := newState(userMessage("hi"))

	_, err := n.Run(ctx, st, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.Calls())
	assert.Equal(t, session.ErrorCancelled, st.Err().Kind)
}

func TestRun_FailedStateSkipsModel(t *testing.T) {
	p := script(text("x"))
	n := newTestNode(t, p, sqlComposition(), testConfig())
	st := newState(userMessage("hi"))
	st.Fail(session.ErrorProvider, "classifier unavailable")

	out, err := n.Run(context.Background(), st, nil)
	require.Error(t, err)
	assert.Nil(t, out)
	var te *session.TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, session.ErrorProvider, te.Kind)
	assert.Equal(t, 0, p.Calls())
}

func TestRun_TruncatesLargeToolResults(t *testing.T) {
	p := script(calls(call("d", "dump", nil)), text("ok"))
	conf := testConfig()
	conf.MaxToolResultTokens = 10
	n := newTestNode(t, p, sqlComposition(bigTool(500)), conf)
	st := newState(userMessage("dump"))

	_, err := n.Run(context.Background(), st, nil)
	require.NoError(t, err)
	result := st.TurnMessages()[1].Content
	assert.True(t, strings.HasPrefix(result, "abcdefghij"))
	assert.Contains(t, result, "[truncated 460 bytes")
}

func TestRun_ProgressEvents(t *testing.T) {
	p := script(
		calls(call("t1", "lookup", map[string]interface{}{"table": "orders"})),
		calls(call("t2", "submit_sql", map[string]interface{}{"sql": "SELECT 1", "explanation": "one"})),
	)
	n := newTestNode(t, p, sqlComposition(lookupTool(nil)), testConfig())

	var mu sync.Mutex
	var stages []types.ExecutionStage
	_, err := n.Run(context.Background(), newState(userMessage("one")), func(ev types.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "conv-1", ev.ConversationID)
		assert.Equal(t, "sql_agent", ev.Role)
		stages = append(stages, ev.Stage)
	})
	require.NoError(t, err)
	assert.Equal(t, []types.ExecutionStage{
		types.StageModelCall, types.StageToolCall, types.StageToolResult,
		types.StageModelCall, types.StageToolCall, types.StageFinal,
	}, stages)
}

func TestRun_StateAvailableToTools(t *testing.T) {
	var seen *session.State
	inspect := shuttle.NewFuncTool("inspect_state", "reads the turn state", shuttle.NewObjectSchema("", nil, nil),
		func(ctx context.Context, _ map[string]interface{}) (*shuttle.Result, error) {
			seen, _ = session.FromContext(ctx)
			return shuttle.Success("ok"), nil
		})
	p := script(calls(call("p", "inspect_state", nil)), text("ok"))
	n := newTestNode(t, p, sqlComposition(inspect), testConfig())
	st := newState(userMessage("inspect"))

	_, err := n.Run(context.Background(), st, nil)
	require.NoError(t, err)
	assert.Same(t, st, seen)
}
