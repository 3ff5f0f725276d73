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
package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/types"
)

func newState() *State {
	return New(Info{ConversationID: "c1", UserID: "u1", DataSourceID: "shop", DBType: fabric.DBTypeSQLite},
		[]types.Message{{Role: types.RoleUser, Content: "earlier question"}})
}

func TestState_Info(t *testing.T) {
	st := newState()
	assert.Equal(t, "c1", st.ConversationID())
	assert.Equal(t, "u1", st.UserID())
	assert.Equal(t, "shop", st.DataSourceID())
	assert.Equal(t, fabric.DBTypeSQLite, st.DBType())
}

func TestState_MessagesAndTurnMessages(t *testing.T) {
	st := newState()
	st.Append(types.Message{Role: types.RoleUser, Content: "count orders"})
	st.Append(types.Message{Role: types.RoleAssistant, Content: "42"})

	all := st.Messages()
	require.Len(t, all, 3)
	turn := st.TurnMessages()
	require.Len(t, turn, 2)
	assert.NotEmpty(t, turn[0].ID)
	assert.False(t, turn[0].Timestamp.IsZero())
	assert.Equal(t, "count orders", st.LastUserMessage())

	all[0].Content = "mutated"
	assert.Equal(t, "earlier question", st.Messages()[0].Content)
}

func TestState_FinalOutputSetOnce(t *testing.T) {
	st := newState()
	require.NoError(t, st.SetSQL("SELECT 1", "```sql\nSELECT 1\n```"))
	assert.True(t, st.HasFinal())
	assert.ErrorIs(t, st.SetSQL("SELECT 2", ""), ErrAlreadySet)
	assert.ErrorIs(t, st.SetQuery("{}", "logs", ""), ErrAlreadySet)
	assert.ErrorIs(t, st.SetExplanation("x"), ErrAlreadySet)
	assert.Equal(t, "SELECT 1", st.SQL())

	st2 := newState()
	require.NoError(t, st2.SetQuery(`{"query":{"match_all":{}}}`, "logs", "explained"))
	q, idx := st2.Query()
	assert.Equal(t, "logs", idx)
	assert.Contains(t, q, "match_all")
	assert.Equal(t, "explained", st2.Explanation())
}

func TestPlanStepMachine(t *testing.T) {
	tests := []struct {
		from, to PlanStatus
		ok       bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusInProgress, false},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusInProgress.Terminal())
}

func TestState_Plan(t *testing.T) {
	st := newState()
	id1, err := st.AddPlanStep("find sales tables", AssigneeMetadataAgent, "")
	require.NoError(t, err)
	id2, err := st.AddPlanStep("write the aggregate", AssigneeSQLAgent, "sum by month")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{id1, id2})

	_, err = st.AddPlanStep("x", "janitor", "")
	assert.Error(t, err)
	_, err = st.AddPlanStep("", AssigneeSQLAgent, "")
	assert.Error(t, err)

	require.NoError(t, st.UpdatePlanStep(1, StatusInProgress))
	require.NoError(t, st.UpdatePlanStep(1, StatusCompleted))
	assert.ErrorIs(t, st.UpdatePlanStep(1, StatusFailed), ErrInvalidTransition)
	assert.ErrorIs(t, st.UpdatePlanStep(2, StatusCompleted), ErrInvalidTransition)
	assert.ErrorIs(t, st.UpdatePlanStep(9, StatusInProgress), ErrUnknownStep)

	plan := st.Plan()
	require.Len(t, plan, 2)
	assert.Equal(t, "find sales tables", plan[0].Task)
	assert.Equal(t, StatusCompleted, plan[0].Status)
	assert.Equal(t, StatusPending, plan[1].Status)
}

func TestState_IntermediateResultsAndNext(t *testing.T) {
	st := newState()
	st.RecordResult("step-1", []string{"orders", "customers"})
	st.RecordResult("step-2", 42)
	results := st.IntermediateResults()
	assert.Len(t, results, 2)
	delete(results, "step-1")
	assert.Len(t, st.IntermediateResults(), 2)

	st.SetNext("sql_agent")
	assert.Equal(t, "sql_agent", st.Next())
}

func TestState_FailKeepsFirst(t *testing.T) {
	st := newState()
	assert.Nil(t, st.Err())
	first := st.Fail(ErrorProvider, "overloaded")
	second := st.Fail(ErrorIterationLimit, "too many")
	assert.Same(t, first, second)
	assert.Equal(t, ErrorProvider, st.Err().Kind)
	assert.Equal(t, "ProviderFailure: overloaded", st.Err().Error())
}

func TestState_ConcurrentAccess(t *testing.T) {
	st := newState()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Append(types.Message{Role: types.RoleTool, Content: "r"})
			st.RecordResult("k", 1)
			_ = st.Messages()
		}()
	}
	wg.Wait()
	assert.Len(t, st.TurnMessages(), 20)
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	_, ok := FromContext(ctx)
	assert.False(t, ok)
	assert.Equal(t, "", ConversationIDFromContext(ctx))

	st := newState()
	ctx = WithState(ctx, st)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, st, got)
	assert.Equal(t, "c1", ConversationIDFromContext(ctx))
	assert.Equal(t, ctx, WithState(ctx, nil))
}
