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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/shuttle/builtin"
	"github.com/teradata-labs/weft/pkg/skills"
	"github.com/teradata-labs/weft/pkg/types"
)

func TestMain(m *testing.M) {
	// tiktoken fetches its encoding over HTTP on first use.
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

type step func(messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error)

// scriptedProvider replays one step per model call and repeats the last
// step once the script runs out.
type scriptedProvider struct {
	mu    sync.Mutex
	steps []step
	calls int
	seen  [][]types.Message
}

func script(steps ...step) *scriptedProvider {
	return &scriptedProvider{steps: steps}
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	i := p.calls
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	p.calls++
	snapshot := make([]types.Message, len(messages))
	copy(snapshot, messages)
	p.seen = append(p.seen, snapshot)
	s := p.steps[i]
	p.mu.Unlock()
	return s(messages, tools)
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) Seen(i int) []types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[i]
}

func text(s string) step {
	return func([]types.Message, []shuttle.Tool) (*types.LLMResponse, error) {
		return &types.LLMResponse{Content: s, StopReason: "end_turn", Usage: types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}, nil
	}
}

func calls(tc ...types.ToolCall) step {
	return func([]types.Message, []shuttle.Tool) (*types.LLMResponse, error) {
		return &types.LLMResponse{ToolCalls: tc, StopReason: "tool_use", Usage: types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}, nil
	}
}

func failing(err error) step {
	return func([]types.Message, []shuttle.Tool) (*types.LLMResponse, error) {
		return nil, err
	}
}

func call(id, name string, input map[string]interface{}) types.ToolCall {
	return types.ToolCall{ID: id, Name: name, Input: input}
}

// lookupTool answers with "<table>: ok" after an optional per-table delay.
func lookupTool(delays map[string]time.Duration) shuttle.Tool {
	schema := shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
		"table": shuttle.NewStringSchema("table name"),
	}, []string{"table"})
	return shuttle.NewFuncTool("lookup", "Look up a table", schema, func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
		table, _ := params["table"].(string)
		if d := delays[table]; d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return shuttle.Success(fmt.Sprintf("%s: ok", table)), nil
	})
}

func blockingTool(started chan<- struct{}) shuttle.Tool {
	return shuttle.NewFuncTool("wait", "Blocks until cancelled", shuttle.NewObjectSchema("", nil, nil),
		func(ctx context.Context, _ map[string]interface{}) (*shuttle.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
}

func bigTool(size int) shuttle.Tool {
	return shuttle.NewFuncTool("dump", "Returns a large result", shuttle.NewObjectSchema("", nil, nil),
		func(context.Context, map[string]interface{}) (*shuttle.Result, error) {
			b := make([]byte, size)
			for i := range b {
				b[i] = 'a' + byte(i%26)
			}
			return shuttle.Success(string(b)), nil
		})
}

func sqlComposition(extra ...shuttle.Tool) *skills.Composition {
	env := &builtin.Env{
		DataSourceID: "shop",
		DBType:       fabric.DBTypeSQLite,
		Guardrails:   fabric.NewGuardrailEngine(fabric.NewSQLSafetyValidator(fabric.SafetyOptions{})),
	}
	tools := append([]shuttle.Tool{
		builtin.NewClarifyIntentTool(env),
		builtin.NewSubmitSQLTool(env),
	}, extra...)
	return &skills.Composition{
		Role:   skills.RoleSQL,
		Skills: []skills.Kind{skills.CoreAssistant},
		Prompt: "You write SQL for shop.",
		Tools:  tools,
	}
}

func testConfig() Config {
	return Config{
		MaxIterations:       5,
		MaxRetries:          1,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          2 * time.Millisecond,
		MaxToolResultTokens: 4000,
		ParallelTools:       true,
		ToolConcurrency:     4,
		ToolTimeout:         5 * time.Second,
	}
}

func newTestNode(t *testing.T, p types.LLMProvider, comp *skills.Composition, conf Config) *Node {
	t.Helper()
	n, err := NewNode(NodeConfig{
		Provider:    p,
		Composition: comp,
		Config:      conf,
		Counter:     &TokenCounter{},
	})
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	return n
}

func newState(history ...types.Message) *session.State {
	return session.New(session.Info{ConversationID: "conv-1", UserID: "u1", DataSourceID: "shop", DBType: fabric.DBTypeSQLite}, history)
}

func userMessage(s string) types.Message {
	return types.Message{Role: types.RoleUser, Content: s}
}

var errUpstream = errors.New("upstream 500")
