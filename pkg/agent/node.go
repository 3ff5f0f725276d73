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
// Package agent runs one agent node: a bounded loop of model calls and tool
// executions that ends in a final answer, a clarification or a failure.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/shuttle/builtin"
	"github.com/teradata-labs/weft/pkg/skills"
	"github.com/teradata-labs/weft/pkg/types"
)

var (
	// ErrIterationLimitExceeded is returned when the node reaches its
	// iteration ceiling without a final answer or clarification.
	ErrIterationLimitExceeded = errors.New("iteration limit exceeded")

	// ErrProviderFailure is returned when the model call keeps failing after
	// all retries.
	ErrProviderFailure = errors.New("model provider failure")
)

const (
	awaitingUserResult = "awaiting user response"
	submittedResult    = "submitted"
	skippedResult      = "not executed: an earlier call in this response ended the step"
)

// OutcomeKind is how a node run ended.
type OutcomeKind string

const (
	OutcomeFinal         OutcomeKind = "final"
	OutcomeClarification OutcomeKind = "clarification"
)

// Outcome is the successful result of a node run.
type Outcome struct {
	Kind OutcomeKind
	Role skills.Role

	// Text is what the user sees: the explanation of a final answer or the
	// rendered clarification question.
	Text string

	SQL   string
	Query string
	Index string

	Clarification *builtin.Clarification

	Iterations int
	Usage      types.Usage
}

// NodeConfig configures a Node.
type NodeConfig struct {
	Role        skills.Role
	Provider    types.LLMProvider
	Composition *skills.Composition
	Permissions *shuttle.PermissionChecker
	Tracer      observability.Tracer
	Logger      *zap.Logger
	Config      Config

	// Counter defaults to GetTokenCounter().
	Counter *TokenCounter
}

// Node is one agent role bound to a model, a prompt and a tool set.
type Node struct {
	role     skills.Role
	provider types.LLMProvider
	prompt   string
	tools    []shuttle.Tool
	invoker  shuttle.Invoker
	tracer   observability.Tracer
	logger   *zap.Logger
	config   Config
	counter  *TokenCounter
}

// NewNode builds a node from a skill composition.
func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.Provider == nil {
		return nil, errors.New("agent node requires a model provider")
	}
	if cfg.Composition == nil {
		return nil, errors.New("agent node requires a skill composition")
	}
	role := cfg.Role
	if role == "" {
		role = cfg.Composition.Role
	}
	if !role.Valid() {
		return nil, fmt.Errorf("unknown agent role %q", role)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	counter := cfg.Counter
	if counter == nil {
		counter = GetTokenCounter()
	}
	conf := cfg.Config.withDefaults()

	exec := shuttle.NewExecutor(cfg.Composition.Registry(),
		shuttle.WithPermissionChecker(cfg.Permissions),
		shuttle.WithToolTimeout(conf.ToolTimeout),
		shuttle.WithLogger(logger),
	)

	return &Node{
		role:     role,
		provider: cfg.Provider,
		prompt:   cfg.Composition.Prompt,
		tools:    cfg.Composition.Tools,
		invoker:  shuttle.NewInstrumentedExecutor(exec, tracer),
		tracer:   tracer,
		logger:   logger.With(zap.String("role", string(role))),
		config:   conf,
		counter:  counter,
	}, nil
}

// Role returns the node's role.
func (n *Node) Role() skills.Role { return n.role }

// ToolNames returns the names of the tools offered to the model.
func (n *Node) ToolNames() []string {
	names := make([]string, len(n.tools))
	for i, t := range n.tools {
		names[i] = t.Name()
	}
	return names
}

// Run drives the loop until the model submits an answer, asks for
// clarification or the node fails. Failures are also recorded on st. A
// state that already failed is returned as its error without a model call.
func (n *Node) Run(ctx context.Context, st *session.State, progress types.ProgressCallback) (*Outcome, error) {
	if te := st.Err(); te != nil {
		return nil, te
	}
	ctx = session.WithState(ctx, st)
	ctx, span := n.tracer.StartSpan(ctx, observability.SpanAgentNode,
		observability.WithAttribute(observability.AttrRole, string(n.role)),
		observability.WithAttribute(observability.AttrConversationID, st.ConversationID()),
		observability.WithAttribute(observability.AttrDataSourceID, st.DataSourceID()),
	)
	defer n.tracer.EndSpan(span)

	logger := n.logger.With(zap.String("conversation_id", st.ConversationID()))
	r := &run{node: n, st: st, progress: progress, out: &Outcome{Role: n.role}}

	defer func() {
		span.SetAttribute(observability.AttrIteration, r.out.Iterations)
		n.tracer.RecordMetric(observability.MetricAgentIterations, float64(r.out.Iterations), map[string]string{
			observability.AttrRole: string(n.role),
		})
	}()

	fail := func(kind session.ErrorKind, err error) (*Outcome, error) {
		st.Fail(kind, err.Error())
		span.RecordError(err)
		r.emit(types.StageFailed, "", err.Error())
		logger.Warn("Agent node failed",
			zap.String("kind", string(kind)),
			zap.Int("iterations", r.out.Iterations),
			zap.Error(err),
		)
		return nil, err
	}

	for iter := 1; iter <= n.config.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return fail(session.ErrorCancelled, err)
		}
		r.out.Iterations = iter

		messages := make([]types.Message, 0, len(st.Messages())+1)
		messages = append(messages, types.Message{Role: types.RoleSystem, Content: n.prompt})
		messages = append(messages, st.Messages()...)

		logger.Debug("Calling model",
			zap.Int("iteration", iter),
			zap.Int("prompt_tokens_estimate", n.counter.EstimateMessagesTokens(messages)),
		)
		r.emit(types.StageModelCall, "", "")

		resp, err := n.chatWithRetry(ctx, messages, n.tools)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(session.ErrorCancelled, ctxErr)
			}
			return fail(session.ErrorProvider, fmt.Errorf("%w: %v", ErrProviderFailure, err))
		}
		addUsage(&r.out.Usage, resp.Usage)

		if !resp.HasToolCalls() {
			text := strings.TrimSpace(resp.Content)
			st.Append(types.Message{
				Role:      types.RoleAssistant,
				Content:   text,
				AgentRole: string(n.role),
				Timestamp: time.Now(),
			})
			if err := st.SetExplanation(text); err != nil {
				return fail(session.ErrorInternal, err)
			}
			r.out.Kind = OutcomeFinal
			r.out.Text = text
			r.emit(types.StageFinal, "", "")
			logger.Info("Agent node answered in text", zap.Int("iterations", iter))
			return r.out, nil
		}

		st.Append(types.Message{
			Role:      types.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			AgentRole: string(n.role),
			Timestamp: time.Now(),
		})

		done, err := r.handleToolCalls(ctx, resp.ToolCalls)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(session.ErrorCancelled, ctxErr)
			}
			return fail(session.ErrorInternal, err)
		}
		if done {
			logger.Info("Agent node finished",
				zap.String("outcome", string(r.out.Kind)),
				zap.Int("iterations", iter),
				zap.Int("total_tokens", r.out.Usage.TotalTokens),
			)
			return r.out, nil
		}
	}

	return fail(session.ErrorIterationLimit,
		fmt.Errorf("%w: no answer after %d model calls", ErrIterationLimitExceeded, n.config.MaxIterations))
}

// run is the mutable state of one Run call.
type run struct {
	node     *Node
	st       *session.State
	progress types.ProgressCallback
	out      *Outcome

	// emitMu serialises progress callbacks from parallel tool calls.
	emitMu sync.Mutex
}

func (r *run) emit(stage types.ExecutionStage, toolName, message string) {
	if r.progress == nil {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.progress(types.ProgressEvent{
		ConversationID: r.st.ConversationID(),
		Stage:          stage,
		Role:           string(r.node.role),
		Iteration:      r.out.Iterations,
		Message:        message,
		ToolName:       toolName,
		Timestamp:      time.Now(),
	})
}

// handleToolCalls executes one model response's tool calls. Ordinary calls
// before the first control call run (possibly in parallel); the control
// call decides whether the step ends; anything after it is skipped. Every
// call gets exactly one tool-result message, in request order.
func (r *run) handleToolCalls(ctx context.Context, calls []types.ToolCall) (bool, error) {
	ctrl := len(calls)
	for i, call := range calls {
		if builtin.Control(call.Name) != builtin.ControlNone {
			ctrl = i
			break
		}
	}

	results, err := r.runOrdinary(ctx, calls[:ctrl])
	if err != nil {
		return false, err
	}
	r.st.Append(results...)
	if ctrl == len(calls) {
		return false, nil
	}

	call := calls[ctrl]
	r.emit(types.StageToolCall, call.Name, "")
	res, err := r.node.invoker.Execute(ctx, call.Name, call.Input)
	if err != nil {
		return false, err
	}
	skipped := r.skipped(calls[ctrl+1:])

	if !res.Success {
		r.st.Append(r.node.toolMessage(call, res))
		r.st.Append(skipped...)
		r.emit(types.StageToolResult, call.Name, res.Text())
		return false, nil
	}

	switch builtin.Control(call.Name) {
	case builtin.ControlClarify:
		clar, ok := res.Data.(*builtin.Clarification)
		if !ok {
			return false, fmt.Errorf("%s returned %T", call.Name, res.Data)
		}
		r.st.Append(r.node.controlMessage(call, awaitingUserResult))
		r.st.Append(skipped...)
		r.st.SetNext(string(r.node.role))
		r.out.Kind = OutcomeClarification
		r.out.Clarification = clar
		r.out.Text = clar.String()
		r.emit(types.StageClarification, call.Name, clar.Question)
		return true, nil

	case builtin.ControlSubmit:
		sub, ok := res.Data.(*builtin.Submission)
		if !ok {
			return false, fmt.Errorf("%s returned %T", call.Name, res.Data)
		}
		if sub.SQL != "" {
			err = r.st.SetSQL(sub.SQL, sub.Explanation)
		} else {
			err = r.st.SetQuery(sub.Query, sub.Index, sub.Explanation)
		}
		if err != nil {
			return false, err
		}
		r.st.Append(r.node.controlMessage(call, submittedResult))
		r.st.Append(skipped...)
		r.out.Kind = OutcomeFinal
		r.out.Text = sub.Explanation
		r.out.SQL = sub.SQL
		r.out.Query = sub.Query
		r.out.Index = sub.Index
		r.emit(types.StageFinal, call.Name, "")
		return true, nil
	}
	return false, fmt.Errorf("unhandled control tool %s", call.Name)
}

func (r *run) runOrdinary(ctx context.Context, calls []types.ToolCall) ([]types.Message, error) {
	msgs := make([]types.Message, len(calls))
	exec := func(ctx context.Context, i int) error {
		call := calls[i]
		r.emit(types.StageToolCall, call.Name, "")
		res, err := r.node.invoker.Execute(ctx, call.Name, call.Input)
		if err != nil {
			return err
		}
		msgs[i] = r.node.toolMessage(call, res)
		r.emit(types.StageToolResult, call.Name, "")
		return nil
	}

	if !r.node.config.ParallelTools || len(calls) < 2 {
		for i := range calls {
			if err := exec(ctx, i); err != nil {
				return nil, err
			}
		}
		return msgs, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.node.config.ToolConcurrency)
	for i := range calls {
		g.Go(func() error { return exec(gctx, i) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *run) skipped(calls []types.ToolCall) []types.Message {
	msgs := make([]types.Message, 0, len(calls))
	for _, call := range calls {
		msgs = append(msgs, types.Message{
			Role:      types.RoleTool,
			Content:   skippedResult,
			ToolUseID: call.ID,
			ToolName:  call.Name,
			IsError:   true,
			AgentRole: string(r.node.role),
			Timestamp: time.Now(),
		})
	}
	return msgs
}

func (n *Node) toolMessage(call types.ToolCall, res *shuttle.Result) types.Message {
	content := n.counter.Truncate(res.Text(), n.config.MaxToolResultTokens)
	return types.Message{
		Role:       types.RoleTool,
		Content:    content,
		ToolUseID:  call.ID,
		ToolName:   call.Name,
		IsError:    !res.Success,
		AgentRole:  string(n.role),
		Timestamp:  time.Now(),
		TokenCount: n.counter.CountTokens(content),
	}
}

func (n *Node) controlMessage(call types.ToolCall, content string) types.Message {
	return types.Message{
		Role:      types.RoleTool,
		Content:   content,
		ToolUseID: call.ID,
		ToolName:  call.Name,
		AgentRole: string(n.role),
		Timestamp: time.Now(),
	}
}

func addUsage(total *types.Usage, u types.Usage) {
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	total.TotalTokens += u.TotalTokens
}
