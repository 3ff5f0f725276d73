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
// Package orchestration runs conversation turns: it loads history, lets the
// supervisor pick an agent role, runs the agent node and persists the result.
// It also executes submitted queries read-only and resyncs schema graphs.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/schemagraph"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/shuttle/builtin"
	"github.com/teradata-labs/weft/pkg/skills"
	"github.com/teradata-labs/weft/pkg/storage"
	"github.com/teradata-labs/weft/pkg/supervisor"
	"github.com/teradata-labs/weft/pkg/types"
)

// BackendSource hands out the open backend of a data source.
// *fabric.Pool implements it.
type BackendSource interface {
	Backend(ctx context.Context, id string) (fabric.ExecutionBackend, *fabric.DataSource, error)
	Evict(id string) error
}

// SemanticIndex is the optional table embedding index.
// *semantic.Index implements it.
type SemanticIndex interface {
	builtin.RelevanceIndex
	Indexed(dataSourceID string) bool
	IndexGraph(ctx context.Context, g *schemagraph.Graph) error
	Drop(dataSourceID string) error
}

// Config configures an Engine.
type Config struct {
	Conversations storage.ConversationStore
	Backends      BackendSource
	Discovery     *schemagraph.Service
	Supervisor    *supervisor.Supervisor
	Provider      types.LLMProvider

	// Audit is optional; executed queries are recorded when set.
	Audit storage.AuditLog

	// Index is optional; find_relevant_tables is offered when set.
	Index SemanticIndex
	TopK  int

	Agent               agent.Config
	Permissions         *shuttle.PermissionChecker
	SearchLimitPerTable int

	// TokenCounter defaults to agent.GetTokenCounter().
	TokenCounter *agent.TokenCounter

	// Location is the user's timezone for get_current_time. Default time.Local.
	Location *time.Location
	Now      func() time.Time

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Engine coordinates a turn across supervisor, agent node, tools and storage.
type Engine struct {
	conversations storage.ConversationStore
	audit         storage.AuditLog
	backends      BackendSource
	discovery     *schemagraph.Service
	index         SemanticIndex
	supervisor    *supervisor.Supervisor
	provider      types.LLMProvider

	topK                int
	agentConfig         agent.Config
	counter             *agent.TokenCounter
	permissions         *shuttle.PermissionChecker
	searchLimitPerTable int
	location            *time.Location
	now                 func() time.Time

	tracer observability.Tracer
	logger *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Conversations == nil:
		return nil, errors.New("orchestration: conversation store is required")
	case cfg.Backends == nil:
		return nil, errors.New("orchestration: backend source is required")
	case cfg.Discovery == nil:
		return nil, errors.New("orchestration: discovery service is required")
	case cfg.Provider == nil:
		return nil, errors.New("orchestration: model provider is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Supervisor == nil {
		cfg.Supervisor = supervisor.New(supervisor.Config{Tracer: cfg.Tracer, Logger: cfg.Logger})
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Engine{
		conversations:       cfg.Conversations,
		audit:               cfg.Audit,
		backends:            cfg.Backends,
		discovery:           cfg.Discovery,
		index:               cfg.Index,
		supervisor:          cfg.Supervisor,
		provider:            cfg.Provider,
		topK:                cfg.TopK,
		agentConfig:         cfg.Agent,
		counter:             cfg.TokenCounter,
		permissions:         cfg.Permissions,
		searchLimitPerTable: cfg.SearchLimitPerTable,
		location:            cfg.Location,
		now:                 cfg.Now,
		tracer:              cfg.Tracer,
		logger:              cfg.Logger,
	}, nil
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	DataSourceID   string `json:"data_source_id"`
	Message        string `json:"message"`
}

// TurnStatus is how a turn ended.
type TurnStatus string

const (
	StatusFinal         TurnStatus = "final"
	StatusClarification TurnStatus = "clarification"
	StatusFailed        TurnStatus = "failed"
)

// TurnResult is the outcome of RunTurn.
type TurnResult struct {
	ConversationID string                 `json:"conversation_id"`
	Status         TurnStatus             `json:"status"`
	Role           skills.Role            `json:"role"`
	Label          supervisor.Label       `json:"label,omitempty"`
	Resumed        bool                   `json:"resumed,omitempty"`
	Text           string                 `json:"text"`
	SQL            string                 `json:"sql,omitempty"`
	Query          string                 `json:"query,omitempty"`
	Index          string                 `json:"index,omitempty"`
	Language       string                 `json:"language,omitempty"`
	Clarification  *builtin.Clarification `json:"clarification,omitempty"`
	Plan           []session.PlanStep     `json:"plan,omitempty"`
	Error          *session.TurnError     `json:"error,omitempty"`
	Iterations     int                    `json:"iterations"`
	Usage          types.Usage            `json:"usage"`
}

// RunTurn handles one user message end to end. Turn-fatal failures return
// both a result with Status failed and the error.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest, progress types.ProgressCallback) (*TurnResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidRequest)
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanTurn,
		observability.WithAttribute(observability.AttrConversationID, req.ConversationID),
		observability.WithAttribute(observability.AttrDataSourceID, req.DataSourceID),
	)
	defer e.tracer.EndSpan(span)
	logger := e.logger.With(
		zap.String("conversation_id", req.ConversationID),
		zap.String("data_source_id", req.DataSourceID),
	)

	backend, ds, err := e.backends.Backend(ctx, req.DataSourceID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("data source %s: %w", req.DataSourceID, err)
	}

	conv, err := e.conversations.EnsureConversation(ctx, storage.Conversation{
		ID:           req.ConversationID,
		UserID:       req.UserID,
		DataSourceID: ds.ID,
	})
	if err != nil {
		return nil, err
	}
	if conv.DataSourceID != "" && conv.DataSourceID != ds.ID {
		return nil, fmt.Errorf("conversation %s belongs to data source %s: %w", conv.ID, conv.DataSourceID, ErrConversationConflict)
	}
	history, err := e.conversations.History(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	st := session.New(session.Info{
		ConversationID: conv.ID,
		UserID:         req.UserID,
		DataSourceID:   ds.ID,
		DBType:         ds.Type,
	}, history)
	st.SetNext(conv.Next)
	st.Append(types.Message{Role: types.RoleUser, Content: message, Timestamp: e.now()})

	decision, err := e.supervisor.Route(ctx, st)
	if err != nil {
		return e.fail(ctx, st, conv.ID, session.ErrorCancelled, err)
	}
	span.SetAttribute(observability.AttrRole, string(decision.Role))
	if progress != nil {
		progress(types.ProgressEvent{
			ConversationID: conv.ID,
			Stage:          types.StageClassified,
			Role:           string(decision.Role),
			Message:        string(decision.Label),
			Timestamp:      e.now(),
		})
	}
	logger.Info("Turn routed",
		zap.String("role", string(decision.Role)),
		zap.String("label", string(decision.Label)),
		zap.Bool("resumed", decision.Resumed),
		zap.Bool("fallback", decision.Fallback),
	)

	node, err := e.newNode(decision.Role, ds, backend)
	if err != nil {
		return e.fail(ctx, st, conv.ID, session.ErrorInternal, err)
	}

	start := time.Now()
	out, runErr := node.Run(ctx, st, progress)
	logger.Info("Turn finished",
		zap.Duration("duration", time.Since(start)),
		zap.Bool("ok", runErr == nil),
	)
	if runErr != nil {
		kind := session.ErrorInternal
		if te := st.Err(); te != nil {
			kind = te.Kind
		}
		res, err := e.fail(ctx, st, conv.ID, kind, runErr)
		if res != nil {
			res.Role = decision.Role
			res.Label = decision.Label
		}
		return res, err
	}

	next := ""
	status := StatusFinal
	if out.Kind == agent.OutcomeClarification {
		next = string(decision.Role)
		status = StatusClarification
	}
	if err := e.persist(ctx, conv.ID, st.TurnMessages(), next); err != nil {
		return nil, err
	}

	query, index := st.Query()
	res := &TurnResult{
		ConversationID: conv.ID,
		Status:         status,
		Role:           decision.Role,
		Label:          decision.Label,
		Resumed:        decision.Resumed,
		Text:           out.Text,
		SQL:            st.SQL(),
		Query:          query,
		Index:          index,
		Clarification:  out.Clarification,
		Plan:           st.Plan(),
		Iterations:     out.Iterations,
		Usage:          out.Usage,
	}
	if res.SQL != "" || res.Query != "" {
		res.Language = ds.Type.QueryLanguage()
	}
	e.recordOutcome(status)
	return res, nil
}

func (e *Engine) newNode(role skills.Role, ds *fabric.DataSource, backend fabric.ExecutionBackend) (*agent.Node, error) {
	env := &builtin.Env{
		DataSourceID:        ds.ID,
		DBType:              ds.Type,
		Discovery:           e.discovery,
		Backend:             backend,
		TopK:                e.topK,
		Guardrails:          e.guardrails(ds),
		SearchLimitPerTable: e.searchLimitPerTable,
		Now:                 e.now,
		Location:            e.location,
	}
	hasIndex := e.index != nil && e.index.Indexed(ds.ID)
	if hasIndex {
		env.Index = e.index
	}
	comp, err := skills.ComposeRole(skills.Context{
		DataSourceID:   ds.ID,
		DataSourceName: ds.Name,
		Description:    ds.Description,
		DBType:         ds.Type,
		Role:           role,
		HasIndex:       hasIndex,
		Now:            e.now().In(e.location),
	}, env, e.permissions)
	if err != nil {
		return nil, err
	}
	return agent.NewNode(agent.NodeConfig{
		Role:        role,
		Provider:    e.provider,
		Composition: comp,
		Permissions: e.permissions,
		Tracer:      e.tracer,
		Logger:      e.logger,
		Config:      e.agentConfig,
		Counter:     e.counter,
	})
}

// guardrails builds the safety validator for a data source, using row
// estimates from the cached graph when there is one.
func (e *Engine) guardrails(ds *fabric.DataSource) *fabric.GuardrailEngine {
	opts := fabric.SafetyOptions{AllowWrite: ds.AllowWrite}
	if g, ok := e.discovery.Cache().Peek(ds.ID); ok {
		opts.RowEstimate = func(table string) (int64, bool) {
			t, err := g.Describe(table)
			if err != nil || t.RowEstimate <= 0 {
				return 0, false
			}
			return t.RowEstimate, true
		}
	}
	return fabric.NewGuardrailEngine(fabric.NewSQLSafetyValidator(opts))
}

// fail persists what is well formed of a failed turn and builds the failed
// result.
func (e *Engine) fail(ctx context.Context, st *session.State, conversationID string, kind session.ErrorKind, cause error) (*TurnResult, error) {
	te := st.Fail(kind, cause.Error())
	// Persist even when the turn was cancelled.
	if err := e.persist(context.WithoutCancel(ctx), conversationID, wellFormed(st.TurnMessages()), ""); err != nil {
		e.logger.Error("Failed to persist failed turn", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	e.recordOutcome(StatusFailed)
	return &TurnResult{
		ConversationID: conversationID,
		Status:         StatusFailed,
		Text:           failureText(te),
		Error:          te,
		Plan:           st.Plan(),
	}, cause
}

func (e *Engine) persist(ctx context.Context, conversationID string, msgs []types.Message, next string) error {
	if err := e.conversations.Append(ctx, conversationID, msgs...); err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}
	if err := e.conversations.SetNext(ctx, conversationID, next); err != nil {
		return fmt.Errorf("persist routing hint: %w", err)
	}
	return nil
}

func (e *Engine) recordOutcome(status TurnStatus) {
	e.tracer.RecordMetric(observability.MetricTurns, 1, nil)
	e.tracer.RecordMetric(observability.MetricTurnOutcome, 1, map[string]string{"outcome": string(status)})
}

// wellFormed drops a trailing assistant tool-call message whose calls did
// not all get results, and everything after it. Providers reject a history
// with unanswered tool calls.
func wellFormed(msgs []types.Message) []types.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != types.RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		answered := make(map[string]bool)
		for _, r := range msgs[i+1:] {
			if r.Role == types.RoleTool {
				answered[r.ToolUseID] = true
			}
		}
		for _, c := range m.ToolCalls {
			if !answered[c.ID] {
				return msgs[:i]
			}
		}
		return msgs
	}
	return msgs
}

func failureText(te *session.TurnError) string {
	switch te.Kind {
	case session.ErrorIterationLimit:
		return "I could not finish this request within the step limit. Try narrowing the question."
	case session.ErrorProvider:
		return "The language model is unavailable right now. Please try again later."
	case session.ErrorCancelled:
		return "The request was cancelled."
	}
	return "The request failed: " + te.Message
}
