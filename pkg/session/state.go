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
// Package session holds the per-turn conversation state. A State is owned by
// exactly one in-flight turn; tools reach it through the context, never
// through globals.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/types"
)

var (
	// ErrInvalidTransition is returned for plan status changes the step
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid plan step transition")

	// ErrAlreadySet is returned when a final output is written twice in one turn.
	ErrAlreadySet = errors.New("final output already set")

	// ErrUnknownStep is returned for plan step ids that do not exist.
	ErrUnknownStep = errors.New("unknown plan step")
)

// PlanStatus is the lifecycle state of a plan step.
type PlanStatus string

const (
	StatusPending    PlanStatus = "pending"
	StatusInProgress PlanStatus = "in_progress"
	StatusCompleted  PlanStatus = "completed"
	StatusFailed     PlanStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s PlanStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal step transition.
func CanTransition(from, to PlanStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Assignees a plan step may name.
const (
	AssigneeSQLAgent      = "sql_agent"
	AssigneeSearchAgent   = "search_agent"
	AssigneeMetadataAgent = "metadata_agent"
	AssigneeDataAnalyst   = "data_analyst"
)

// Assignees lists every valid plan step assignee.
var Assignees = []string{AssigneeSQLAgent, AssigneeSearchAgent, AssigneeMetadataAgent, AssigneeDataAnalyst}

// PlanStep is one step of a collaborative plan.
type PlanStep struct {
	ID          int        `json:"id"`
	Task        string     `json:"task"`
	Status      PlanStatus `json:"status"`
	AssignedTo  string     `json:"assigned_to"`
	Description string     `json:"description,omitempty"`
}

// ErrorKind classifies turn-fatal failures.
type ErrorKind string

const (
	ErrorIterationLimit ErrorKind = "IterationLimitExceeded"
	ErrorProvider       ErrorKind = "ProviderFailure"
	ErrorCancelled      ErrorKind = "Cancelled"
	ErrorInternal       ErrorKind = "Internal"
)

// TurnError is the unrecoverable failure recorded on a State.
type TurnError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Info is the immutable context of a turn.
type Info struct {
	ConversationID string
	UserID         string
	DataSourceID   string
	DBType         fabric.DBType
}

// State is the conversation state threaded through supervisor, agent node
// and tools. Tool calls from one model response may run concurrently, so
// every accessor is guarded.
type State struct {
	info Info

	mu           sync.RWMutex
	messages     []types.Message
	turnStart    int
	sql          string
	query        string
	index        string
	explanation  string
	finalSet     bool
	plan         []PlanStep
	intermediate map[string]interface{}
	next         string
	err          *TurnError
}

// New creates the state for one turn. history is the persisted conversation
// so far; messages appended afterwards are reported by TurnMessages.
func New(info Info, history []types.Message) *State {
	msgs := make([]types.Message, len(history))
	copy(msgs, history)
	return &State{
		info:         info,
		messages:     msgs,
		turnStart:    len(msgs),
		intermediate: make(map[string]interface{}),
	}
}

// Info returns the immutable turn context.
func (s *State) Info() Info { return s.info }

// ConversationID returns the conversation the turn belongs to.
func (s *State) ConversationID() string { return s.info.ConversationID }

// UserID returns the requesting user.
func (s *State) UserID() string { return s.info.UserID }

// DataSourceID returns the active data source.
func (s *State) DataSourceID() string { return s.info.DataSourceID }

// DBType returns the active data source type.
func (s *State) DBType() fabric.DBType { return s.info.DBType }

// Append adds messages to the history, stamping ids and timestamps.
func (s *State) Append(msgs ...types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		s.messages = append(s.messages, m)
	}
}

// Messages returns a copy of the full history.
func (s *State) Messages() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// TurnMessages returns the messages appended during this turn.
func (s *State) TurnMessages() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Message, len(s.messages)-s.turnStart)
	copy(out, s.messages[s.turnStart:])
	return out
}

// LastUserMessage returns the most recent user message content.
func (s *State) LastUserMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == types.RoleUser {
			return s.messages[i].Content
		}
	}
	return ""
}

// SetSQL records the turn's final SQL answer.
func (s *State) SetSQL(sql, explanation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalSet {
		return ErrAlreadySet
	}
	s.sql, s.explanation, s.finalSet = sql, explanation, true
	return nil
}

// SetQuery records the turn's final search-language answer.
func (s *State) SetQuery(query, index, explanation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalSet {
		return ErrAlreadySet
	}
	s.query, s.index, s.explanation, s.finalSet = query, index, explanation, true
	return nil
}

// SetExplanation records a plain-text final answer.
func (s *State) SetExplanation(explanation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalSet {
		return ErrAlreadySet
	}
	s.explanation, s.finalSet = explanation, true
	return nil
}

// SQL returns the submitted SQL, if any.
func (s *State) SQL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sql
}

// Query returns the submitted search query and its target index, if any.
func (s *State) Query() (query, index string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query, s.index
}

// Explanation returns the user-facing explanation.
func (s *State) Explanation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.explanation
}

// HasFinal reports whether a final output was recorded.
func (s *State) HasFinal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalSet
}

// AddPlanStep appends a pending step and returns its id.
func (s *State) AddPlanStep(task, assignedTo, description string) (int, error) {
	if task == "" {
		return 0, fmt.Errorf("plan step task is required")
	}
	if !validAssignee(assignedTo) {
		return 0, fmt.Errorf("unknown assignee %q (valid: %v)", assignedTo, Assignees)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	step := PlanStep{
		ID:          len(s.plan) + 1,
		Task:        task,
		Status:      StatusPending,
		AssignedTo:  assignedTo,
		Description: description,
	}
	s.plan = append(s.plan, step)
	return step.ID, nil
}

// UpdatePlanStep moves a step to a new status.
func (s *State) UpdatePlanStep(id int, status PlanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > len(s.plan) {
		return fmt.Errorf("%w: %d", ErrUnknownStep, id)
	}
	step := &s.plan[id-1]
	if !CanTransition(step.Status, status) {
		return fmt.Errorf("%w: step %d %s -> %s", ErrInvalidTransition, id, step.Status, status)
	}
	step.Status = status
	return nil
}

// Plan returns a copy of the plan in insertion order.
func (s *State) Plan() []PlanStep {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PlanStep, len(s.plan))
	copy(out, s.plan)
	return out
}

// RecordResult stores an intermediate result under key. Results are never
// removed within a turn; recording the same key again replaces the value.
func (s *State) RecordResult(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intermediate[key] = value
}

// IntermediateResults returns a copy of the recorded results.
func (s *State) IntermediateResults() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.intermediate))
	for k, v := range s.intermediate {
		out[k] = v
	}
	return out
}

// SetNext stores the routing hint for the following turn or step.
func (s *State) SetNext(next string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = next
}

// Next returns the routing hint.
func (s *State) Next() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next
}

// Fail records an unrecoverable failure. Only the first failure is kept.
func (s *State) Fail(kind ErrorKind, message string) *TurnError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = &TurnError{Kind: kind, Message: message}
	}
	return s.err
}

// Err returns the recorded failure, or nil.
func (s *State) Err() *TurnError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func validAssignee(a string) bool {
	for _, v := range Assignees {
		if v == a {
			return true
		}
	}
	return false
}
