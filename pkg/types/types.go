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
// Package types contains the message records and the model provider
// contract shared by pkg/agent, pkg/llm and pkg/storage. It exists to break
// import cycles between those packages.
package types

import (
	"context"
	"time"

	"github.com/teradata-labs/weft/pkg/shuttle"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned call identifier
	ID string `json:"id"`

	// Name is the tool name
	Name string `json:"name"`

	// Input holds the decoded arguments
	Input map[string]interface{} `json:"input,omitempty"`
}

// Message is one role-tagged record of the conversation history.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tools
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolUseID links a tool-result message to the call it answers
	ToolUseID string `json:"tool_use_id,omitempty"`

	// ToolName is the tool that produced a tool-result message
	ToolName string `json:"tool_name,omitempty"`

	// IsError marks failed tool results
	IsError bool `json:"is_error,omitempty"`

	// AgentRole is the agent node that produced the message, if any
	AgentRole string `json:"agent_role,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count,omitempty"`
}

// Usage is the token usage of one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// LLMResponse is either final text or a set of tool calls.
type LLMResponse struct {
	// Content is the text part of the reply
	Content string

	// ToolCalls is non-empty when the model wants tools executed
	ToolCalls []ToolCall

	// StopReason is the provider's stop reason
	StopReason string

	// Usage tracks token consumption
	Usage Usage
}

// HasToolCalls reports whether the model requested any tools.
func (r *LLMResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// LLMProvider is the model contract: given a message history whose first
// entry may be the system prompt, and a declared tool set, return either a
// final message or tool-invocation requests.
type LLMProvider interface {
	// Chat sends a conversation to the LLM and returns the response
	Chat(ctx context.Context, messages []Message, tools []shuttle.Tool) (*LLMResponse, error)

	// Name returns the provider name
	Name() string

	// Model returns the model identifier
	Model() string
}

// SplitSystem separates leading system messages from the rest of the
// history. Providers whose APIs take the system prompt out of band use it.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	i := 0
	for ; i < len(messages) && messages[i].Role == RoleSystem; i++ {
		if system != "" {
			system += "\n\n"
		}
		system += messages[i].Content
	}
	return system, messages[i:]
}

// ExecutionStage is the kind of a progress event.
type ExecutionStage string

const (
	StageClassified    ExecutionStage = "classified"
	StageModelCall     ExecutionStage = "model_call"
	StageToolCall      ExecutionStage = "tool_call"
	StageToolResult    ExecutionStage = "tool_result"
	StageClarification ExecutionStage = "clarification"
	StageFinal         ExecutionStage = "final"
	StageFailed        ExecutionStage = "failed"
)

// ProgressEvent represents a progress update during a turn.
type ProgressEvent struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	Stage          ExecutionStage `json:"stage"`
	Role           string         `json:"role,omitempty"`
	Iteration      int            `json:"iteration,omitempty"`
	Message        string         `json:"message,omitempty"`
	ToolName       string         `json:"tool_name,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ProgressCallback is called when agent execution progress occurs.
// Callbacks of one turn are serialised and must not block.
type ProgressCallback func(event ProgressEvent)
