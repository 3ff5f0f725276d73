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
// Package storage persists conversations, their messages, data-source records
// and the audit log of executed queries.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is the persisted header of a conversation.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	DataSourceID string    `json:"data_source_id"`
	Next         string    `json:"next,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConversationStore persists conversations and their ordered messages.
type ConversationStore interface {
	// EnsureConversation creates the conversation if it does not exist and
	// returns the stored record.
	EnsureConversation(ctx context.Context, conv Conversation) (*Conversation, error)
	Conversation(ctx context.Context, id string) (*Conversation, error)

	// Append stores messages after the existing ones, in order.
	Append(ctx context.Context, conversationID string, msgs ...types.Message) error
	History(ctx context.Context, conversationID string) ([]types.Message, error)

	// SetNext stores the role a suspended conversation resumes with.
	SetNext(ctx context.Context, conversationID, next string) error
}

// AuditEntry records one query execution attempt.
type AuditEntry struct {
	ID             int64     `json:"id"`
	DataSourceID   string    `json:"data_source_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Query          string    `json:"query"`
	Language       string    `json:"language"`
	Allowed        bool      `json:"allowed"`
	Issues         string    `json:"issues,omitempty"`
	RowCount       int       `json:"row_count"`
	DurationMs     int64     `json:"duration_ms"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditLog records executed queries.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// DataSourceStore persists data-source records. It also satisfies
// fabric.DataSourceLookup.
type DataSourceStore interface {
	Get(ctx context.Context, id string) (*fabric.DataSource, error)
	List(ctx context.Context) ([]fabric.DataSource, error)
	Put(ctx context.Context, ds fabric.DataSource) error
	Delete(ctx context.Context, id string) error
}
