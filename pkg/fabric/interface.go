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
package fabric

import (
	"context"
	"strings"
)

// ExecutionBackend is the raw data-source driver used by discovery and by
// final query execution. Implementations exist for relational databases
// (sqlite, mysql, postgresql) and for search engines (elasticsearch).
//
// Resource names passed in must come from ListResources; implementations quote
// identifiers for their dialect but do not accept arbitrary SQL fragments
// anywhere except ExecuteQuery.
type ExecutionBackend interface {
	// Name returns the backend identifier (e.g., "sqlite", "postgresql").
	Name() string

	// ExecuteQuery runs a query in the backend's native language.
	// For SQL backends the query is SQL; for search engines it is a JSON
	// request body (see the search backend for the accepted envelope).
	ExecuteQuery(ctx context.Context, query string) (*QueryResult, error)

	// GetSchema retrieves columns, keys and foreign keys for a resource.
	GetSchema(ctx context.Context, resource string) (*Schema, error)

	// ListResources lists tables and views, or indices for search engines.
	ListResources(ctx context.Context, filters map[string]string) ([]Resource, error)

	// SampleRows returns up to limit rows of a resource in storage order.
	SampleRows(ctx context.Context, resource string, limit int) (*QueryResult, error)

	// SearchColumn returns up to limit rows whose column contains keyword,
	// compared case-insensitively.
	SearchColumn(ctx context.Context, resource, column, keyword string, limit int) (*QueryResult, error)

	// Ping checks backend connectivity and health.
	Ping(ctx context.Context) error

	// Capabilities returns the backend's capabilities for feature discovery.
	Capabilities() *Capabilities

	// Close releases backend resources.
	Close() error
}

// IndexQuerier is implemented by search-engine backends that run a DSL
// query against one named index instead of a self-describing statement.
type IndexQuerier interface {
	ExecuteIndexQuery(ctx context.Context, index, query string) (*QueryResult, error)
}

// AsIndexQuerier looks through Unwrap() decorators for an IndexQuerier.
func AsIndexQuerier(b ExecutionBackend) (IndexQuerier, bool) {
	for b != nil {
		if q, ok := b.(IndexQuerier); ok {
			return q, true
		}
		u, ok := b.(interface{ Unwrap() ExecutionBackend })
		if !ok {
			return nil, false
		}
		b = u.Unwrap()
	}
	return nil, false
}

// MaxResultRows caps rows returned by ExecuteQuery on every backend.
const MaxResultRows = 10000

// LikePattern builds a lower-cased %keyword% LIKE pattern. Wildcards in the
// keyword are escaped with '!' so callers must add ESCAPE '!'.
func LikePattern(keyword string) string {
	escaped := likeEscaper.Replace(strings.ToLower(keyword))
	return "%" + escaped + "%"
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// QueryResult represents the result of executing a query or operation.
type QueryResult struct {
	// Type indicates the result type ("rows", "modify", "hits").
	Type string `json:"type"`

	Rows     []map[string]interface{} `json:"rows"`
	Columns  []Column                 `json:"columns"`
	RowCount int                      `json:"row_count"`

	// Truncated is set when MaxResultRows cut the result short.
	Truncated bool `json:"truncated,omitempty"`

	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ExecutionStats ExecutionStats         `json:"execution_stats"`
}

// ColumnNames returns the result's column names in order.
func (r *QueryResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Column represents a column in tabular results.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ExecutionStats tracks execution metrics.
type ExecutionStats struct {
	DurationMs   int64 `json:"duration_ms"`
	RowsAffected int64 `json:"rows_affected,omitempty"`
}

// Schema represents the schema of a resource.
type Schema struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Fields      []Field                `json:"fields"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Field represents a column of a table or a mapped field of an index.
type Field struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Nullable    bool        `json:"nullable"`
	PrimaryKey  bool        `json:"primary_key,omitempty"`
	ForeignKey  *ForeignKey `json:"foreign_key,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// ForeignKey represents a foreign key relationship.
type ForeignKey struct {
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Resource represents an available resource in the backend.
type Resource struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
