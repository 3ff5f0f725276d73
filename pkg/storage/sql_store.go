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
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers "mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // registers "postgres"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/sqlitedriver"
	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/types"
)

// SQLConfig configures OpenSQL.
type SQLConfig struct {
	// Driver is sqlite (default), postgres or mysql.
	Driver string `mapstructure:"driver" json:"driver" jsonschema:"enum=sqlite,enum=postgres,enum=mysql,default=sqlite"`

	// DSN is the connection string; for sqlite a file path or ":memory:".
	DSN string `mapstructure:"dsn" json:"dsn"`

	MaxOpenConns int `mapstructure:"max_open_conns" json:"max_open_conns,omitempty"`

	// EncryptionKey opens a SQLCipher-encrypted sqlite store. CGO builds only.
	EncryptionKey string `mapstructure:"encryption_key" json:"-"`

	Tracer observability.Tracer `mapstructure:"-" json:"-"`
	Logger *zap.Logger          `mapstructure:"-" json:"-"`
}

// SQLStore implements ConversationStore, AuditLog and DataSourceStore over
// database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	now     func() time.Time
}

// OpenSQL opens the store and applies pending migrations.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage dsn is required for %s", dialect)
	}
	db, err := sql.Open(dialect.driverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", dialect, err)
	}

	switch {
	case dialect == DialectSQLite:
		// One connection: an in-memory database exists per connection and
		// sqlite serialises writers anyway.
		db.SetMaxOpenConns(1)
		pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
		if cfg.EncryptionKey != "" {
			key, err := sqlitedriver.KeyPragma(cfg.EncryptionKey)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			pragmas = append([]string{key}, pragmas...)
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				if strings.HasPrefix(pragma, "PRAGMA key") {
					return nil, fmt.Errorf("unlock encrypted store: %w", err)
				}
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", dialect, err)
	}

	migrator, err := NewMigrator(db, dialect, cfg.Tracer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrator.MigrateUp(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLStore(db, dialect, cfg.Logger), nil
}

// NewSQLStore wraps an already migrated database.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger, now: time.Now}
}

// DB returns the underlying database handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the store's SQL flavour.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) q(query string) string { return s.dialect.rebind(query) }

// EnsureConversation implements ConversationStore.
func (s *SQLStore) EnsureConversation(ctx context.Context, conv Conversation) (*Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, s.q(s.dialect.insertIgnore("conversations",
		"id, user_id, data_source_id, next_role, created_at, updated_at", "?, ?, ?, ?, ?, ?")),
		conv.ID, conv.UserID, conv.DataSourceID, conv.Next, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation %s: %w", conv.ID, err)
	}
	return s.Conversation(ctx, conv.ID)
}

// Conversation implements ConversationStore.
func (s *SQLStore) Conversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	var created, updated int64
	err := s.db.QueryRowContext(ctx, s.q(
		"SELECT id, user_id, data_source_id, next_role, created_at, updated_at FROM conversations WHERE id = ?"), id).
		Scan(&c.ID, &c.UserID, &c.DataSourceID, &c.Next, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}

// Append implements ConversationStore.
func (s *SQLStore) Append(ctx context.Context, conversationID string, msgs ...types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM conversations WHERE id = ?"), conversationID).Scan(&exists); err != nil {
		return fmt.Errorf("append to %s: %w", conversationID, err)
	}
	if exists == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	var seq int
	if err := tx.QueryRowContext(ctx, s.q("SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?"), conversationID).Scan(&seq); err != nil {
		return fmt.Errorf("append to %s: %w", conversationID, err)
	}

	insert := s.q(`INSERT INTO messages (id, conversation_id, seq, role, content, tool_calls, tool_use_id, tool_name,
		is_error, agent_role, token_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, m := range msgs {
		seq++
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		calls := ""
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			calls = string(data)
		}
		if _, err := tx.ExecContext(ctx, insert, id, conversationID, seq, m.Role, m.Content, calls,
			m.ToolUseID, m.ToolName, m.IsError, m.AgentRole, m.TokenCount, ts.UnixMilli()); err != nil {
			return fmt.Errorf("append message %d to %s: %w", seq, conversationID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.q("UPDATE conversations SET updated_at = ? WHERE id = ?"),
		s.now().UnixMilli(), conversationID); err != nil {
		return fmt.Errorf("touch conversation %s: %w", conversationID, err)
	}
	return tx.Commit()
}

// History implements ConversationStore.
func (s *SQLStore) History(ctx context.Context, conversationID string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, role, content, tool_calls, tool_use_id, tool_name, is_error,
		agent_role, token_count, created_at FROM messages WHERE conversation_id = ? ORDER BY seq`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var calls string
		var ts int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &calls, &m.ToolUseID, &m.ToolName, &m.IsError,
			&m.AgentRole, &m.TokenCount, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if calls != "" {
			if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of message %s: %w", m.ID, err)
			}
		}
		m.Timestamp = time.UnixMilli(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetNext implements ConversationStore.
func (s *SQLStore) SetNext(ctx context.Context, conversationID, next string) error {
	res, err := s.db.ExecContext(ctx, s.q("UPDATE conversations SET next_role = ?, updated_at = ? WHERE id = ?"),
		next, s.now().UnixMilli(), conversationID)
	if err != nil {
		return fmt.Errorf("set next of %s: %w", conversationID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports zero affected rows when nothing changed.
		if _, err := s.Conversation(ctx, conversationID); err != nil {
			return err
		}
	}
	return nil
}

// Record implements AuditLog.
func (s *SQLStore) Record(ctx context.Context, e AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO audit_log (data_source_id, conversation_id, user_id, query, language,
		allowed, issues, row_count, duration_ms, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.DataSourceID, e.ConversationID, e.UserID, e.Query, e.Language, e.Allowed, e.Issues, e.RowCount,
		e.DurationMs, e.Error, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// PurgeAudit deletes audit entries created before the cutoff and returns
// how many were removed.
func (s *SQLStore) PurgeAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM audit_log WHERE created_at < ?"), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge audit log: %w", err)
	}
	return res.RowsAffected()
}

// AuditEntries returns the newest entries of a data source first.
func (s *SQLStore) AuditEntries(ctx context.Context, dataSourceID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, data_source_id, conversation_id, user_id, query, language, allowed,
		issues, row_count, duration_ms, error, created_at FROM audit_log WHERE data_source_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`), dataSourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("load audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.DataSourceID, &e.ConversationID, &e.UserID, &e.Query, &e.Language, &e.Allowed,
			&e.Issues, &e.RowCount, &e.DurationMs, &e.Error, &ts); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

var dataSourceColumns = []string{"id", "name", "db_type", "description", "params", "allow_write", "sync_schedule"}

// Get implements DataSourceStore.
func (s *SQLStore) Get(ctx context.Context, id string) (*fabric.DataSource, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		"SELECT id, name, db_type, description, params, allow_write, sync_schedule FROM data_sources WHERE id = ?"), id)
	ds, err := scanDataSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load data source %s: %w", id, err)
	}
	return ds, nil
}

// List implements DataSourceStore.
func (s *SQLStore) List(ctx context.Context) ([]fabric.DataSource, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, db_type, description, params, allow_write, sync_schedule FROM data_sources ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	defer rows.Close()

	var out []fabric.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan data source: %w", err)
		}
		out = append(out, *ds)
	}
	return out, rows.Err()
}

// Put implements DataSourceStore.
func (s *SQLStore) Put(ctx context.Context, ds fabric.DataSource) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	params, err := json.Marshal(ds.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(s.dialect.upsert("data_sources", "id", dataSourceColumns)),
		ds.ID, ds.Name, string(ds.Type), ds.Description, string(params), ds.AllowWrite, ds.SyncSchedule)
	if err != nil {
		return fmt.Errorf("save data source %s: %w", ds.ID, err)
	}
	return nil
}

// Delete implements DataSourceStore.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM data_sources WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete data source %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("data source %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDataSource(row rowScanner) (*fabric.DataSource, error) {
	var ds fabric.DataSource
	var dbType, params string
	if err := row.Scan(&ds.ID, &ds.Name, &dbType, &ds.Description, &params, &ds.AllowWrite, &ds.SyncSchedule); err != nil {
		return nil, err
	}
	ds.Type = fabric.DBType(dbType)
	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &ds.Params); err != nil {
			return nil, fmt.Errorf("decode params of %s: %w", ds.ID, err)
		}
	}
	return &ds, nil
}

var (
	_ ConversationStore       = (*SQLStore)(nil)
	_ AuditLog                = (*SQLStore)(nil)
	_ DataSourceStore         = (*SQLStore)(nil)
	_ fabric.DataSourceLookup = (*SQLStore)(nil)
)
