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

// Package sqldb implements fabric.ExecutionBackend over database/sql for
// sqlite and mysql data sources, including foreign-key introspection.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql
	"go.uber.org/zap"

	_ "github.com/teradata-labs/weft/internal/sqlitedriver" // sqlite3
	"github.com/teradata-labs/weft/pkg/fabric"
)

// Config configures a Backend.
type Config struct {
	Name         string
	Type         fabric.DBType
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	Logger       *zap.Logger

	// ReadOnly refuses writing statements and runs queries in a transaction
	// that is always rolled back.
	ReadOnly bool
}

// Backend is a database/sql backed ExecutionBackend.
type Backend struct {
	db       *sql.DB
	name     string
	dialect  dialect
	logger   *zap.Logger
	maxOps   int
	readOnly bool
}

var _ fabric.ExecutionBackend = (*Backend)(nil)

// Factory opens a Backend for a sqlite or mysql data source.
func Factory(ctx context.Context, ds *fabric.DataSource) (fabric.ExecutionBackend, error) {
	maxConns := 0
	if v := ds.Param("max_connections", ""); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &maxConns); err != nil {
			return nil, fmt.Errorf("data source %s: invalid max_connections %q", ds.ID, v)
		}
	}
	return New(ctx, Config{
		Name:         ds.ID,
		Type:         ds.Type,
		DSN:          ds.Param("dsn", ""),
		MaxOpenConns: maxConns,
		ReadOnly:     !ds.AllowWrite,
		Logger:       zap.L().With(zap.String("data_source_id", ds.ID)),
	})
}

// New opens and pings a database.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	d, err := dialectFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOps := cfg.MaxOpenConns
	if d.kind == fabric.DBTypeSQLite && isMemoryDSN(cfg.DSN) {
		// every connection to :memory: is a separate database
		maxOps = 1
	}
	if maxOps > 0 {
		db.SetMaxOpenConns(maxOps)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		// #nosec G104 -- best-effort cleanup on initialization failure
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := NewWithDB(db, cfg.Type, cfg.Name, cfg.Logger)
	if maxOps > 0 {
		b.maxOps = maxOps
	}
	b.readOnly = cfg.ReadOnly
	return b, nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *sql.DB, typ fabric.DBType, name string, logger *zap.Logger) *Backend {
	d, err := dialectFor(typ)
	if err != nil {
		d = sqliteDialect
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		name = string(d.kind)
	}
	return &Backend{
		db:      db,
		name:    name,
		dialect: d,
		logger:  logger,
		maxOps:  10,
	}
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return b.name
}

// DB exposes the underlying pool.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// ExecuteQuery runs SQL; statements that return rows are capped at fabric.MaxResultRows.
func (b *Backend) ExecuteQuery(ctx context.Context, query string) (*fabric.QueryResult, error) {
	start := time.Now()
	query = strings.TrimSpace(query)

	if !fabric.IsReadStatement(query) {
		if b.readOnly {
			return nil, fmt.Errorf("%s: %w", b.name, fabric.ErrReadOnly)
		}
		return b.executeModify(ctx, query, start)
	}
	if b.readOnly {
		return b.readOnlyQuery(ctx, start, query)
	}
	return b.query(ctx, start, query)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// readOnlyQuery runs query in a transaction that is always rolled back.
// MySQL opens it with START TRANSACTION READ ONLY; sqlite has no read-only
// transactions, so the connection is switched to query_only first.
func (b *Backend) readOnlyQuery(ctx context.Context, start time.Time, query string) (*fabric.QueryResult, error) {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: b.dialect.kind == fabric.DBTypeMySQL})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if b.dialect.kind == fabric.DBTypeSQLite {
		if _, err := tx.ExecContext(ctx, "PRAGMA query_only = 1"); err != nil {
			return nil, fmt.Errorf("failed to enable query_only: %w", err)
		}
	}
	return b.runQuery(ctx, tx, start, query)
}

func (b *Backend) query(ctx context.Context, start time.Time, query string, args ...interface{}) (*fabric.QueryResult, error) {
	return b.runQuery(ctx, b.db, start, query, args...)
}

func (b *Backend) runQuery(ctx context.Context, q queryer, start time.Time, query string, args ...interface{}) (*fabric.QueryResult, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result, err := scanRows(rows, fabric.MaxResultRows)
	if err != nil {
		return nil, err
	}
	if result.Truncated {
		b.logger.Warn("query result truncated at row limit",
			zap.Int("limit", fabric.MaxResultRows),
			zap.String("query_prefix", truncateQuery(query, 100)),
		)
	}
	result.ExecutionStats.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

func (b *Backend) executeModify(ctx context.Context, query string, start time.Time) (*fabric.QueryResult, error) {
	result, err := b.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return &fabric.QueryResult{
		Type: "modify",
		ExecutionStats: fabric.ExecutionStats{
			DurationMs:   time.Since(start).Milliseconds(),
			RowsAffected: rowsAffected,
		},
	}, nil
}

// SampleRows returns the first limit rows of a table.
func (b *Backend) SampleRows(ctx context.Context, resource string, limit int) (*fabric.QueryResult, error) {
	if limit <= 0 {
		limit = 5
	}
	q := fmt.Sprintf("SELECT * FROM %s LIMIT ?", b.dialect.quote(resource))
	return b.query(ctx, time.Now(), q, limit)
}

// SearchColumn runs a case-insensitive substring match on one column.
func (b *Backend) SearchColumn(ctx context.Context, resource, column, keyword string, limit int) (*fabric.QueryResult, error) {
	if limit <= 0 {
		limit = 5
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE LOWER(CAST(%s AS %s)) LIKE ? ESCAPE '!' LIMIT ?",
		b.dialect.quote(resource), b.dialect.quote(column), b.dialect.textCast)
	return b.query(ctx, time.Now(), q, fabric.LikePattern(keyword), limit)
}

// GetSchema retrieves columns and foreign keys of a table.
func (b *Backend) GetSchema(ctx context.Context, resource string) (*fabric.Schema, error) {
	fields, err := b.dialect.columns(ctx, b.db, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no such table: %s", resource)
	}

	fks, err := b.dialect.foreignKeys(ctx, b.db, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}
	for i := range fields {
		if fk, ok := fks[fields[i].Name]; ok {
			if fk.ReferencedColumn == "" {
				fk.ReferencedColumn = b.primaryKeyOf(ctx, fk.ReferencedTable)
			}
			fields[i].ForeignKey = &fk
		}
	}

	return &fabric.Schema{
		Name:   resource,
		Type:   "table",
		Fields: fields,
	}, nil
}

// primaryKeyOf resolves the implicit target of "REFERENCES parent" without a column.
func (b *Backend) primaryKeyOf(ctx context.Context, table string) string {
	fields, err := b.dialect.columns(ctx, b.db, table)
	if err != nil {
		return ""
	}
	for _, f := range fields {
		if f.PrimaryKey {
			return f.Name
		}
	}
	return ""
}

// ListResources lists tables and views.
// Supported filters: "type" ("table" or "view") and "prefix".
func (b *Backend) ListResources(ctx context.Context, filters map[string]string) ([]fabric.Resource, error) {
	resources, err := b.dialect.resources(ctx, b.db)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	typ := strings.ToLower(filters["type"])
	prefix := strings.ToLower(filters["prefix"])
	out := resources[:0]
	for _, r := range resources {
		if typ != "" && !strings.Contains(strings.ToLower(r.Type), typ) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(r.Name), prefix) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Ping checks connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Capabilities reports SQL and foreign-key support.
func (b *Backend) Capabilities() *fabric.Capabilities {
	caps := fabric.NewCapabilities().
		WithTransactions(true).
		WithConcurrency(b.maxOps > 1, b.maxOps).
		WithFeature(fabric.FeatureSQL, true).
		WithFeature(fabric.FeatureForeignKeys, true).
		WithLimit("max_result_rows", fabric.MaxResultRows)
	if b.dialect.kind == fabric.DBTypeMySQL {
		caps.WithFeature(fabric.FeatureRowEstimate, true)
	}
	return caps
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// scanRows reads at most max rows, converting []byte values to strings.
func scanRows(rows *sql.Rows, max int) (*fabric.QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	cols := make([]fabric.Column, len(columns))
	for i, col := range columns {
		nullable, _ := columnTypes[i].Nullable()
		cols[i] = fabric.Column{
			Name:     col,
			Type:     columnTypes[i].DatabaseTypeName(),
			Nullable: nullable,
		}
	}

	result := &fabric.QueryResult{
		Type:    "rows",
		Columns: cols,
		Rows:    []map[string]interface{}{},
	}
	for rows.Next() {
		if len(result.Rows) >= max {
			result.Truncated = true
			break
		}
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if raw, ok := values[i].([]byte); ok {
				row[col] = string(raw)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// truncateQuery returns at most maxLen characters of the query for logging.
func truncateQuery(query string, maxLen int) string {
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
