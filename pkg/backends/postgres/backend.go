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
// Package postgres implements fabric.ExecutionBackend for PostgreSQL using a
// pgx connection pool. Read-only data sources run queries inside READ ONLY
// transactions.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/pgxdriver"
	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
)

var _ fabric.ExecutionBackend = (*Backend)(nil)

// Config configures a Backend.
type Config struct {
	Name string
	DSN  string
	// Schema is introspected and used as search_path. Defaults to "public".
	Schema           string
	MaxConns         int32
	ReadOnly         bool
	StatementTimeout time.Duration
	Logger           *zap.Logger
	Tracer           observability.Tracer
}

// Backend implements fabric.ExecutionBackend for PostgreSQL.
type Backend struct {
	pool     *pgxpool.Pool
	name     string
	schema   string
	readOnly bool
	timeout  time.Duration
	logger   *zap.Logger
	maxConns int32
}

// Factory opens a Backend for a postgresql data source.
func Factory(ctx context.Context, ds *fabric.DataSource) (fabric.ExecutionBackend, error) {
	cfg := Config{
		Name:     ds.ID,
		DSN:      ds.Param("dsn", ""),
		Schema:   ds.Param("schema", "public"),
		ReadOnly: !ds.AllowWrite,
		Logger:   zap.L().With(zap.String("data_source_id", ds.ID)),
	}
	if v := ds.Param("max_connections", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("data source %s: invalid max_connections %q", ds.ID, v)
		}
		cfg.MaxConns = int32(n)
	}
	if v := ds.Param("statement_timeout", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("data source %s: invalid statement_timeout %q: %w", ds.ID, v, err)
		}
		cfg.StatementTimeout = d
	}
	return New(ctx, cfg)
}

// New connects to PostgreSQL.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}

	pool, err := pgxdriver.NewPool(ctx, pgxdriver.Config{
		DSN:    cfg.DSN,
		Schema: cfg.Schema,
		Pool:   pgxdriver.PoolConfig{MaxConns: cfg.MaxConns, MinConns: 1},
	}, cfg.Tracer)
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("postgres backend connected",
		zap.String("name", cfg.Name),
		zap.String("schema", cfg.Schema),
		zap.Bool("read_only", cfg.ReadOnly),
	)

	return &Backend{
		pool:     pool,
		name:     cfg.Name,
		schema:   cfg.Schema,
		readOnly: cfg.ReadOnly,
		timeout:  cfg.StatementTimeout,
		logger:   cfg.Logger,
		maxConns: cfg.MaxConns,
	}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return b.name
}

// Pool returns the underlying pgxpool.Pool for advanced usage.
func (b *Backend) Pool() *pgxpool.Pool {
	return b.pool
}

// ExecuteQuery runs SQL; SELECT-like statements are capped at fabric.MaxResultRows.
func (b *Backend) ExecuteQuery(ctx context.Context, query string) (*fabric.QueryResult, error) {
	start := time.Now()
	query = strings.TrimSpace(query)

	if fabric.IsReadStatement(query) {
		return b.selectRows(ctx, start, query)
	}
	if b.readOnly {
		return nil, fmt.Errorf("%s: %w", b.name, fabric.ErrReadOnly)
	}
	return b.executeModify(ctx, query, start)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (b *Backend) selectRows(ctx context.Context, start time.Time, query string, args ...any) (*fabric.QueryResult, error) {
	var result *fabric.QueryResult
	run := func(ctx context.Context, q querier) error {
		rows, err := q.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()
		result, err = collectRows(rows, fabric.MaxResultRows)
		return err
	}

	var err error
	if b.readOnly {
		err = pgxdriver.WithReadOnly(ctx, b.pool, b.timeout, func(ctx context.Context, tx pgx.Tx) error {
			return run(ctx, tx)
		})
	} else {
		err = run(ctx, b.pool)
	}
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
	tag, err := b.pool.Exec(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return &fabric.QueryResult{
		Type: "modify",
		ExecutionStats: fabric.ExecutionStats{
			DurationMs:   time.Since(start).Milliseconds(),
			RowsAffected: tag.RowsAffected(),
		},
	}, nil
}

// collectRows reads at most max rows and normalizes pgx values for JSON.
func collectRows(rows pgx.Rows, max int) (*fabric.QueryResult, error) {
	typeMap := pgtype.NewMap()
	fieldDescs := rows.FieldDescriptions()
	cols := make([]fabric.Column, len(fieldDescs))
	for i, fd := range fieldDescs {
		cols[i] = fabric.Column{Name: fd.Name, Type: typeName(typeMap, fd.DataTypeOID), Nullable: true}
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
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col.Name] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

func typeName(m *pgtype.Map, oid uint32) string {
	if t, ok := m.TypeForOID(oid); ok {
		return t.Name
	}
	return fmt.Sprintf("oid:%d", oid)
}

// normalizeValue converts pgx driver types into JSON-friendly values.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return string(val)
	default:
		return v
	}
}

// SampleRows returns the first limit rows of a table.
func (b *Backend) SampleRows(ctx context.Context, resource string, limit int) (*fabric.QueryResult, error) {
	if limit <= 0 {
		limit = 5
	}
	q := fmt.Sprintf("SELECT * FROM %s LIMIT $1", b.qualify(resource))
	return b.selectRows(ctx, time.Now(), q, limit)
}

// SearchColumn runs a case-insensitive substring match on one column.
func (b *Backend) SearchColumn(ctx context.Context, resource, column, keyword string, limit int) (*fabric.QueryResult, error) {
	if limit <= 0 {
		limit = 5
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE CAST(%s AS TEXT) ILIKE $1 ESCAPE '!' LIMIT $2",
		b.qualify(resource), pgx.Identifier{column}.Sanitize())
	return b.selectRows(ctx, time.Now(), q, fabric.LikePattern(keyword), limit)
}

func (b *Backend) qualify(resource string) string {
	if strings.Contains(resource, ".") {
		return pgx.Identifier(strings.SplitN(resource, ".", 2)).Sanitize()
	}
	return pgx.Identifier{b.schema, resource}.Sanitize()
}

// GetSchema retrieves columns, primary keys and foreign keys of a table.
func (b *Backend) GetSchema(ctx context.Context, resource string) (*fabric.Schema, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT c.column_name, c.data_type, c.is_nullable, c.column_default,
		       COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position), '')
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, b.schema, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}

	var fields []fabric.Field
	for rows.Next() {
		var name, dataType, isNullable, comment string
		var columnDefault pgtype.Text
		if err := rows.Scan(&name, &dataType, &isNullable, &columnDefault, &comment); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		field := fabric.Field{
			Name:        name,
			Type:        dataType,
			Description: comment,
			Nullable:    strings.EqualFold(isNullable, "YES"),
		}
		if columnDefault.Valid {
			field.Default = columnDefault.String
		}
		fields = append(fields, field)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no such table: %s", resource)
	}

	pks, err := b.primaryKeys(ctx, resource)
	if err != nil {
		return nil, err
	}
	fks, err := b.foreignKeys(ctx, resource)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i].PrimaryKey = pks[fields[i].Name]
		if fk, ok := fks[fields[i].Name]; ok {
			fields[i].ForeignKey = &fk
		}
	}

	return &fabric.Schema{
		Name:     resource,
		Type:     "table",
		Fields:   fields,
		Metadata: map[string]interface{}{"schema": b.schema},
	}, nil
}

func (b *Backend) primaryKeys(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2`,
		b.schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary keys: %w", err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to get primary keys: %w", err)
	}
	pks := make(map[string]bool, len(cols))
	for _, c := range cols {
		pks[c] = true
	}
	return pks, nil
}

type fkRow struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

func (b *Backend) foreignKeys(ctx context.Context, table string) (map[string]fabric.ForeignKey, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name AND ccu.constraint_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position`,
		b.schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByPos[fkRow])
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}
	fks := make(map[string]fabric.ForeignKey, len(list))
	for _, r := range list {
		if _, dup := fks[r.Column]; dup {
			continue
		}
		fks[r.Column] = fabric.ForeignKey{ReferencedTable: r.ReferencedTable, ReferencedColumn: r.ReferencedColumn}
	}
	return fks, nil
}

// ListResources lists tables and views in the configured schema.
// Supported filters: "type" ("table" or "view") and "prefix".
func (b *Backend) ListResources(ctx context.Context, filters map[string]string) ([]fabric.Resource, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT t.table_name, t.table_type,
		       COALESCE(obj_description(c.oid, 'pg_class'), ''),
		       COALESCE(c.reltuples, -1)::bigint
		FROM information_schema.tables t
		LEFT JOIN pg_catalog.pg_namespace n ON n.nspname = t.table_schema
		LEFT JOIN pg_catalog.pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
		WHERE t.table_schema = $1
		ORDER BY t.table_name`, b.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	typ := strings.ToLower(filters["type"])
	prefix := strings.ToLower(filters["prefix"])

	var resources []fabric.Resource
	for rows.Next() {
		var name, tableType, comment string
		var estimate int64
		if err := rows.Scan(&name, &tableType, &comment, &estimate); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		kind := resourceKind(tableType)
		if typ != "" && kind != typ {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(name), prefix) {
			continue
		}
		r := fabric.Resource{
			Name:        name,
			Type:        kind,
			Description: comment,
			Metadata:    map[string]interface{}{"schema": b.schema},
		}
		if estimate >= 0 {
			r.Metadata["row_estimate"] = estimate
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return resources, nil
}

func resourceKind(tableType string) string {
	switch strings.ToUpper(tableType) {
	case "BASE TABLE":
		return "table"
	case "VIEW":
		return "view"
	default:
		return strings.ToLower(tableType)
	}
}

// Ping checks connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Capabilities reports SQL, foreign keys and row estimates.
func (b *Backend) Capabilities() *fabric.Capabilities {
	return fabric.NewCapabilities().
		WithTransactions(true).
		WithConcurrency(true, int(b.maxConns)).
		WithFeature(fabric.FeatureSQL, true).
		WithFeature(fabric.FeatureForeignKeys, true).
		WithFeature(fabric.FeatureRowEstimate, true).
		WithLimit("max_result_rows", fabric.MaxResultRows)
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	b.pool.Close()
	b.logger.Info("postgres backend closed", zap.String("name", b.name))
	return nil
}

// truncateQuery returns at most maxLen characters of the query for logging.
func truncateQuery(query string, maxLen int) string {
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
