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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/weft/internal/sqlitedriver"
	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/types"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQL(context.Background(), SQLConfig{Driver: "sqlite", DSN: ":memory:", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSQL_Errors(t *testing.T) {
	_, err := OpenSQL(context.Background(), SQLConfig{Driver: "oracle", DSN: "x"})
	assert.ErrorContains(t, err, "unsupported storage driver")

	_, err = OpenSQL(context.Background(), SQLConfig{Driver: "sqlite"})
	assert.ErrorContains(t, err, "dsn is required")
}

func TestOpenSQL_EncryptionKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.db")
	s, err := OpenSQL(context.Background(), SQLConfig{Driver: "sqlite", DSN: path, EncryptionKey: "it's secret"})
	if !sqlitedriver.EncryptionSupported {
		assert.ErrorIs(t, err, sqlitedriver.ErrEncryptionUnsupported)
		return
	}
	require.NoError(t, err)
	_, err = s.EnsureConversation(context.Background(), Conversation{ID: "c1", DataSourceID: "shop"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "SQLite format 3")
}

func TestConversationLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.EnsureConversation(ctx, Conversation{ID: "c1", UserID: "u1", DataSourceID: "shop"})
	require.NoError(t, err)
	assert.Equal(t, "u1", conv.UserID)
	assert.Empty(t, conv.Next)

	// Ensuring again keeps the original record.
	conv, err = s.EnsureConversation(ctx, Conversation{ID: "c1", UserID: "someone-else"})
	require.NoError(t, err)
	assert.Equal(t, "u1", conv.UserID)

	msgs := []types.Message{
		{Role: types.RoleUser, Content: "统计去年的销售额"},
		{Role: types.RoleAssistant, AgentRole: "sql_agent", ToolCalls: []types.ToolCall{
			{ID: "t1", Name: "list_entities", Input: map[string]interface{}{}},
		}},
		{Role: types.RoleTool, ToolUseID: "t1", ToolName: "list_entities", Content: "orders", IsError: false, TokenCount: 1},
	}
	require.NoError(t, s.Append(ctx, "c1", msgs[:1]...))
	require.NoError(t, s.Append(ctx, "c1", msgs[1:]...))

	history, err := s.History(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "统计去年的销售额", history[0].Content)
	assert.NotEmpty(t, history[0].ID)
	assert.False(t, history[0].Timestamp.IsZero())
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, "list_entities", history[1].ToolCalls[0].Name)
	assert.Equal(t, "sql_agent", history[1].AgentRole)
	assert.Equal(t, "t1", history[2].ToolUseID)
	assert.Equal(t, 1, history[2].TokenCount)

	require.NoError(t, s.SetNext(ctx, "c1", "sql_agent"))
	require.NoError(t, s.SetNext(ctx, "c1", "sql_agent"))
	conv, err = s.Conversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "sql_agent", conv.Next)

	empty, err := s.History(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConversation_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Conversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Append(ctx, "missing", types.Message{Role: types.RoleUser}), ErrNotFound)
	assert.ErrorIs(t, s.SetNext(ctx, "missing", "sql_agent"), ErrNotFound)
	assert.NoError(t, s.Append(ctx, "missing"))
}

func TestAuditLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, AuditEntry{DataSourceID: "shop", Query: "SELECT 1", Language: "sql", Allowed: true, RowCount: 1, CreatedAt: base}))
	require.NoError(t, s.Record(ctx, AuditEntry{DataSourceID: "shop", Query: "DROP TABLE x", Language: "sql", Issues: "BLOCKED", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.Record(ctx, AuditEntry{DataSourceID: "other", Query: "SELECT 2"}))

	entries, err := s.AuditEntries(ctx, "shop", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "DROP TABLE x", entries[0].Query)
	assert.False(t, entries[0].Allowed)
	assert.Equal(t, "BLOCKED", entries[0].Issues)
	assert.True(t, entries[1].Allowed)
	assert.Equal(t, base, entries[1].CreatedAt.UTC())
}

func TestSQLDataSourceStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ds := fabric.DataSource{ID: "shop", Name: "Shop", Type: fabric.DBTypeSQLite, Params: map[string]string{"dsn": "shop.db"}}
	require.NoError(t, s.Put(ctx, ds))

	got, err := s.Get(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, ds, *got)

	ds.AllowWrite = true
	ds.SyncSchedule = "@hourly"
	require.NoError(t, s.Put(ctx, ds))
	require.NoError(t, s.Put(ctx, fabric.DataSource{ID: "logs", Type: fabric.DBTypeElasticsearch, Params: map[string]string{"url": "http://es:9200"}}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "logs", all[0].ID)
	assert.True(t, all[1].AllowWrite)
	assert.Equal(t, "@hourly", all[1].SyncSchedule)

	assert.Error(t, s.Put(ctx, fabric.DataSource{ID: "bad", Type: "oracle"}))

	require.NoError(t, s.Delete(ctx, "logs"))
	assert.ErrorIs(t, s.Delete(ctx, "logs"), ErrNotFound)
	_, err = s.Get(ctx, "logs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMigrator(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m, err := NewMigrator(s.DB(), DialectSQLite, nil)
	require.NoError(t, err)
	require.NotEmpty(t, m.Migrations())
	latest := m.Migrations()[len(m.Migrations())-1].Version

	v, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, v)

	// Idempotent.
	require.NoError(t, m.MigrateUp(ctx))

	require.NoError(t, m.MigrateDown(ctx, 1))
	v, err = m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest-1, v)

	require.NoError(t, m.MigrateUp(ctx))
	_, err = s.EnsureConversation(ctx, Conversation{ID: "after-remigrate"})
	assert.NoError(t, err)
}

func TestLoadMigrations_AllDialects(t *testing.T) {
	for _, d := range []Dialect{DialectSQLite, DialectPostgres, DialectMySQL} {
		migs, err := loadMigrations(d)
		require.NoError(t, err, d)
		require.NotEmpty(t, migs, d)
		assert.Equal(t, 1, migs[0].Version)
		assert.Equal(t, "init", migs[0].Description)
		assert.NotEmpty(t, migs[0].DownSQL)
		assert.GreaterOrEqual(t, len(splitStatements(migs[0].UpSQL)), 4, d)
	}
	_, err := loadMigrations("oracle")
	assert.Error(t, err)
}

func TestDialect(t *testing.T) {
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)
	assert.Equal(t, "SELECT a FROM t WHERE a = $1 AND b = $2", d.rebind("SELECT a FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "a = ?", DialectMySQL.rebind("a = ?"))

	assert.Equal(t, "INSERT IGNORE INTO t (a, b) VALUES (?, ?)", DialectMySQL.insertIgnore("t", "a, b", "?, ?"))
	assert.Equal(t, "INSERT INTO t (id, v) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET v = excluded.v",
		DialectSQLite.upsert("t", "id", []string{"id", "v"}))
	assert.Equal(t, "INSERT INTO t (id, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)",
		DialectMySQL.upsert("t", "id", []string{"id", "v"}))
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("-- comment\nCREATE TABLE a (\n  id INT\n);\n\nCREATE INDEX i ON a (id);\nSELECT 1")
	assert.Equal(t, []string{"CREATE TABLE a (\n  id INT\n)", "CREATE INDEX i ON a (id)", "SELECT 1"}, got)
}

// Live database checks run only when a DSN is provided.
func TestSQLStore_Live(t *testing.T) {
	for _, tc := range []struct{ driver, env string }{
		{"postgres", "WEFT_TEST_POSTGRES_DSN"},
		{"mysql", "WEFT_TEST_MYSQL_DSN"},
	} {
		t.Run(tc.driver, func(t *testing.T) {
			dsn := os.Getenv(tc.env)
			if dsn == "" {
				t.Skipf("%s not set", tc.env)
			}
			ctx := context.Background()
			s, err := OpenSQL(ctx, SQLConfig{Driver: tc.driver, DSN: dsn})
			require.NoError(t, err)
			defer s.Close()

			id := "live-" + time.Now().Format("150405.000000")
			_, err = s.EnsureConversation(ctx, Conversation{ID: id})
			require.NoError(t, err)
			require.NoError(t, s.Append(ctx, id, types.Message{Role: types.RoleUser, Content: "hi"}))
			history, err := s.History(ctx, id)
			require.NoError(t, err)
			assert.Len(t, history, 1)
			require.NoError(t, s.Put(ctx, fabric.DataSource{ID: id, Type: fabric.DBTypeMySQL, Params: map[string]string{"dsn": "x"}}))
			require.NoError(t, s.Delete(ctx, id))
		})
	}
}

func TestFileDataSourceStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datasources.yaml")
	t.Setenv("WEFT_TEST_SHOP_DSN", "file:shop.db")
	require.NoError(t, os.WriteFile(path, []byte(`apiVersion: weft/v1
kind: DataSourceList
datasources:
  - id: shop
    type: sqlite
    params:
      dsn: ${WEFT_TEST_SHOP_DSN}
`), 0o600))

	f, err := NewFileDataSourceStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	ds, err := f.Get(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, "file:shop.db", ds.Param("dsn", ""))
	assert.Equal(t, "shop", ds.Name)

	require.NoError(t, f.Put(ctx, fabric.DataSource{ID: "logs", Type: fabric.DBTypeElasticsearch, Params: map[string]string{"addresses": "http://localhost:9200"}}))
	all, err := f.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "logs", all[0].ID)

	// The reference survives the rewrite.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "${WEFT_TEST_SHOP_DSN}")

	require.NoError(t, f.Delete(ctx, "logs"))
	assert.ErrorIs(t, f.Delete(ctx, "logs"), ErrNotFound)
	_, err = f.Get(ctx, "logs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileDataSourceStore_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ds.yaml")
	f, err := NewFileDataSourceStore(path, nil)
	require.NoError(t, err)
	all, err := f.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("datasources:\n  - id: a\n    type: sqlite\n    params: {dsn: a.db}\n  - id: b\n    type: mysql\n    params: {dsn: b}\n")
	changed, err := f.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, changed)

	write("datasources:\n  - id: a\n    type: sqlite\n    params: {dsn: a.db}\n  - id: b\n    type: postgresql\n    params: {dsn: b}\n")
	changed, err = f.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, changed)

	write("datasources:\n  - id: b\n    type: postgresql\n    params: {dsn: b}\n")
	changed, err = f.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, changed)

	// A broken file keeps the previous contents.
	write("datasources: [")
	_, err = f.Reload()
	assert.Error(t, err)
	_, err = f.Get(context.Background(), "b")
	assert.NoError(t, err)
}
