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
package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/backends/sqldb"
	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/schemagraph"
	"github.com/teradata-labs/weft/pkg/semantic"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/shuttle"
)

const shopSchema = `
CREATE TABLE regions (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE customers (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	region_id INTEGER REFERENCES regions(id)
);
CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	customer_id INTEGER REFERENCES customers(id),
	amount REAL,
	status TEXT
);
CREATE TABLE audit_notes (id INTEGER PRIMARY KEY, body TEXT);
INSERT INTO regions VALUES (1, 'North'), (2, 'South');
INSERT INTO customers VALUES (1, 'Alice', 1), (2, 'Bob', 2), (3, 'Alicia', 1);
INSERT INTO orders VALUES (1, 1, 50.0, 'shipped'), (2, 1, 150.0, 'Shipped late'), (3, 2, 20.0, 'cancelled');
`

type staticSource struct {
	backend fabric.ExecutionBackend
	ds      *fabric.DataSource
}

func (s staticSource) Backend(context.Context, string) (fabric.ExecutionBackend, *fabric.DataSource, error) {
	return s.backend, s.ds, nil
}

type fixedIndex struct {
	refs []semantic.TableRef
}

func (f fixedIndex) FindRelevantTables(context.Context, string, string, int) ([]semantic.TableRef, error) {
	return f.refs, nil
}

func newEnv(t *testing.T) *Env {
	t.Helper()
	ctx := context.Background()
	b, err := sqldb.New(ctx, sqldb.Config{Name: "shop", Type: fabric.DBTypeSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	_, err = b.DB().ExecContext(ctx, shopSchema)
	require.NoError(t, err)

	ds := &fabric.DataSource{ID: "shop", Type: fabric.DBTypeSQLite}
	svc := schemagraph.NewService(schemagraph.Config{Backends: staticSource{backend: b, ds: ds}})
	return &Env{
		DataSourceID: "shop",
		DBType:       fabric.DBTypeSQLite,
		Discovery:    svc,
		Backend:      b,
		Guardrails:   fabric.NewGuardrailEngine(fabric.NewSQLSafetyValidator(fabric.SafetyOptions{})),
		Now:          func() time.Time { return time.Date(2026, 3, 18, 15, 4, 5, 0, time.UTC) },
		Location:     time.UTC,
	}
}

// run executes a builtin through the validating executor, the way the agent loop does.
func run(t *testing.T, env *Env, name string, params map[string]interface{}) *shuttle.Result {
	t.Helper()
	return runCtx(t, context.Background(), env, name, params)
}

func runCtx(t *testing.T, ctx context.Context, env *Env, name string, params map[string]interface{}) *shuttle.Result {
	t.Helper()
	tool := ByName(name, env)
	require.NotNil(t, tool, name)
	result, err := shuttle.NewExecutor(shuttle.NewRegistry(tool)).Execute(ctx, name, params)
	require.NoError(t, err)
	return result
}

func withState(dbType fabric.DBType) (context.Context, *session.State) {
	st := session.New(session.Info{ConversationID: "c1", DataSourceID: "shop", DBType: dbType}, nil)
	return session.WithState(context.Background(), st), st
}

type emptyDiscovery struct{}

func (emptyDiscovery) ListEntities(context.Context, string) ([]schemagraph.Entity, error) {
	return nil, nil
}

func (emptyDiscovery) DescribeTable(_ context.Context, _ string, table string) (*schemagraph.Table, error) {
	return nil, &schemagraph.UnknownTableError{Table: table}
}

func (emptyDiscovery) FindJoinPath(context.Context, string, string, string) ([]string, error) {
	return nil, schemagraph.ErrNoPathFound
}

func (emptyDiscovery) GetDatabaseCompass(context.Context, string) ([]schemagraph.Edge, error) {
	return nil, nil
}

func (emptyDiscovery) CrossEntitySearch(_ context.Context, _ string, keyword string, _ int) (*schemagraph.SearchResult, error) {
	return &schemagraph.SearchResult{Keyword: keyword}, nil
}
