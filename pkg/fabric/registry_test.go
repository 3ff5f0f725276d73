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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Open(t *testing.T) {
	r := NewRegistry()
	var opened *DataSource
	r.Register(DBTypeSQLite, func(ctx context.Context, ds *DataSource) (ExecutionBackend, error) {
		opened = ds
		return &stubBackend{name: "sqlite"}, nil
	})

	backend, err := r.Open(context.Background(), &DataSource{
		ID:     "local",
		Type:   "sqlite3",
		Params: map[string]string{"dsn": ":memory:"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", backend.Name())
	require.NotNil(t, opened)
	assert.Equal(t, DBTypeSQLite, opened.Type, "type alias normalized before the factory runs")
}

func TestRegistry_OpenErrors(t *testing.T) {
	r := NewRegistry()

	_, err := r.Open(context.Background(), &DataSource{ID: "x", Type: "oracle", Params: map[string]string{"dsn": "d"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported data source type")

	_, err = r.Open(context.Background(), &DataSource{ID: "x", Type: "mysql", Params: map[string]string{"dsn": "d"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend not registered")

	_, err = r.Open(context.Background(), &DataSource{ID: "x", Type: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "params.dsn is required")
}

func TestRegistry_ListAndUnregister(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, ds *DataSource) (ExecutionBackend, error) { return nil, nil }
	r.Register(DBTypePostgres, noop)
	r.Register(DBTypeElasticsearch, noop)

	assert.Equal(t, []DBType{DBTypeElasticsearch, DBTypePostgres}, r.List())

	r.Unregister(DBTypePostgres)
	_, ok := r.Get(DBTypePostgres)
	assert.False(t, ok)
}

func TestDBType(t *testing.T) {
	assert.True(t, DBTypeElasticsearch.IsSearchEngine())
	assert.False(t, DBTypeElasticsearch.IsRelational())
	assert.True(t, DBTypeMySQL.IsRelational())
	assert.Equal(t, "json", DBTypeElasticsearch.QueryLanguage())
	assert.Equal(t, "sql", DBTypePostgres.QueryLanguage())

	got, err := ParseDBType(" Postgres ")
	require.NoError(t, err)
	assert.Equal(t, DBTypePostgres, got)
}
