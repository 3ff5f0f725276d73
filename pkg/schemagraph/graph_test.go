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
package schemagraph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesGraph() *Graph {
	tables := []Table{
		{Name: "regions", Type: "table", Columns: []Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}, {Name: "name", Type: "TEXT"}}},
		{Name: "orders", Type: "table", Columns: []Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}, {Name: "customer_id", Type: "INTEGER"}}},
		{Name: "customers", Type: "table", Columns: []Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}, {Name: "region_id", Type: "INTEGER"}}},
		{Name: "audit_log", Type: "table"},
	}
	edges := []Edge{
		{FromTable: "customers", FromColumn: "region_id", ToTable: "regions", ToColumn: "id"},
		{FromTable: "orders", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"},
	}
	return NewGraph("sales", tables, edges)
}

func TestFindJoinPath_OrdersToRegions(t *testing.T) {
	g := salesGraph()

	fragments, err := g.FindJoinPath("orders", "regions")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"JOIN customers ON orders.customer_id = customers.id",
		"JOIN regions ON customers.region_id = regions.id",
	}, fragments)
}

func TestFindJoinPath_WalksEdgesBackwards(t *testing.T) {
	g := salesGraph()

	fragments, err := g.FindJoinPath("regions", "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"JOIN customers ON regions.id = customers.region_id",
		"JOIN orders ON customers.id = orders.customer_id",
	}, fragments)
}

func TestFindJoinPath_SameTable(t *testing.T) {
	g := salesGraph()

	fragments, err := g.FindJoinPath("orders", "orders")
	require.NoError(t, err)
	assert.NotNil(t, fragments)
	assert.Empty(t, fragments)
}

func TestFindJoinPath_NoPath(t *testing.T) {
	g := salesGraph()

	_, err := g.FindJoinPath("orders", "audit_log")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPathFound))
}

func TestFindJoinPath_UnknownTable(t *testing.T) {
	g := salesGraph()

	_, err := g.FindJoinPath("order", "regions")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTable))

	var ute *UnknownTableError
	require.True(t, errors.As(err, &ute))
	assert.Equal(t, "order", ute.Table)
	assert.Contains(t, ute.Suggestions, "orders")
	assert.Contains(t, err.Error(), "did you mean")

	_, err = g.FindJoinPath("orders", "zzz")
	assert.True(t, errors.Is(err, ErrUnknownTable))
}

func TestFindJoinPath_CaseInsensitive(t *testing.T) {
	g := salesGraph()

	fragments, err := g.FindJoinPath("ORDERS", "Customers")
	require.NoError(t, err)
	assert.Equal(t, []string{"JOIN customers ON orders.customer_id = customers.id"}, fragments)
}

func TestJoinPath_ShortestAndStableTieBreak(t *testing.T) {
	tables := []Table{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"}}
	edges := []Edge{
		{FromTable: "a", FromColumn: "b_id", ToTable: "b", ToColumn: "id"},
		{FromTable: "a", FromColumn: "c_id", ToTable: "c", ToColumn: "id"},
		{FromTable: "b", FromColumn: "d_id", ToTable: "d", ToColumn: "id"},
		{FromTable: "c", FromColumn: "d_id", ToTable: "d", ToColumn: "id"},
		{FromTable: "a", FromColumn: "e_id", ToTable: "e", ToColumn: "id"},
		{FromTable: "e", FromColumn: "d_id", ToTable: "d", ToColumn: "id"},
	}
	g := NewGraph("ds", tables, edges)

	for i := 0; i < 10; i++ {
		steps, err := g.JoinPath("a", "d")
		require.NoError(t, err)
		require.Len(t, steps, 2, "BFS returns a shortest path")
		assert.Equal(t, "b", steps[0].ToTable, "first discovered edge wins ties")
	}
}

func TestNewGraph_DropsForeignEdgesAndDuplicates(t *testing.T) {
	tables := []Table{{Name: "orders"}, {Name: "customers"}}
	edges := []Edge{
		{FromTable: "orders", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"},
		{FromTable: "orders", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"},
		{FromTable: "orders", FromColumn: "warehouse_id", ToTable: "other_db.warehouses", ToColumn: "id"},
		{FromTable: "customers", FromColumn: "referrer_id", ToTable: "customers", ToColumn: "id"},
	}
	g := NewGraph("ds", tables, edges)

	compass := g.Compass()
	require.Len(t, compass, 2)
	assert.Equal(t, "orders.customer_id -> customers.id", compass[0].String())
	assert.Equal(t, "customers", compass[1].ToTable, "self references are kept in the compass")

	fragments, err := g.FindJoinPath("customers", "customers")
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestCompass_Empty(t *testing.T) {
	g := NewGraph("ds", []Table{{Name: "t"}}, nil)
	assert.Empty(t, g.Compass())
}

func TestEntitiesAndDescribe(t *testing.T) {
	g := salesGraph()

	entities := g.Entities()
	require.Len(t, entities, 4)
	assert.Equal(t, "audit_log", entities[0].Name)
	assert.Equal(t, "regions", entities[3].Name)

	tbl, err := g.Describe("Regions")
	require.NoError(t, err)
	assert.Equal(t, "regions", tbl.Name)
	assert.Equal(t, []string{"name"}, tbl.TextColumns())

	tbl.Columns[0].Name = "mutated"
	again, _ := g.Describe("regions")
	assert.Equal(t, "id", again.Columns[0].Name, "Describe returns a copy")
}

func TestIsTextType(t *testing.T) {
	for _, typ := range []string{"TEXT", "varchar(255)", "character varying", "NVARCHAR", "CLOB", "keyword", "String", "mediumtext"} {
		assert.True(t, IsTextType(typ), typ)
	}
	for _, typ := range []string{"INTEGER", "numeric(10,2)", "timestamp", "jsonb", "double", "BLOB"} {
		assert.False(t, IsTextType(typ), typ)
	}
}
