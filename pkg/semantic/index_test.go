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
package semantic

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/schemagraph"
)

// bagOfWords is a deterministic embedder: each token bumps one of 64 buckets.
func bagOfWords(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	vec[0] = 0.01
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[1+h.Sum32()%63]++
	}
	return vec, nil
}

func testGraph() *schemagraph.Graph {
	return schemagraph.NewGraph("shop", []schemagraph.Table{
		{Name: "customers", Type: "table", Description: "people who buy", Columns: []schemagraph.Column{
			{Name: "email", Type: "TEXT"}, {Name: "phone", Type: "TEXT"},
		}},
		{Name: "inventory", Type: "table", Columns: []schemagraph.Column{
			{Name: "sku", Type: "TEXT"}, {Name: "warehouse", Type: "TEXT"},
		}},
		{Name: "shipments", Type: "table", Columns: []schemagraph.Column{
			{Name: "carrier", Type: "TEXT"}, {Name: "tracking", Type: "TEXT"},
		}},
	}, nil)
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewIndex(Config{Embed: bagOfWords})
	require.NoError(t, err)
	return idx
}

func TestIndex_FindRelevantTables(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.False(t, idx.Indexed("shop"))

	require.NoError(t, idx.IndexGraph(ctx, testGraph()))
	assert.True(t, idx.Indexed("shop"))

	refs, err := idx.FindRelevantTables(ctx, "shop", "which warehouse holds sku", 1)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "inventory", refs[0].Table)
	assert.Equal(t, "shop", refs[0].DataSourceID)

	refs, err = idx.FindRelevantTables(ctx, "shop", "customers email phone", 10)
	require.NoError(t, err)
	require.Len(t, refs, 3, "k is clamped to the collection size")
	assert.Equal(t, "customers", refs[0].Table)
	assert.GreaterOrEqual(t, refs[0].Similarity, refs[1].Similarity)
}

func TestIndex_ReindexReplacesDocuments(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.IndexGraph(ctx, testGraph()))

	smaller := schemagraph.NewGraph("shop", []schemagraph.Table{{Name: "ledger", Columns: []schemagraph.Column{{Name: "amount", Type: "REAL"}}}}, nil)
	require.NoError(t, idx.IndexGraph(ctx, smaller))

	refs, err := idx.FindRelevantTables(ctx, "shop", "anything", 5)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "ledger", refs[0].Table)
}

func TestIndex_EmptyGraphAndMissing(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.FindRelevantTables(ctx, "nope", "q", 3)
	assert.Error(t, err)

	require.NoError(t, idx.IndexGraph(ctx, schemagraph.NewGraph("empty", nil, nil)))
	assert.False(t, idx.Indexed("empty"))
	refs, err := idx.FindRelevantTables(ctx, "empty", "q", 3)
	require.NoError(t, err)
	assert.Empty(t, refs)

	require.NoError(t, idx.Drop("empty"))
	_, err = idx.FindRelevantTables(ctx, "empty", "q", 3)
	assert.Error(t, err)
}

func TestIndex_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := NewIndex(Config{Embed: bagOfWords, PersistPath: dir})
	require.NoError(t, err)
	require.NoError(t, idx.IndexGraph(ctx, testGraph()))

	reopened, err := NewIndex(Config{Embed: bagOfWords, PersistPath: dir})
	require.NoError(t, err)
	assert.True(t, reopened.Indexed("shop"))
	refs, err := reopened.FindRelevantTables(ctx, "shop", "shipments carrier tracking", 1)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "shipments", refs[0].Table)
}

func TestEmbeddingFuncSelection(t *testing.T) {
	_, err := NewIndex(Config{Provider: "openai"})
	assert.ErrorContains(t, err, "API key")

	_, err = NewIndex(Config{Provider: "cohere"})
	assert.ErrorContains(t, err, "unsupported")

	idx, err := NewIndex(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.NotNil(t, idx.embed)
}

func TestDescribeTable(t *testing.T) {
	desc := describeTable(&schemagraph.Table{
		Name:        "orders",
		Description: "sales orders",
		Columns: []schemagraph.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "customer_id", Type: "INTEGER", References: &schemagraph.ColumnRef{Table: "customers", Column: "id"}},
		},
	})
	assert.Equal(t, "table orders: sales orders\ncolumns: id (INTEGER), customer_id (INTEGER) references customers.id", desc)
}
