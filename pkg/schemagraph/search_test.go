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
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/observability"
)

func buildShop(t *testing.T, fb *fakeBackend) *Graph {
	t.Helper()
	g, err := (&Builder{}).Build(context.Background(), "shop", fb)
	require.NoError(t, err)
	return g
}

func TestCrossEntitySearch_LimitAndOmit(t *testing.T) {
	fb := shopBackend()
	g := buildShop(t, fb)

	res, err := CrossEntitySearch(context.Background(), g, fb, "apple", SearchOptions{LimitPerTable: 2})
	require.NoError(t, err)
	assert.False(t, res.TimedOut)

	perTable := map[string]int{}
	for _, m := range res.Matches {
		perTable[m.Table] += len(m.Matches)
	}
	assert.Equal(t, map[string]int{"customers": 2, "orders": 1}, perTable)
	assert.NotContains(t, perTable, "products", "tables without matches are omitted")

	// the budget is shared across columns: name used both rows, email never ran
	require.Equal(t, "customers", res.Matches[0].Table)
	assert.Equal(t, "name", res.Matches[0].Column)
	assert.NotContains(t, fb.searched, "customers.email")
	assert.NotContains(t, fb.searched, "metrics.value", "non-text columns are skipped")
}

func TestCrossEntitySearch_BudgetSpansColumns(t *testing.T) {
	fb := shopBackend()
	g := buildShop(t, fb)

	res, err := CrossEntitySearch(context.Background(), g, fb, "apple", SearchOptions{LimitPerTable: 3})
	require.NoError(t, err)

	var customerMatches []EntityMatch
	for _, m := range res.Matches {
		if m.Table == "customers" {
			customerMatches = append(customerMatches, m)
		}
	}
	require.Len(t, customerMatches, 2)
	assert.Equal(t, "name", customerMatches[0].Column)
	assert.Len(t, customerMatches[0].Matches, 2)
	assert.Equal(t, "email", customerMatches[1].Column)
	assert.Len(t, customerMatches[1].Matches, 1)
}

func TestCrossEntitySearch_NeverExceedsLimit(t *testing.T) {
	fb := shopBackend()
	g := buildShop(t, fb)

	for limit := 1; limit <= 4; limit++ {
		res, err := CrossEntitySearch(context.Background(), g, fb, "a", SearchOptions{LimitPerTable: limit})
		require.NoError(t, err)
		perTable := map[string]int{}
		for _, m := range res.Matches {
			assert.NotEmpty(t, m.Matches)
			perTable[m.Table] += len(m.Matches)
		}
		for table, n := range perTable {
			assert.LessOrEqual(t, n, limit, table)
		}
	}
}

func TestCrossEntitySearch_EmptyKeyword(t *testing.T) {
	fb := shopBackend()
	g := buildShop(t, fb)
	_, err := CrossEntitySearch(context.Background(), g, fb, "  ", SearchOptions{})
	assert.Error(t, err)
}

func TestCrossEntitySearch_Timeout(t *testing.T) {
	fb := shopBackend()
	g := buildShop(t, fb)
	fb.delay = time.Second
	tracer := observability.NewMockTracer()

	start := time.Now()
	res, err := CrossEntitySearch(context.Background(), g, fb, "apple", SearchOptions{
		Timeout: 50 * time.Millisecond,
		Tracer:  tracer,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.True(t, res.TimedOut)
	assert.Empty(t, res.Matches)
	assert.Equal(t, 1, res.TablesSearched, "only the table without text columns finished")
	assert.Equal(t, 1.0, tracer.MetricTotal(observability.MetricSearchTimeouts))
}

func TestCrossEntitySearch_ParentCancelled(t *testing.T) {
	fb := shopBackend()
	g := buildShop(t, fb)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CrossEntitySearch(ctx, g, fb, "apple", SearchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCrossEntitySearch_BoundedConcurrency(t *testing.T) {
	fb := shopBackend()
	g := buildShop(t, fb)
	fb.delay = 20 * time.Millisecond

	_, err := CrossEntitySearch(context.Background(), g, fb, "x", SearchOptions{Concurrency: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&fb.peak), int32(2))

	fb.concurrency = 1
	atomic.StoreInt32(&fb.peak, 0)
	_, err = CrossEntitySearch(context.Background(), g, fb, "x", SearchOptions{Concurrency: 8})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fb.peak), "backend concurrency limit wins")
}
