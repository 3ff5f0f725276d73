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
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/backends/sqldb"
	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/orchestration"
	"github.com/teradata-labs/weft/pkg/schemagraph"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/storage"
	"github.com/teradata-labs/weft/pkg/types"
)

const shopSchema = `
CREATE TABLE regions (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, region_id INTEGER REFERENCES regions(id));
CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id), amount REAL, status TEXT);
INSERT INTO regions VALUES (1, 'North'), (2, 'South');
INSERT INTO customers VALUES (1, 'Alice', 1), (2, 'Bob', 2);
INSERT INTO orders VALUES (1, 1, 50.0, 'shipped'), (2, 1, 150.0, 'shipped'), (3, 2, 20.0, 'cancelled');
`

type shopSource struct {
	backend fabric.ExecutionBackend
	ds      fabric.DataSource
}

func (s *shopSource) Backend(_ context.Context, id string) (fabric.ExecutionBackend, *fabric.DataSource, error) {
	if id != s.ds.ID {
		return nil, nil, fmt.Errorf("data source %s: %w", id, storage.ErrNotFound)
	}
	ds := s.ds
	return s.backend, &ds, nil
}

func (s *shopSource) Evict(string) error { return nil }

func (s *shopSource) List(context.Context) ([]fabric.DataSource, error) {
	return []fabric.DataSource{s.ds}, nil
}

type stubProvider struct {
	mu    sync.Mutex
	reply func() (*types.LLMResponse, error)
}

func (p *stubProvider) Chat(ctx context.Context, _ []types.Message, _ []shuttle.Tool) (*types.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reply()
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-1" }

func (p *stubProvider) set(reply func() (*types.LLMResponse, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply = reply
}

func submitSQL(sql string) func() (*types.LLMResponse, error) {
	return func() (*types.LLMResponse, error) {
		return &types.LLMResponse{
			ToolCalls: []types.ToolCall{{ID: "t1", Name: "submit_sql", Input: map[string]interface{}{
				"sql":         sql,
				"explanation": "Counts shipped orders.",
			}}},
			StopReason: "tool_use",
		}, nil
	}
}

type testServer struct {
	server   *HTTPServer
	http     *httptest.Server
	store    *storage.SQLStore
	provider *stubProvider
	tracer   *observability.MockTracer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	b, err := sqldb.New(ctx, sqldb.Config{Name: "shop", Type: fabric.DBTypeSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	_, err = b.DB().ExecContext(ctx, shopSchema)
	require.NoError(t, err)

	store, err := storage.OpenSQL(ctx, storage.SQLConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	source := &shopSource{backend: b, ds: fabric.DataSource{
		ID:     "shop",
		Name:   "Shop",
		Type:   fabric.DBTypeSQLite,
		Params: map[string]string{"password": "hunter2"},
	}}
	logger := zaptest.NewLogger(t)
	tracer := observability.NewMockTracer()
	provider := &stubProvider{}

	engine, err := orchestration.NewEngine(orchestration.Config{
		Conversations: store,
		Audit:         store,
		Backends:      source,
		Discovery:     schemagraph.NewService(schemagraph.Config{Backends: source, Logger: logger}),
		Provider:      provider,
		Agent: agent.Config{
			MaxIterations:  4,
			MaxRetries:     0,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
		TokenCounter: &agent.TokenCounter{},
		Tracer:       tracer,
		Logger:       logger,
	})
	require.NoError(t, err)

	srv, err := NewHTTPServer(Config{
		Engine:  engine,
		Sources: source,
		Metrics: http.NotFoundHandler(),
		CORS:    DefaultCORSConfig(),
		Tracer:  tracer,
		Logger:  logger,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.events.Close)
	return &testServer{server: srv, http: ts, store: store, provider: provider, tracer: tracer}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.http.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestNewHTTPServerRequiresEngine(t *testing.T) {
	_, err := NewHTTPServer(Config{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestTurnSubmitsSQL(t *testing.T) {
	s := newTestServer(t)
	sql := "SELECT COUNT(*) FROM orders WHERE status = 'shipped'"
	s.provider.set(submitSQL(sql))

	resp := s.do(t, http.MethodPost, "/v1/conversations/c1/turns", turnRequest{
		DataSourceID: "shop",
		UserID:       "u1",
		Message:      "how many orders were shipped",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res orchestration.TurnResult
	decode(t, resp, &res)
	assert.Equal(t, "c1", res.ConversationID)
	assert.Equal(t, orchestration.StatusFinal, res.Status)
	assert.Equal(t, sql, res.SQL)

	history, err := s.store.History(context.Background(), "c1")
	require.NoError(t, err)
	assert.NotEmpty(t, history)
	assert.Eventually(t, func() bool {
		return s.tracer.MetricTotal(observability.MetricHTTPRequests) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestTurnWithoutConversationID(t *testing.T) {
	s := newTestServer(t)
	s.provider.set(submitSQL("SELECT 1"))

	resp := s.do(t, http.MethodPost, "/v1/turns", turnRequest{DataSourceID: "shop", Message: "count orders"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res orchestration.TurnResult
	decode(t, resp, &res)
	assert.NotEmpty(t, res.ConversationID)
}

func TestTurnFailureStillAnswers(t *testing.T) {
	s := newTestServer(t)
	s.provider.set(func() (*types.LLMResponse, error) { return nil, errors.New("upstream unavailable") })

	resp := s.do(t, http.MethodPost, "/v1/conversations/c1/turns", turnRequest{DataSourceID: "shop", Message: "how many orders"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res orchestration.TurnResult
	decode(t, resp, &res)
	assert.Equal(t, orchestration.StatusFailed, res.Status)
	require.NotNil(t, res.Error)
}

func TestTurnErrors(t *testing.T) {
	s := newTestServer(t)
	s.provider.set(submitSQL("SELECT 1"))

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"empty message", "/v1/conversations/c1/turns", turnRequest{DataSourceID: "shop", Message: " "}, http.StatusBadRequest},
		{"missing data source", "/v1/conversations/c1/turns", turnRequest{Message: "count orders"}, http.StatusBadRequest},
		{"unknown field", "/v1/conversations/c1/turns", map[string]string{"msg": "x"}, http.StatusBadRequest},
		{"unknown data source", "/v1/conversations/c1/turns", turnRequest{DataSourceID: "nope", Message: "count orders"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			var body errorBody
			decode(t, resp, &body)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestTurnConversationConflict(t *testing.T) {
	s := newTestServer(t)
	_, err := s.store.EnsureConversation(context.Background(), storage.Conversation{ID: "c1", DataSourceID: "other"})
	require.NoError(t, err)

	resp := s.do(t, http.MethodPost, "/v1/conversations/c1/turns", turnRequest{DataSourceID: "shop", Message: "count orders"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListDataSourcesHidesParams(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/v1/datasources", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw []map[string]interface{}
	decode(t, resp, &raw)
	require.Len(t, raw, 1)
	assert.Equal(t, "shop", raw[0]["id"])
	assert.NotContains(t, raw[0], "params")
}

func TestDiscoveryEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("entities", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/v1/datasources/shop/entities", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Entities []schemagraph.Entity `json:"entities"`
		}
		decode(t, resp, &body)
		names := make([]string, len(body.Entities))
		for i, e := range body.Entities {
			names[i] = e.Name
		}
		assert.ElementsMatch(t, []string{"customers", "orders", "regions"}, names)
	})

	t.Run("describe", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/v1/datasources/shop/tables/orders", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var table schemagraph.Table
		decode(t, resp, &table)
		assert.Equal(t, "orders", table.Name)
		assert.Len(t, table.Columns, 4)
	})

	t.Run("unknown table", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/v1/datasources/shop/tables/order", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		var body errorBody
		decode(t, resp, &body)
		assert.Contains(t, body.Suggestions, "orders")
	})

	t.Run("compass", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/v1/datasources/shop/compass", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Lines []string `json:"lines"`
		}
		decode(t, resp, &body)
		assert.Contains(t, body.Lines, "orders.customer_id -> customers.id")
	})

	t.Run("join path", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/v1/datasources/shop/join-path?from=orders&to=regions", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Path []string `json:"path"`
		}
		decode(t, resp, &body)
		assert.Equal(t, []string{"orders", "customers", "regions"}, body.Path)
	})

	t.Run("join path requires both ends", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/v1/datasources/shop/join-path?from=orders", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("search", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/v1/datasources/shop/search?keyword=alice&limit=5", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res schemagraph.SearchResult
		decode(t, resp, &res)
		require.Len(t, res.Matches, 1)
		assert.Equal(t, "customers", res.Matches[0].Table)
	})

	t.Run("search limit", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/v1/datasources/shop/search?keyword=alice&limit=0", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSyncBumpsVersion(t *testing.T) {
	s := newTestServer(t)

	var first, second syncResponse
	resp := s.do(t, http.MethodPost, "/v1/datasources/shop/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &first)

	resp = s.do(t, http.MethodPost, "/v1/datasources/shop/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &second)

	assert.Equal(t, 3, second.Tables)
	assert.Greater(t, second.Version, first.Version)
}

func TestQuery(t *testing.T) {
	s := newTestServer(t)

	t.Run("json", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/v1/datasources/shop/query", queryRequest{Query: "SELECT name FROM regions ORDER BY id"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res fabric.QueryResult
		decode(t, resp, &res)
		assert.Equal(t, 2, res.RowCount)
	})

	t.Run("blocked", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/v1/datasources/shop/query", queryRequest{Query: "DROP TABLE orders"})
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		var body errorBody
		decode(t, resp, &body)
		require.NotNil(t, body.Report)
		assert.False(t, body.Report.IsSafe)
	})

	t.Run("backend error", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/v1/datasources/shop/query", queryRequest{Query: "SELECT name FROM regionz"})
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		var body errorBody
		decode(t, resp, &body)
		assert.Contains(t, body.Error, "regionz")
		require.Len(t, body.Suggestions, 1)
		assert.Contains(t, body.Suggestions[0], "list_entities")
	})

	t.Run("empty", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/v1/datasources/shop/query", queryRequest{Query: " "})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("xlsx", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/v1/datasources/shop/query?format=xlsx", queryRequest{Query: "SELECT name FROM regions ORDER BY id"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "shop-")

		f, err := excelize.OpenReader(resp.Body)
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		rows, err := f.GetRows("Result")
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"name"}, {"North"}, {"South"}}, rows)
	})
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, s.http.URL+"/v1/datasources", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := s.http.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestEventsStreamTurnProgress(t *testing.T) {
	s := newTestServer(t)
	s.provider.set(submitSQL("SELECT COUNT(*) FROM orders"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *sse.Event, 64)
	client := sse.NewClient(s.http.URL + "/v1/events")
	go func() {
		_ = client.SubscribeWithContext(ctx, "c7", func(ev *sse.Event) {
			select {
			case got <- ev:
			default:
			}
		})
	}()
	require.Eventually(t, func() bool { return s.server.Events().HasSubscribers("c7") }, 5*time.Second, 10*time.Millisecond)

	resp := s.do(t, http.MethodPost, "/v1/conversations/c7/turns", turnRequest{DataSourceID: "shop", Message: "how many orders"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stages []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-got:
			stages = append(stages, string(ev.Event))
			if string(ev.Event) != EventResult {
				continue
			}
			var res orchestration.TurnResult
			require.NoError(t, json.Unmarshal(ev.Data, &res))
			assert.Equal(t, "c7", res.ConversationID)
			assert.Greater(t, len(stages), 1)
			return
		case <-timeout:
			t.Fatalf("no result event, got %v", stages)
		}
	}
}
