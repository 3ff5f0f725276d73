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
// Package elasticsearch implements fabric.ExecutionBackend for Elasticsearch
// clusters. Indices are exposed as resources, mappings as schemas and the
// query DSL as the query language.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/fabric"
)

var (
	_ fabric.ExecutionBackend = (*Backend)(nil)
	_ fabric.IndexQuerier     = (*Backend)(nil)
)

// Config configures a Backend.
type Config struct {
	Name      string
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	// IncludeHidden lists indices whose name starts with a dot.
	IncludeHidden bool
	Logger        *zap.Logger
}

// Backend talks to Elasticsearch over its REST API.
type Backend struct {
	client        *es.Client
	name          string
	includeHidden bool
	logger        *zap.Logger
}

// Factory opens a Backend for an elasticsearch data source. params.url may
// hold several comma separated addresses.
func Factory(ctx context.Context, ds *fabric.DataSource) (fabric.ExecutionBackend, error) {
	raw := ds.Param("url", ds.Param("addresses", ""))
	var addrs []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	hidden, _ := strconv.ParseBool(ds.Param("include_hidden", "false"))
	return New(ctx, Config{
		Name:          ds.ID,
		Addresses:     addrs,
		Username:      ds.Param("username", ""),
		Password:      ds.Param("password", ""),
		APIKey:        ds.Param("api_key", ""),
		IncludeHidden: hidden,
		Logger:        zap.L().With(zap.String("data_source_id", ds.ID)),
	})
}

// New creates a client and verifies the cluster answers.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch address is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	b := &Backend{
		client:        client,
		name:          cfg.Name,
		includeHidden: cfg.IncludeHidden,
		logger:        cfg.Logger,
	}
	if err := b.Ping(ctx); err != nil {
		return nil, err
	}
	cfg.Logger.Info("elasticsearch backend connected",
		zap.String("name", cfg.Name),
		zap.Strings("addresses", cfg.Addresses),
	)
	return b, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return b.name
}

// Ping checks that the cluster responds.
func (b *Backend) Ping(ctx context.Context) error {
	res, err := b.client.Info(b.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to reach elasticsearch: %w", err)
	}
	return decode(res, nil)
}

// ListResources lists indices. Supported filters: "prefix".
func (b *Backend) ListResources(ctx context.Context, filters map[string]string) ([]fabric.Resource, error) {
	res, err := b.client.Cat.Indices(
		b.client.Cat.Indices.WithContext(ctx),
		b.client.Cat.Indices.WithFormat("json"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list indices: %w", err)
	}

	var indices []struct {
		Index     string `json:"index"`
		Health    string `json:"health"`
		DocsCount string `json:"docs.count"`
	}
	if err := decode(res, &indices); err != nil {
		return nil, fmt.Errorf("failed to list indices: %w", err)
	}

	prefix := strings.ToLower(filters["prefix"])
	resources := make([]fabric.Resource, 0, len(indices))
	for _, idx := range indices {
		if !b.includeHidden && strings.HasPrefix(idx.Index, ".") {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(idx.Index), prefix) {
			continue
		}
		r := fabric.Resource{
			Name:     idx.Index,
			Type:     "index",
			Metadata: map[string]interface{}{"health": idx.Health},
		}
		if n, err := strconv.ParseInt(idx.DocsCount, 10, 64); err == nil {
			r.Metadata["row_estimate"] = n
		}
		resources = append(resources, r)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].Name < resources[j].Name })
	return resources, nil
}

type mappingProperty struct {
	Type       string                     `json:"type"`
	Properties map[string]mappingProperty `json:"properties"`
	Fields     map[string]mappingProperty `json:"fields"`
}

// GetSchema flattens the index mapping into dotted field names. Multi-fields
// such as name.keyword are listed after their parent.
func (b *Backend) GetSchema(ctx context.Context, resource string) (*fabric.Schema, error) {
	res, err := b.client.Indices.GetMapping(
		b.client.Indices.GetMapping.WithContext(ctx),
		b.client.Indices.GetMapping.WithIndex(resource),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	var body map[string]struct {
		Mappings struct {
			Properties map[string]mappingProperty `json:"properties"`
		} `json:"mappings"`
	}
	if err := decode(res, &body); err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	idx, ok := body[resource]
	if !ok {
		// aliases resolve to the concrete index name
		for _, v := range body {
			idx = v
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("no such index: %s", resource)
	}

	var fields []fabric.Field
	flattenProperties("", idx.Mappings.Properties, &fields)
	return &fabric.Schema{
		Name:   resource,
		Type:   "index",
		Fields: fields,
	}, nil
}

func flattenProperties(prefix string, props map[string]mappingProperty, out *[]fabric.Field) {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := props[name]
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		if len(p.Properties) > 0 {
			flattenProperties(full, p.Properties, out)
			continue
		}
		typ := p.Type
		if typ == "" {
			typ = "object"
		}
		*out = append(*out, fabric.Field{Name: full, Type: typ, Nullable: true})
		flattenProperties(full, p.Fields, out)
	}
}

// ExecuteQuery runs a query DSL document. A top-level "index" key selects the
// target index and is stripped before the body is sent.
func (b *Backend) ExecuteQuery(ctx context.Context, query string) (*fabric.QueryResult, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(query), &doc); err != nil {
		return nil, fmt.Errorf("query must be a JSON object: %w", err)
	}
	index, _ := doc["index"].(string)
	delete(doc, "index")
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return b.search(ctx, index, body, -1)
}

// ExecuteIndexQuery runs a query DSL document against one index.
func (b *Backend) ExecuteIndexQuery(ctx context.Context, index, query string) (*fabric.QueryResult, error) {
	if !json.Valid([]byte(query)) {
		return nil, fmt.Errorf("query must be a JSON object")
	}
	return b.search(ctx, index, []byte(query), -1)
}

// SampleRows returns the first limit documents of an index.
func (b *Backend) SampleRows(ctx context.Context, resource string, limit int) (*fabric.QueryResult, error) {
	if limit <= 0 {
		limit = 5
	}
	return b.search(ctx, resource, []byte(`{"query":{"match_all":{}}}`), limit)
}

// SearchColumn finds documents whose field contains keyword, case-insensitively.
func (b *Backend) SearchColumn(ctx context.Context, resource, column, keyword string, limit int) (*fabric.QueryResult, error) {
	if limit <= 0 {
		limit = 5
	}
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"wildcard": map[string]interface{}{
				column: map[string]interface{}{
					"value":            "*" + wildcardEscaper.Replace(strings.ToLower(keyword)) + "*",
					"case_insensitive": true,
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return b.search(ctx, resource, body, limit)
}

var wildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

type searchResponse struct {
	Took int64 `json:"took"`
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Index  string                 `json:"_index"`
			ID     string                 `json:"_id"`
			Score  *float64               `json:"_score"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]interface{} `json:"aggregations"`
}

func (b *Backend) search(ctx context.Context, index string, body []byte, size int) (*fabric.QueryResult, error) {
	start := time.Now()
	opts := []func(*esapi.SearchRequest){
		b.client.Search.WithContext(ctx),
		b.client.Search.WithBody(bytes.NewReader(body)),
	}
	if index != "" {
		opts = append(opts, b.client.Search.WithIndex(index))
	}
	if size >= 0 {
		opts = append(opts, b.client.Search.WithSize(size))
	}

	res, err := b.client.Search(opts...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	var sr searchResponse
	if err := decode(res, &sr); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	result := &fabric.QueryResult{
		Type: "hits",
		Rows: []map[string]interface{}{},
		Metadata: map[string]interface{}{
			"total_hits": sr.Hits.Total.Value,
			"took_ms":    sr.Took,
		},
	}
	if len(sr.Aggregations) > 0 {
		result.Metadata["aggregations"] = sr.Aggregations
	}

	seen := map[string]bool{}
	addColumn := func(name string) {
		if !seen[name] {
			seen[name] = true
			result.Columns = append(result.Columns, fabric.Column{Name: name, Nullable: true})
		}
	}
	addColumn("_id")
	for _, hit := range sr.Hits.Hits {
		if len(result.Rows) >= fabric.MaxResultRows {
			result.Truncated = true
			break
		}
		row := make(map[string]interface{}, len(hit.Source)+1)
		row["_id"] = hit.ID
		keys := make([]string, 0, len(hit.Source))
		for k, v := range hit.Source {
			row[k] = v
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			addColumn(k)
		}
		result.Rows = append(result.Rows, row)
	}
	result.RowCount = len(result.Rows)
	result.ExecutionStats.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// decode closes the response body, turning error statuses into errors.
func decode(res *esapi.Response, v interface{}) error {
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		var e struct {
			Error struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error.Reason != "" {
			return fmt.Errorf("elasticsearch %s: %s: %s", res.Status(), e.Error.Type, e.Error.Reason)
		}
		return fmt.Errorf("elasticsearch %s: %s", res.Status(), strings.TrimSpace(string(raw)))
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(v)
}

// Capabilities reports full-text search support.
func (b *Backend) Capabilities() *fabric.Capabilities {
	return fabric.NewCapabilities().
		WithConcurrency(true, 5).
		WithFeature(fabric.FeatureFullText, true).
		WithFeature(fabric.FeatureRowEstimate, true).
		WithLimit("max_result_rows", fabric.MaxResultRows)
}

// Close is a no-op; the HTTP transport holds no dedicated resources.
func (b *Backend) Close() error {
	return nil
}
