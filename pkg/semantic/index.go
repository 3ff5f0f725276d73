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
// Package semantic keeps an embedding index of table descriptions per data
// source so large schemas can be narrowed to the tables relevant to a question.
package semantic

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/schemagraph"
)

// Config configures an Index.
type Config struct {
	// Provider selects the embedding backend: "ollama" or "openai".
	Provider string
	Model    string
	BaseURL  string
	APIKey   string

	// PersistPath stores vectors on disk. Empty keeps them in memory.
	PersistPath string

	// Embed overrides Provider, mainly for tests.
	Embed chromem.EmbeddingFunc

	Tracer observability.Tracer
	Logger *zap.Logger
}

// TableRef is a table ranked by similarity to a query.
type TableRef struct {
	DataSourceID string  `json:"data_source_id"`
	Table        string  `json:"table"`
	Similarity   float32 `json:"similarity"`
}

// Index embeds table descriptions into one chromem collection per data source.
type Index struct {
	db     *chromem.DB
	embed  chromem.EmbeddingFunc
	tracer observability.Tracer
	logger *zap.Logger

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewIndex creates an embedding index.
func NewIndex(cfg Config) (*Index, error) {
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	embed := cfg.Embed
	if embed == nil {
		var err error
		embed, err = embeddingFunc(cfg)
		if err != nil {
			return nil, err
		}
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create vector directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collections := make(map[string]*chromem.Collection)
	for name := range db.ListCollections() {
		if id, ok := strings.CutPrefix(name, collectionPrefix); ok {
			collections[id] = db.GetCollection(name, embed)
		}
	}

	return &Index{
		db:          db,
		embed:       embed,
		tracer:      cfg.Tracer,
		logger:      cfg.Logger,
		collections: collections,
	}, nil
}

func embeddingFunc(cfg Config) (chromem.EmbeddingFunc, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return chromem.NewEmbeddingFuncOllama(model, cfg.BaseURL), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embeddings require an API key")
		}
		model := chromem.EmbeddingModelOpenAI(cfg.Model)
		if model == "" {
			model = chromem.EmbeddingModelOpenAI3Small
		}
		return chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, model), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q (supported: ollama, openai)", cfg.Provider)
	}
}

const collectionPrefix = "tables_"

func collectionName(dataSourceID string) string {
	return collectionPrefix + dataSourceID
}

// Embed turns text into a vector.
func (i *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	return i.embed(ctx, text)
}

// Indexed reports whether a data source has an index.
func (i *Index) Indexed(dataSourceID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	c, ok := i.collections[dataSourceID]
	return ok && c.Count() > 0
}

// IndexGraph replaces the data source's collection with one document per table.
func (i *Index) IndexGraph(ctx context.Context, g *schemagraph.Graph) error {
	ctx, span := i.tracer.StartSpan(ctx, observability.SpanSemanticIndex,
		observability.WithAttribute(observability.AttrDataSourceID, g.DataSourceID))
	defer i.tracer.EndSpan(span)

	docs := make([]chromem.Document, 0, g.Len())
	for _, name := range g.TableNames() {
		t, err := g.Describe(name)
		if err != nil {
			return err
		}
		docs = append(docs, chromem.Document{
			ID:       name,
			Content:  describeTable(t),
			Metadata: map[string]string{"table": name, "type": t.Type},
		})
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	name := collectionName(g.DataSourceID)
	if err := i.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to reset collection: %w", err)
	}
	delete(i.collections, g.DataSourceID)
	col, err := i.db.GetOrCreateCollection(name, map[string]string{"data_source_id": g.DataSourceID}, i.embed)
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to index tables: %w", err)
		}
	}
	i.collections[g.DataSourceID] = col
	span.SetAttribute("semantic.documents", len(docs))
	i.logger.Info("schema embeddings indexed",
		zap.String("data_source_id", g.DataSourceID),
		zap.Int("tables", len(docs)))
	return nil
}

// describeTable renders the text that gets embedded for a table.
func describeTable(t *schemagraph.Table) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "table %s", t.Name)
	if t.Description != "" {
		fmt.Fprintf(&sb, ": %s", t.Description)
	}
	sb.WriteString("\ncolumns:")
	for _, c := range t.Columns {
		fmt.Fprintf(&sb, " %s (%s)", c.Name, c.Type)
		if c.Description != "" {
			fmt.Fprintf(&sb, " %s", c.Description)
		}
		if c.References != nil {
			fmt.Fprintf(&sb, " references %s.%s", c.References.Table, c.References.Column)
		}
		sb.WriteString(",")
	}
	return strings.TrimSuffix(sb.String(), ",")
}

// Nearest returns up to k tables closest to vector. k is clamped to the
// number of indexed tables.
func (i *Index) Nearest(ctx context.Context, dataSourceID string, vector []float32, k int) ([]TableRef, error) {
	i.mu.RLock()
	col, ok := i.collections[dataSourceID]
	i.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("data source %s has no semantic index", dataSourceID)
	}

	if n := col.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return []TableRef{}, nil
	}
	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("nearest tables: %w", err)
	}
	refs := make([]TableRef, 0, len(results))
	for _, r := range results {
		refs = append(refs, TableRef{DataSourceID: dataSourceID, Table: r.ID, Similarity: r.Similarity})
	}
	return refs, nil
}

// FindRelevantTables embeds question and returns the k nearest tables.
func (i *Index) FindRelevantTables(ctx context.Context, dataSourceID, question string, k int) ([]TableRef, error) {
	vec, err := i.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	return i.Nearest(ctx, dataSourceID, vec, k)
}

// Drop removes a data source's index.
func (i *Index) Drop(dataSourceID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.collections, dataSourceID)
	return i.db.DeleteCollection(collectionName(dataSourceID))
}
