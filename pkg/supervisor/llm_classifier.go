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
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MakeNowJust/heredoc"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/types"
)

// LLMClassifierConfig configures the model-backed classifier.
type LLMClassifierConfig struct {
	// Provider should be a fast model; classification needs a single word.
	Provider types.LLMProvider

	// CacheTTL enables result caching when positive (default 15 minutes
	// through DefaultLLMClassifierConfig).
	CacheTTL time.Duration

	// CacheSize bounds the number of cached messages (default 5000).
	CacheSize int

	Logger *zap.Logger
}

// DefaultLLMClassifierConfig returns a config with caching enabled.
func DefaultLLMClassifierConfig(provider types.LLMProvider) LLMClassifierConfig {
	return LLMClassifierConfig{
		Provider:  provider,
		CacheTTL:  15 * time.Minute,
		CacheSize: 5000,
	}
}

// LLMClassifier asks the model for exactly one label.
type LLMClassifier struct {
	provider types.LLMProvider
	cache    *classificationCache
	logger   *zap.Logger
}

// NewLLMClassifier creates an LLM-based intent classifier.
func NewLLMClassifier(cfg LLMClassifierConfig) *LLMClassifier {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var cache *classificationCache
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = 5000
		}
		cache = newClassificationCache(size, cfg.CacheTTL)
	}
	return &LLMClassifier{provider: cfg.Provider, cache: cache, logger: logger}
}

var classificationPrompt = heredoc.Doc(`
	You route questions about a database or search index to one of two handlers.

	discovery: the user wants to know what exists. Tables, indices, columns, types,
	relations between tables, what a field means, sample values.
	Examples: "what tables are there", "users 表有哪些字段？", "how is orders related to customers"

	generation: the user wants data. Counts, sums, rankings, filters, trends, lists of
	records, or explicitly asks for a query to be written.
	Examples: "统计去年的销售额", "top 10 customers by revenue", "write SQL for active users"

	Answer with exactly one word: discovery or generation.
`)

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, message string) (Label, error) {
	if c.provider == nil {
		return "", fmt.Errorf("%w: no model provider", ErrClassification)
	}
	key := strings.TrimSpace(message)
	if key == "" {
		return "", fmt.Errorf("%w: empty message", ErrClassification)
	}
	if c.cache != nil {
		if label, ok := c.cache.Get(key); ok {
			return label, nil
		}
	}

	resp, err := c.provider.Chat(ctx, []types.Message{
		{Role: types.RoleSystem, Content: classificationPrompt},
		{Role: types.RoleUser, Content: key},
	}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: model call: %w", ErrClassification, err)
	}

	label, err := ParseLabel(resp.Content)
	if err != nil {
		c.logger.Warn("Classifier returned an unknown label", zap.String("raw", resp.Content))
		return "", err
	}
	if c.cache != nil {
		c.cache.Set(key, label)
	}
	return label, nil
}

// classificationCache is a TTL cache keyed by message text.
type classificationCache struct {
	mu      sync.RWMutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	label   Label
	created time.Time
}

func newClassificationCache(maxSize int, ttl time.Duration) *classificationCache {
	return &classificationCache{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *classificationCache) Get(message string) (Label, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[message]
	if !ok || c.now().Sub(entry.created) > c.ttl {
		return "", false
	}
	return entry.label, true
}

func (c *classificationCache) Set(message string, label Label) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.evict()
	}
	c.entries[message] = cacheEntry{label: label, created: c.now()}
}

// evict drops expired entries, then arbitrary ones until a fifth of the
// capacity is free. Called with the lock held.
func (c *classificationCache) evict() {
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.created) > c.ttl {
			delete(c.entries, k)
		}
	}
	target := c.maxSize - c.maxSize/5
	if target >= c.maxSize {
		target = c.maxSize - 1
	}
	for k := range c.entries {
		if len(c.entries) <= target {
			break
		}
		delete(c.entries, k)
	}
}

func (c *classificationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
