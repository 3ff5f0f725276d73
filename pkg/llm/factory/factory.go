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
// Package factory builds the configured model provider.
package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/anthropic"
	"github.com/teradata-labs/weft/pkg/llm/bedrock"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/types"
)

// Supported providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config selects and configures a provider.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// Bedrock
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	RateLimit llm.RateLimiterConfig
}

// New creates the provider named by cfg.Provider (default anthropic),
// wrapped with tracing.
func New(ctx context.Context, cfg Config, tracer observability.Tracer, logger *zap.Logger) (types.LLMProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *llm.RateLimiter
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Logger == nil {
			cfg.RateLimit.Logger = logger
		}
		limiter = llm.NewRateLimiter(cfg.RateLimit)
	}

	var provider types.LLMProvider
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderAnthropic:
		client, err := anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			RateLimiter: limiter,
		})
		if err != nil {
			return nil, err
		}
		provider = client
	case ProviderBedrock:
		client, err := bedrock.NewClient(ctx, bedrock.Config{
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
			Profile:         cfg.Profile,
			ModelID:         cfg.Model,
			MaxTokens:       cfg.MaxTokens,
			Temperature:     cfg.Temperature,
			Timeout:         cfg.Timeout,
			RateLimiter:     limiter,
		})
		if err != nil {
			return nil, err
		}
		provider = client
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q (supported: %s, %s)", cfg.Provider, ProviderAnthropic, ProviderBedrock)
	}

	if _, ok := LookupModel(provider.Model()); !ok {
		logger.Warn("Model is not in the known model list; cost estimates use default pricing",
			zap.String("provider", provider.Name()),
			zap.String("model", provider.Model()))
	}
	logger.Info("LLM provider ready",
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()),
		zap.Bool("rate_limited", limiter != nil))
	return llm.NewInstrumentedProvider(provider, tracer), nil
}
