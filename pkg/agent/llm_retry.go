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
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/types"
)

// chatWithRetry calls the model with bounded exponential backoff. The
// returned error wraps the last provider error; callers decide whether the
// context or the provider is to blame.
func (n *Node) chatWithRetry(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	var lastErr error
	delay := n.config.InitialBackoff

	for attempt := 0; attempt <= n.config.MaxRetries; attempt++ {
		response, err := n.provider.Chat(ctx, messages, tools)
		if err == nil {
			if attempt > 0 {
				n.logger.Info("LLM retry succeeded", zap.Int("attempt", attempt+1))
			}
			return response, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("llm call failed (attempt %d/%d): %w", attempt+1, n.config.MaxRetries+1, ctx.Err())
		}
		if attempt >= n.config.MaxRetries {
			break
		}

		n.logger.Warn("LLM call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", n.config.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		n.tracer.RecordMetric(observability.MetricLLMRetries, 1, map[string]string{
			observability.AttrLLMProvider: n.provider.Name(),
			observability.AttrRole:        string(n.role),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("llm call failed (attempt %d/%d): %w", attempt+1, n.config.MaxRetries+1, ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * n.config.Multiplier)
		if delay > n.config.MaxBackoff {
			delay = n.config.MaxBackoff
		}
	}

	n.logger.Error("LLM retries exhausted",
		zap.Int("max_retries", n.config.MaxRetries),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("llm call failed after %d attempts: %w", n.config.MaxRetries+1, lastErr)
}
