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
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/types"
)

// InstrumentedProvider wraps any LLMProvider with a span per call plus call
// and token metrics.
type InstrumentedProvider struct {
	provider types.LLMProvider
	tracer   observability.Tracer
}

// NewInstrumentedProvider creates a new instrumented LLM provider.
func NewInstrumentedProvider(provider types.LLMProvider, tracer observability.Tracer) *InstrumentedProvider {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &InstrumentedProvider{
		provider: provider,
		tracer:   tracer,
	}
}

// Unwrap returns the wrapped provider.
func (p *InstrumentedProvider) Unwrap() types.LLMProvider {
	return p.provider
}

// Name returns the underlying provider name.
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// Model returns the underlying model identifier.
func (p *InstrumentedProvider) Model() string {
	return p.provider.Model()
}

// Chat calls the wrapped provider inside an llm.completion span.
func (p *InstrumentedProvider) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanLLMCompletion,
		observability.WithSpanKind("client"),
		observability.WithAttribute(observability.AttrLLMProvider, p.provider.Name()),
		observability.WithAttribute(observability.AttrLLMModel, p.provider.Model()),
	)
	defer p.tracer.EndSpan(span)

	span.SetAttribute("llm.messages.count", len(messages))
	span.SetAttribute("llm.tools.count", len(tools))
	if len(tools) > 0 {
		names := make([]string, len(tools))
		for i, tool := range tools {
			names[i] = tool.Name()
		}
		span.SetAttribute("llm.tools.names", names)
	}

	labels := map[string]string{
		observability.AttrLLMProvider: p.provider.Name(),
		observability.AttrLLMModel:    p.provider.Model(),
	}

	start := time.Now()
	resp, err := p.provider.Chat(ctx, messages, tools)
	duration := time.Since(start)
	span.SetAttribute("llm.duration_ms", duration.Milliseconds())

	if err != nil {
		span.RecordError(err)
		span.SetAttribute("error.type", fmt.Sprintf("%T", err))
		labels["status"] = "error"
		p.tracer.RecordMetric(observability.MetricLLMCalls, 1, labels)
		return nil, err
	}

	span.SetStatus(observability.StatusOK, "")
	span.SetAttribute("llm.tokens.input", resp.Usage.InputTokens)
	span.SetAttribute("llm.tokens.output", resp.Usage.OutputTokens)
	span.SetAttribute("llm.stop_reason", resp.StopReason)
	span.SetAttribute("llm.tool_calls.count", len(resp.ToolCalls))
	if len(resp.ToolCalls) > 0 {
		called := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			called[i] = tc.Name
		}
		span.SetAttribute("llm.tool_calls.names", called)
	}

	labels["status"] = "ok"
	p.tracer.RecordMetric(observability.MetricLLMCalls, 1, labels)
	p.tracer.RecordMetric(observability.MetricLLMTokens, float64(resp.Usage.InputTokens), map[string]string{
		observability.AttrLLMProvider: p.provider.Name(),
		"direction":                   "input",
	})
	p.tracer.RecordMetric(observability.MetricLLMTokens, float64(resp.Usage.OutputTokens), map[string]string{
		observability.AttrLLMProvider: p.provider.Name(),
		"direction":                   "output",
	})
	return resp, nil
}

var _ types.LLMProvider = (*InstrumentedProvider)(nil)
