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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/types"
)

type stubProvider struct {
	resp *types.LLMResponse
	err  error
}

func (s *stubProvider) Chat(context.Context, []types.Message, []shuttle.Tool) (*types.LLMResponse, error) {
	return s.resp, s.err
}
func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-1" }

func TestInstrumentedProvider_Success(t *testing.T) {
	tracer := observability.NewMockTracer()
	p := NewInstrumentedProvider(&stubProvider{resp: &types.LLMResponse{
		ToolCalls:  []types.ToolCall{{ID: "t1", Name: "list_entities"}},
		StopReason: "tool_use",
		Usage:      types.Usage{InputTokens: 120, OutputTokens: 30, TotalTokens: 150},
	}}, tracer)

	tools := []shuttle.Tool{shuttle.NewFuncTool("list_entities", "", nil, nil)}
	resp, err := p.Chat(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, tools)
	require.NoError(t, err)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, "stub", p.Name())
	assert.Equal(t, "stub-1", p.Model())

	spans := tracer.GetSpansByName(observability.SpanLLMCompletion)
	require.Len(t, spans, 1)
	assert.Equal(t, observability.StatusOK, spans[0].Status.Code)
	v, ok := spans[0].Attribute("llm.tool_calls.names")
	require.True(t, ok)
	assert.Equal(t, []string{"list_entities"}, v)
	assert.Equal(t, float64(1), tracer.MetricTotal(observability.MetricLLMCalls))
	assert.Equal(t, float64(150), tracer.MetricTotal(observability.MetricLLMTokens))
}

func TestInstrumentedProvider_Error(t *testing.T) {
	tracer := observability.NewMockTracer()
	p := NewInstrumentedProvider(&stubProvider{err: errors.New("503 service unavailable")}, tracer)
	_, err := p.Chat(context.Background(), nil, nil)
	require.Error(t, err)

	spans := tracer.GetSpansByName(observability.SpanLLMCompletion)
	require.Len(t, spans, 1)
	assert.Equal(t, observability.StatusError, spans[0].Status.Code)
	assert.Zero(t, tracer.MetricTotal(observability.MetricLLMTokens))
}
