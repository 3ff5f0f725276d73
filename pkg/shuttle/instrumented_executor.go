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
package shuttle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teradata-labs/weft/pkg/observability"
)

// Invoker is anything that runs tools by name. Both Executor and
// InstrumentedExecutor satisfy it.
type Invoker interface {
	Execute(ctx context.Context, toolName string, params map[string]interface{}) (*Result, error)
}

// InstrumentedExecutor wraps an Executor with a span and metrics per call.
type InstrumentedExecutor struct {
	executor *Executor
	tracer   observability.Tracer
}

// NewInstrumentedExecutor creates a new instrumented tool executor.
func NewInstrumentedExecutor(executor *Executor, tracer observability.Tracer) *InstrumentedExecutor {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &InstrumentedExecutor{
		executor: executor,
		tracer:   tracer,
	}
}

// Execute executes a tool by name with observability instrumentation.
func (e *InstrumentedExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}) (*Result, error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanToolExecute,
		observability.WithAttribute(observability.AttrToolName, toolName))
	defer e.tracer.EndSpan(span)

	if len(params) > 0 {
		// Large argument payloads are summarised as a count.
		if paramsJSON, err := json.Marshal(params); err == nil && len(paramsJSON) < 1000 {
			span.SetAttribute("tool.args", string(paramsJSON))
		} else {
			span.SetAttribute("tool.args.count", len(params))
		}
	}

	start := time.Now()
	result, err := e.executor.Execute(ctx, toolName, params)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		e.tracer.RecordMetric(observability.MetricToolErrors, 1, map[string]string{
			observability.AttrToolName: toolName,
			"error_type":               "executor_error",
		})
		return nil, err
	}

	status := "success"
	if result.Success {
		span.SetStatus(observability.StatusOK, "")
	} else {
		status = "error"
		span.SetStatus(observability.StatusError, result.Error.Message)
		span.SetAttribute("tool.error.code", result.Error.Code)
		span.SetAttribute("tool.error.retryable", result.Error.Retryable)
		e.tracer.RecordMetric(observability.MetricToolErrors, 1, map[string]string{
			observability.AttrToolName: toolName,
			"error_type":               "tool_error",
			"error_code":               result.Error.Code,
			"retryable":                fmt.Sprintf("%t", result.Error.Retryable),
		})
	}
	span.SetAttribute("tool.execution_time_ms", result.ExecutionTimeMs)
	span.SetAttribute("duration_ms", duration.Milliseconds())

	e.tracer.RecordMetric(observability.MetricToolCalls, 1, map[string]string{
		observability.AttrToolName: toolName,
		"status":                   status,
	})
	return result, nil
}

var (
	_ Invoker = (*Executor)(nil)
	_ Invoker = (*InstrumentedExecutor)(nil)
)
