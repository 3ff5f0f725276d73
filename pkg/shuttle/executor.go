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
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// Executor runs tools by name. Every failure the model can react to
// (unknown tool, invalid arguments, a tool error, a per-call timeout) comes
// back as a failed Result; the returned error is non-nil only when the
// caller's context is done, so turn cancellation still propagates.
type Executor struct {
	registry          *Registry
	permissionChecker *PermissionChecker
	timeout           time.Duration
	logger            *zap.Logger

	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPermissionChecker installs a permission checker.
func WithPermissionChecker(pc *PermissionChecker) ExecutorOption {
	return func(e *Executor) { e.permissionChecker = pc }
}

// WithToolTimeout bounds each tool call.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the executor logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates a new tool executor.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		logger:   zap.NewNop(),
		schemas:  make(map[string]*gojsonschema.Schema),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor resolves names against.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute executes a tool by name with the given parameters.
func (e *Executor) Execute(ctx context.Context, toolName string, params map[string]interface{}) (*Result, error) {
	tool, ok := e.registry.Get(toolName)
	if !ok {
		return Failure(CodeUnknownTool,
			fmt.Sprintf("tool not found: %s", toolName),
			fmt.Sprintf("available tools: %v", e.registry.List())), nil
	}
	return e.ExecuteWithTool(ctx, tool, params)
}

// ExecuteWithTool executes a specific tool instance (not from registry).
func (e *Executor) ExecuteWithTool(ctx context.Context, tool Tool, params map[string]interface{}) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.permissionChecker.CheckPermission(tool.Name()); err != nil {
		return Failure(CodeDisabled, err.Error(), ""), nil
	}

	// LLMs naturally use snake_case, but some schemas use camelCase.
	params = normalizeParametersToSchema(tool, params)
	if params == nil {
		params = map[string]interface{}{}
	}

	schema, err := e.compiled(tool)
	if err != nil {
		return Failure(CodeExecutionFailed, err.Error(), ""), nil
	}
	if err := ValidateArgs(schema, params); err != nil {
		return &Result{
			Success: false,
			Error: &Error{
				Code:       CodeInvalidArguments,
				Message:    err.Error(),
				Suggestion: "fix the arguments to match the tool's input schema and call it again",
				Retryable:  true,
			},
		}, nil
	}

	toolCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := tool.Execute(toolCtx, params)
	duration := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Debug("tool failed",
			zap.String("tool", tool.Name()),
			zap.Duration("duration", duration),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			result = Failure(CodeTimeout, fmt.Sprintf("%s timed out after %s", tool.Name(), e.timeout), "narrow the request and try again")
			result.Error.Retryable = true
		} else if errors.Is(err, ErrInvalidArguments) {
			result = Failure(CodeInvalidArguments, err.Error(), "")
		} else {
			result = Failure(CodeExecutionFailed, err.Error(), "")
		}
	} else if result == nil {
		result = &Result{Success: true}
	}

	// Executor timing is authoritative.
	result.ExecutionTimeMs = duration.Milliseconds()
	return result, nil
}

func (e *Executor) compiled(tool Tool) (*gojsonschema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.schemas[tool.Name()]; ok {
		return s, nil
	}
	s, err := CompileSchema(tool.InputSchema())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tool.Name(), err)
	}
	e.schemas[tool.Name()] = s
	return s, nil
}

// normalizeParametersToSchema renames parameters whose names differ from the
// schema only by naming convention (tableName vs table_name).
func normalizeParametersToSchema(tool Tool, params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return params
	}

	schema := tool.InputSchema()
	if schema == nil || schema.Properties == nil {
		return params
	}

	schemaKeys := make(map[string]string, len(schema.Properties))
	for key := range schema.Properties {
		schemaKeys[toLowerUnderscore(key)] = key
	}

	normalized := make(map[string]interface{}, len(params))
	for key, value := range params {
		if _, exact := schema.Properties[key]; exact {
			normalized[key] = value
			continue
		}
		if schemaKey, exists := schemaKeys[toLowerUnderscore(key)]; exists {
			if _, taken := params[schemaKey]; !taken {
				normalized[schemaKey] = value
				continue
			}
		}
		normalized[key] = value
	}
	return normalized
}

// toLowerUnderscore converts any naming convention to lowercase with underscores.
func toLowerUnderscore(s string) string {
	if s == "" {
		return ""
	}

	var result []rune
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '_')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}
