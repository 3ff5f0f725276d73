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
	"sync"
)

// FuncTool adapts a function to the Tool interface. It records every call,
// which makes it the stand-in tool for loop and executor tests.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Schema          *JSONSchema
	Fn              func(ctx context.Context, params map[string]interface{}) (*Result, error)

	mu    sync.Mutex
	calls []map[string]interface{}
}

// NewFuncTool creates a function-backed tool.
func NewFuncTool(name, description string, schema *JSONSchema, fn func(ctx context.Context, params map[string]interface{}) (*Result, error)) *FuncTool {
	return &FuncTool{ToolName: name, ToolDescription: description, Schema: schema, Fn: fn}
}

// Name implements Tool.
func (f *FuncTool) Name() string { return f.ToolName }

// Description implements Tool.
func (f *FuncTool) Description() string { return f.ToolDescription }

// InputSchema implements Tool. A nil schema accepts any object.
func (f *FuncTool) InputSchema() *JSONSchema {
	if f.Schema == nil {
		return NewObjectSchema(f.ToolDescription, nil, nil)
	}
	return f.Schema
}

// Execute records the call and runs Fn.
func (f *FuncTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()
	if f.Fn == nil {
		return Success("ok"), nil
	}
	return f.Fn(ctx, params)
}

// Calls returns the parameters of every call so far.
func (f *FuncTool) Calls() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, len(f.calls))
	copy(out, f.calls)
	return out
}

var _ Tool = (*FuncTool)(nil)
