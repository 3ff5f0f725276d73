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
	"time"
)

// Config bounds one agent node's loop.
type Config struct {
	// MaxIterations is the ceiling on model round-trips per turn.
	MaxIterations int `mapstructure:"max_iterations" json:"max_iterations" jsonschema:"default=12"`

	// MaxRetries is how often a failed model call is retried before the
	// turn fails with ProviderFailure.
	MaxRetries int `mapstructure:"max_retries" json:"max_retries" jsonschema:"default=2"`

	InitialBackoff time.Duration `mapstructure:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier" json:"multiplier"`

	// MaxToolResultTokens truncates tool results fed back to the model.
	MaxToolResultTokens int `mapstructure:"max_tool_result_tokens" json:"max_tool_result_tokens" jsonschema:"default=4000"`

	// ParallelTools runs independent ordinary tool calls of one model
	// response concurrently.
	ParallelTools bool `mapstructure:"parallel_tools" json:"parallel_tools"`

	// ToolConcurrency caps concurrent tool calls when ParallelTools is set.
	ToolConcurrency int `mapstructure:"tool_concurrency" json:"tool_concurrency"`

	// ToolTimeout bounds a single tool call.
	ToolTimeout time.Duration `mapstructure:"tool_timeout" json:"tool_timeout"`
}

// DefaultConfig returns the default loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       12,
		MaxRetries:          2,
		InitialBackoff:      500 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		Multiplier:          2,
		MaxToolResultTokens: 4000,
		ParallelTools:       true,
		ToolConcurrency:     4,
		ToolTimeout:         30 * time.Second,
	}
}

// withDefaults fills zero fields. MaxRetries 0 is honoured; a negative value
// means the default.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxToolResultTokens <= 0 {
		c.MaxToolResultTokens = d.MaxToolResultTokens
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = d.ToolConcurrency
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = d.ToolTimeout
	}
	return c
}
