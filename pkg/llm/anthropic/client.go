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
// Package anthropic implements types.LLMProvider on the official Claude SDK.
// The same client serves the hosted API and Bedrock; only the SDK transport
// differs.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens is the default maximum output tokens per request.
	DefaultMaxTokens = 4096
	// DefaultTemperature keeps query generation close to deterministic.
	DefaultTemperature = 0.2
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the Claude client.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string // Default: the SDK's endpoint, or ANTHROPIC_BASE_URL
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// RateLimiter is shared by every client of the process; nil disables limiting.
	RateLimiter *llm.RateLimiter
}

func (c *Config) setDefaults() {
	if c.Model == "" {
		if env := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); env != "" {
			c.Model = env
		} else {
			c.Model = DefaultModel
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// Client implements types.LLMProvider for Claude.
type Client struct {
	client      sdk.Client
	name        string
	model       string
	maxTokens   int64
	temperature float64
	rateLimiter *llm.RateLimiter
}

// NewClient creates a client for the hosted Claude API.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured (set llm.api_key, ANTHROPIC_API_KEY or run 'weft config set-key anthropic')")
	}
	cfg.setDefaults()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		// Retries belong to the agent loop, which bounds and reports them.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return NewWithSDK(sdk.NewClient(opts...), "anthropic", cfg), nil
}

// NewWithSDK wraps an already configured SDK client, such as one using the
// Bedrock transport, under the given provider name.
func NewWithSDK(client sdk.Client, name string, cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		client:      client,
		name:        name,
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
		rateLimiter: cfg.RateLimiter,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends the conversation and declared tools to Claude.
func (c *Client) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	system, history := types.SplitSystem(messages)

	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	nameMap := llm.BuildToolNameMap(names)

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   c.maxTokens,
		Messages:    ConvertMessages(history),
		Temperature: sdk.Float(c.temperature),
	}
	if len(params.Messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = ConvertTools(tools)
	}

	var msg *sdk.Message
	if c.rateLimiter != nil {
		out, err := c.rateLimiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
			return c.client.Messages.New(ctx, params)
		})
		if err != nil {
			return nil, fmt.Errorf("%s messages call: %w", c.name, err)
		}
		msg = out.(*sdk.Message)
	} else {
		var err error
		msg, err = c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("%s messages call: %w", c.name, err)
		}
	}

	resp := ConvertResponse(msg, nameMap)
	c.rateLimiter.RecordTokenUsage(int64(resp.Usage.TotalTokens))
	return resp, nil
}

// ConvertMessages maps the conversation onto Claude message params. System
// messages must be split off first. Consecutive tool results are merged into
// one user turn, which is how Claude expects parallel tool results.
func ConvertMessages(messages []types.Message) []sdk.MessageParam {
	var out []sdk.MessageParam
	var pendingResults []sdk.ContentBlockParamUnion
	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, sdk.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleTool:
			content := msg.Content
			if content == "" {
				content = "ok"
			}
			pendingResults = append(pendingResults, sdk.NewToolResultBlock(msg.ToolUseID, content, msg.IsError))
		case types.RoleUser:
			flush()
			if msg.Content != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
			}
		case types.RoleAssistant:
			flush()
			var blocks []sdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input interface{} = tc.Input
				if tc.Input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, llm.SanitizeToolName(tc.Name)))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		}
	}
	flush()
	return out
}

// ConvertTools declares shuttle tools to Claude.
func ConvertTools(tools []shuttle.Tool) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		param := sdk.ToolParam{
			Name:        llm.SanitizeToolName(t.Name()),
			Description: sdk.String(t.Description()),
		}
		if schema := t.InputSchema(); schema != nil {
			param.InputSchema = sdk.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			}
		}
		out = append(out, sdk.ToolUnionParam{OfTool: &param})
	}
	return out
}

// ConvertResponse maps a Claude message onto an LLMResponse, restoring the
// original tool names through nameMap.
func ConvertResponse(msg *sdk.Message, nameMap map[string]string) *types.LLMResponse {
	resp := &types.LLMResponse{
		StopReason: string(msg.StopReason),
		Usage: types.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				text = append(text, block.Text)
			}
		case "tool_use":
			input := map[string]interface{}{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:    block.ID,
				Name:  llm.ReverseToolName(nameMap, block.Name),
				Input: input,
			})
		}
	}
	resp.Content = strings.Join(text, "\n")
	return resp
}

var _ types.LLMProvider = (*Client)(nil)
