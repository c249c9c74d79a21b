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

// Package openai implements types.LLMProvider on the OpenAI chat
// completions API (and compatible endpoints) using openai-go.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/teradata-labs/loom-research/pkg/llm"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/types"
)

const (
	// DefaultModel is the default OpenAI model.
	DefaultModel = "gpt-4o"
	// DefaultMaxTokens is the default completion token cap.
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 5 * time.Minute
)

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`

	HTTPClient *http.Client `mapstructure:"-"`
}

// Client implements types.LLMProvider for OpenAI.
type Client struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewClient creates a new OpenAI client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return "openai" }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation to the chat completions endpoint.
func (c *Client) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            convertMessages(messages),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	}
	if len(params.Messages) == 0 {
		return nil, &llm.Error{Type: llm.ErrorTypeBadRequest, Provider: c.Name(), Err: errors.New("no messages to send")}
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, llm.WrapStatus(c.Name(), apiErr.StatusCode, err)
		}
		return nil, llm.Wrap(c.Name(), err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return nil, &llm.Error{Type: llm.ErrorTypeTransient, Provider: c.Name(), Err: errors.New("no choices returned")}
	}

	choice := completion.Choices[0]
	return &types.LLMResponse{
		Content:    choice.Message.Content,
		ToolCalls:  convertToolCalls(choice.Message.ToolCalls),
		StopReason: choice.FinishReason,
		Usage: types.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
		Metadata: map[string]interface{}{
			"model": completion.Model,
			"id":    completion.ID,
		},
	}, nil
}

func convertMessages(messages []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case types.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case types.RoleAssistant:
			out = append(out, assistantMessage(msg))
		case types.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolUseID))
		}
	}
	return out
}

func assistantMessage(msg types.Message) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		assistant.Content.OfString = openai.String(msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		args := "{}"
		if len(tc.Input) > 0 {
			if b, err := json.Marshal(tc.Input); err == nil {
				args = string(b)
			}
		}
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: args,
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func convertTools(tools []shuttle.Tool) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		fn := shared.FunctionDefinitionParam{
			Name:        tool.Name(),
			Description: openai.String(tool.Description()),
		}
		if schema := tool.InputSchema(); schema != nil {
			fn.Parameters = shared.FunctionParameters(schema.ToMap())
		}
		out = append(out, openai.ChatCompletionFunctionTool(fn))
	}
	return out
}

func convertToolCalls(calls []openai.ChatCompletionMessageToolCallUnion) []types.ToolCall {
	var out []types.ToolCall
	for _, call := range calls {
		fn, ok := call.AsAny().(openai.ChatCompletionMessageFunctionToolCall)
		if !ok {
			continue
		}
		args := map[string]interface{}{}
		if strings.TrimSpace(fn.Function.Arguments) != "" {
			_ = json.Unmarshal([]byte(fn.Function.Arguments), &args)
		}
		out = append(out, types.ToolCall{ID: fn.ID, Name: fn.Function.Name, Input: args})
	}
	return out
}

var _ types.LLMProvider = (*Client)(nil)
