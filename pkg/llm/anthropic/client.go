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

// Package anthropic implements types.LLMProvider on the Anthropic Messages
// API, talking either to api.anthropic.com or to Claude on AWS Bedrock.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/teradata-labs/loom-research/pkg/llm"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/types"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultBedrockModel is the default Claude model ID on Bedrock.
	DefaultBedrockModel = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	// DefaultBedrockRegion is the default AWS region for Bedrock.
	DefaultBedrockRegion = "us-west-2"
	// DefaultMaxTokens is the default maximum tokens per request.
	DefaultMaxTokens = 8192
	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 1.0
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 5 * time.Minute
)

// BedrockConfig selects the Bedrock backend and its AWS credentials.
// When neither static keys nor a profile are set the default AWS
// credential chain is used.
type BedrockConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Bedrock     BedrockConfig `mapstructure:"bedrock"`

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client `mapstructure:"-"`
}

// Client implements types.StreamingLLMProvider with anthropic-sdk-go.
type Client struct {
	client      anthropic.Client
	name        string
	model       string
	maxTokens   int64
	temperature float64
}

// NewClient creates a client. SDK-level retries are disabled; wrap the
// client in llm.RetryingProvider instead.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	name := "anthropic"
	if cfg.Bedrock.Enabled {
		name = "bedrock"
		if cfg.Model == "" {
			cfg.Model = DefaultBedrockModel
		}
		awsCfg, err := loadAWSConfig(ctx, cfg.Bedrock)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		opts = append(opts, bedrock.WithConfig(awsCfg))
	} else {
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic: api key is required")
		}
		if cfg.Model == "" {
			cfg.Model = DefaultModel
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:      anthropic.NewClient(opts...),
		name:        name,
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

func loadAWSConfig(ctx context.Context, bc BedrockConfig) (aws.Config, error) {
	region := bc.Region
	if region == "" {
		region = DefaultBedrockRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	switch {
	case bc.AccessKeyID != "" && bc.SecretAccessKey != "":
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(bc.AccessKeyID, bc.SecretAccessKey, bc.SessionToken)))
	case bc.Profile != "":
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(bc.Profile))
	}
	return config.LoadDefaultConfig(ctx, loadOpts...)
}

// Name returns "anthropic" or "bedrock".
func (c *Client) Name() string { return c.name }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation and returns the complete response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	params, err := c.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, c.wrapError(err)
	}
	return c.convertResponse(message), nil
}

// ChatStream streams text deltas to cb and returns the assembled response.
func (c *Client) ChatStream(ctx context.Context, messages []types.Message, tools []shuttle.Tool, cb types.TokenCallback) (*types.LLMResponse, error) {
	params, err := c.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var (
		content    strings.Builder
		toolCalls  []types.ToolCall
		usage      types.Usage
		stopReason string
		messageID  string
	)
	inputs := make(map[int64]*strings.Builder)
	toolIndex := make(map[int64]int)

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			messageID = event.Message.ID
			usage.InputTokens = int(event.Message.Usage.InputTokens)
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				toolIndex[event.Index] = len(toolCalls)
				inputs[event.Index] = &strings.Builder{}
				toolCalls = append(toolCalls, types.ToolCall{
					ID:    event.ContentBlock.ID,
					Name:  event.ContentBlock.Name,
					Input: map[string]interface{}{},
				})
			}
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					content.WriteString(event.Delta.Text)
					if cb != nil {
						cb(event.Delta.Text)
					}
				}
			case "input_json_delta":
				if buf, ok := inputs[event.Index]; ok {
					buf.WriteString(event.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if buf, ok := inputs[event.Index]; ok {
				if buf.Len() > 0 {
					var input map[string]interface{}
					if err := json.Unmarshal([]byte(buf.String()), &input); err == nil {
						toolCalls[toolIndex[event.Index]].Input = input
					}
				}
				delete(inputs, event.Index)
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				stopReason = string(event.Delta.StopReason)
			}
			if event.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(event.Usage.OutputTokens)
			}
		}
	}
	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, c.wrapError(err)
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return &types.LLMResponse{
		Content:    content.String(),
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Usage:      usage,
		Metadata: map[string]interface{}{
			"model":      c.model,
			"message_id": messageID,
			"streaming":  true,
		},
	}, nil
}

func (c *Client) buildParams(messages []types.Message, tools []shuttle.Tool) (anthropic.MessageNewParams, error) {
	system, sdkMessages := convertMessages(messages)
	if len(sdkMessages) == 0 {
		return anthropic.MessageNewParams{}, &llm.Error{
			Type:     llm.ErrorTypeBadRequest,
			Provider: c.name,
			Err:      errors.New("no messages to send"),
		}
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    sdkMessages,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params, nil
}

func (c *Client) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.WrapStatus(c.name, apiErr.StatusCode, err)
	}
	return llm.Wrap(c.name, err)
}

// convertMessages splits out the system prompt and folds consecutive tool
// results into a single user turn, as the Messages API expects.
func convertMessages(messages []types.Message) (string, []anthropic.MessageParam) {
	var systemPrompts []string
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if msg.Content != "" {
				systemPrompts = append(systemPrompts, msg.Content)
			}
		case types.RoleUser:
			flush()
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		case types.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input interface{} = tc.Input
				if tc.Input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case types.RoleTool:
			isError := msg.ToolResult != nil && !msg.ToolResult.Success
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolUseID, msg.Content, isError))
		}
	}
	flush()
	return strings.Join(systemPrompts, "\n\n"), out
}

func convertTools(tools []shuttle.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param := anthropic.ToolParam{
			Name:        tool.Name(),
			Description: anthropic.String(tool.Description()),
		}
		if schema := tool.InputSchema(); schema != nil {
			m := schema.ToMap()
			param.InputSchema = anthropic.ToolInputSchemaParam{
				Properties: m["properties"],
				Required:   schema.Required,
			}
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func (c *Client) convertResponse(message *anthropic.Message) *types.LLMResponse {
	resp := &types.LLMResponse{
		StopReason: string(message.StopReason),
		Usage: types.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
		Metadata: map[string]interface{}{
			"model":      c.model,
			"message_id": message.ID,
		},
	}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			if input == nil {
				input = map[string]interface{}{}
			}
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	return resp
}

var _ types.StreamingLLMProvider = (*Client)(nil)
