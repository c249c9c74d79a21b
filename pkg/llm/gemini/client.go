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

// Package gemini implements types.LLMProvider on Google's Gemini API using
// the google.golang.org/genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/teradata-labs/loom-research/pkg/llm"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/types"
)

const (
	// DefaultModel is the default Gemini model.
	DefaultModel = "gemini-2.0-flash"
	// DefaultMaxTokens is the default output token cap.
	DefaultMaxTokens = 8192
	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 1.0
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 5 * time.Minute
)

// Config holds configuration for the Gemini client.
type Config struct {
	// APIKey is the Gemini API key (required).
	APIKey string `mapstructure:"api_key"`

	// Model to use (default: "gemini-2.0-flash").
	Model string `mapstructure:"model"`

	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string `mapstructure:"base_url"`

	HTTPClient *http.Client `mapstructure:"-"`
}

// Client implements types.LLMProvider for Google Gemini.
type Client struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		client:      client,
		model:       cfg.Model,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return "gemini" }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation to Gemini.
func (c *Client) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	contents, system := convertMessages(messages)
	if len(contents) == 0 {
		return nil, &llm.Error{Type: llm.ErrorTypeBadRequest, Provider: c.Name(), Err: errors.New("no messages to send")}
	}

	temperature := c.temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: c.maxTokens,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(tools)}}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, llm.WrapStatus(c.Name(), apiErr.Code, err)
		}
		return nil, llm.Wrap(c.Name(), err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return nil, &llm.Error{Type: llm.ErrorTypeTransient, Provider: c.Name(), Err: errors.New("empty response")}
	}
	return c.convertResponse(result), nil
}

func (c *Client) convertResponse(result *genai.GenerateContentResponse) *types.LLMResponse {
	resp := &types.LLMResponse{
		Metadata: map[string]interface{}{"model": c.model},
	}
	candidate := result.Candidates[0]
	resp.StopReason = string(candidate.FinishReason)

	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if fc := part.FunctionCall; fc != nil {
				id := fc.ID
				if id == "" {
					id = fmt.Sprintf("%s_%d", fc.Name, len(resp.ToolCalls))
				}
				args := fc.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{ID: id, Name: fc.Name, Input: args})
			}
		}
	}
	resp.Content = text.String()

	if u := result.UsageMetadata; u != nil {
		resp.Usage = types.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return resp
}

// convertMessages maps the conversation onto Gemini contents. Gemini calls
// the assistant "model" and matches function responses by tool name.
func convertMessages(messages []types.Message) ([]*genai.Content, string) {
	var systemPrompts []string
	var contents []*genai.Content
	var pending []*genai.Part

	flush := func() {
		if len(pending) > 0 {
			contents = append(contents, &genai.Content{Role: "user", Parts: pending})
			pending = nil
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
				contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
			}
		case types.RoleAssistant:
			flush()
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Input}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case types.RoleTool:
			isError := msg.ToolResult != nil && !msg.ToolResult.Success
			pending = append(pending, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name: msg.ToolName,
				Response: map[string]interface{}{
					"content":  msg.Content,
					"is_error": isError,
				},
			}})
		}
	}
	flush()
	return contents, strings.Join(systemPrompts, "\n\n")
}

func convertTools(tools []shuttle.Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
		}
		if schema := tool.InputSchema(); schema != nil {
			decl.Parameters = convertSchema(schema)
		}
		decls = append(decls, decl)
	}
	return decls
}

func convertSchema(s *shuttle.JSONSchema) *genai.Schema {
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}
	switch s.Type {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if s.Items != nil {
			out.Items = convertSchema(s.Items)
		}
	case "object", "":
		out.Type = genai.TypeObject
		if len(s.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(s.Properties))
			for name, prop := range s.Properties {
				if prop != nil {
					out.Properties[name] = convertSchema(prop)
				}
			}
		}
	default:
		out.Type = genai.TypeString
	}
	for _, v := range s.Enum {
		out.Enum = append(out.Enum, fmt.Sprint(v))
	}
	return out
}

var _ types.LLMProvider = (*Client)(nil)
