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

// Package agent is the generation port of the workflow engine: it turns a
// prompt and a tool set into final text by driving an LLM through as many
// tool-calling turns as it needs, and reports every step on a progress
// sink.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/stream"
	"github.com/teradata-labs/loom-research/pkg/types"
)

const (
	// DefaultMaxTurns bounds the LLM calls made for one request.
	DefaultMaxTurns = 10
	// DefaultMaxToolResultTokens bounds each tool result fed back to the model.
	DefaultMaxToolResultTokens = 4000
	// DefaultToolTimeout bounds a single tool execution.
	DefaultToolTimeout = 60 * time.Second
)

// Request is one generation: a prompt, the tools the model may call and
// the sink its progress goes to.
type Request struct {
	// Stage names the workflow stage for logs and spans (draft, critique, ...).
	Stage string
	// UnitID tags emitted events; defaults to Stage.
	UnitID string
	System string
	Prompt string
	Tools  []shuttle.Tool
	Sink   stream.Sink
}

func (r Request) tag() string {
	if r.UnitID != "" {
		return r.UnitID
	}
	return r.Stage
}

// Generator produces final text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Config tunes the tool loop.
type Config struct {
	MaxTurns            int           `mapstructure:"max_turns"`
	MaxToolResultTokens int           `mapstructure:"max_tool_result_tokens"`
	ToolTimeout         time.Duration `mapstructure:"tool_timeout"`
	// StreamText forwards text as it is generated when the provider can stream.
	StreamText bool `mapstructure:"stream_text"`
}

// DefaultConfig returns the standard loop settings.
func DefaultConfig() Config {
	return Config{
		MaxTurns:            DefaultMaxTurns,
		MaxToolResultTokens: DefaultMaxToolResultTokens,
		ToolTimeout:         DefaultToolTimeout,
		StreamText:          true,
	}
}

// ToolLoop is the Generator backed by an LLM provider and shuttle tools.
type ToolLoop struct {
	provider types.LLMProvider
	config   Config
	logger   *zap.Logger
	tracer   observability.Tracer
	counter  *TokenCounter
}

// Option configures a ToolLoop.
type Option func(*ToolLoop)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *ToolLoop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer observability.Tracer) Option {
	return func(l *ToolLoop) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// WithConfig replaces the loop settings. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(l *ToolLoop) {
		d := DefaultConfig()
		if cfg.MaxTurns <= 0 {
			cfg.MaxTurns = d.MaxTurns
		}
		if cfg.MaxToolResultTokens == 0 {
			cfg.MaxToolResultTokens = d.MaxToolResultTokens
		}
		if cfg.ToolTimeout <= 0 {
			cfg.ToolTimeout = d.ToolTimeout
		}
		l.config = cfg
	}
}

// NewToolLoop creates a ToolLoop over provider.
func NewToolLoop(provider types.LLMProvider, opts ...Option) *ToolLoop {
	l := &ToolLoop{
		provider: provider,
		config:   DefaultConfig(),
		logger:   zap.NewNop(),
		tracer:   observability.NewNoOpTracer(),
		counter:  GetTokenCounter(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Generate runs the conversation until the model answers without tool
// calls. The last allowed turn is offered no tools so the model has to
// answer; its text is returned.
func (l *ToolLoop) Generate(ctx context.Context, req Request) (string, error) {
	sink := req.Sink
	if sink == nil {
		sink = stream.Discard
	}
	tag := req.tag()

	ctx, span := l.tracer.StartSpan(ctx, observability.SpanAgentToolLoop,
		observability.WithAttribute(observability.AttrStage, req.Stage),
		observability.WithAttribute(observability.AttrUnitID, tag))
	defer l.tracer.EndSpan(span)

	registry := shuttle.NewRegistry()
	for _, tool := range req.Tools {
		registry.Register(tool)
	}
	executor := shuttle.NewExecutor(registry,
		shuttle.WithLogger(l.logger),
		shuttle.WithTracer(l.tracer),
		shuttle.WithTimeout(l.config.ToolTimeout))

	var messages []types.Message
	if req.System != "" {
		messages = append(messages, types.Message{Role: types.RoleSystem, Content: req.System})
	}
	messages = append(messages, types.Message{Role: types.RoleUser, Content: req.Prompt})

	var lastText string
	for turn := 1; turn <= l.config.MaxTurns; turn++ {
		tools := req.Tools
		if turn == l.config.MaxTurns {
			tools = nil
		}

		resp, err := l.chat(ctx, messages, tools, sink, tag)
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("%s: generation failed on turn %d: %w", tag, turn, err)
		}
		span.SetAttribute(observability.AttrTurn, turn)
		if resp.Content != "" {
			lastText = resp.Content
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, types.Message{
			Role:      types.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, l.runTool(ctx, executor, call, sink, tag))
		}
	}

	l.logger.Warn("Tool loop hit the turn limit",
		zap.String("unit", tag),
		zap.Int("max_turns", l.config.MaxTurns))
	return lastText, nil
}

func (l *ToolLoop) chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool, sink stream.Sink, tag string) (*types.LLMResponse, error) {
	if sp, ok := l.provider.(types.StreamingLLMProvider); ok && l.config.StreamText {
		return sp.ChatStream(ctx, messages, tools, func(token string) {
			sink.Emit(stream.Text(tag, token))
		})
	}
	resp, err := l.provider.Chat(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		sink.Emit(stream.Text(tag, resp.Content))
	}
	return resp, nil
}

func (l *ToolLoop) runTool(ctx context.Context, executor *shuttle.Executor, call types.ToolCall, sink stream.Sink, tag string) types.Message {
	args, err := json.MarshalIndent(call.Input, "", "  ")
	if err != nil {
		args = []byte(fmt.Sprintf("%v", call.Input))
	}
	sink.Emit(stream.ToolCall(tag, call.Name, string(args)))

	result := executor.Execute(ctx, call.Name, call.Input)
	text, truncated := l.counter.Truncate(result.Text(), l.config.MaxToolResultTokens)
	if truncated {
		text += "\n[truncated]"
	}
	sink.Emit(stream.ToolResult(tag, text))

	l.logger.Debug("Tool executed",
		zap.String("unit", tag),
		zap.String("tool", call.Name),
		zap.Bool("success", result.Success),
		zap.Bool("truncated", truncated))

	return types.Message{
		Role:       types.RoleTool,
		Content:    text,
		ToolUseID:  call.ID,
		ToolName:   call.Name,
		ToolResult: result,
	}
}

var _ Generator = (*ToolLoop)(nil)
