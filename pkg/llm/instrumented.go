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
	"time"

	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/types"
)

// InstrumentedProvider wraps any LLMProvider with spans and metrics for
// every call: latency, token usage, tool calls and classified errors.
type InstrumentedProvider struct {
	provider types.LLMProvider
	tracer   observability.Tracer
}

// NewInstrumentedProvider creates a new instrumented LLM provider.
func NewInstrumentedProvider(provider types.LLMProvider, tracer observability.Tracer) *InstrumentedProvider {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &InstrumentedProvider{provider: provider, tracer: tracer}
}

// Name returns the underlying provider name.
func (p *InstrumentedProvider) Name() string { return p.provider.Name() }

// Model returns the underlying model identifier.
func (p *InstrumentedProvider) Model() string { return p.provider.Model() }

// Chat sends a conversation to the LLM and records the call.
func (p *InstrumentedProvider) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	ctx, span := p.startSpan(ctx, messages, tools, false)
	defer p.tracer.EndSpan(span)

	start := time.Now()
	resp, err := p.provider.Chat(ctx, messages, tools)
	p.finish(span, resp, err, time.Since(start))
	return resp, err
}

// ChatStream streams through the wrapped provider (or falls back to Chat)
// and records time to first token alongside the usual call data.
func (p *InstrumentedProvider) ChatStream(ctx context.Context, messages []types.Message, tools []shuttle.Tool, cb types.TokenCallback) (*types.LLMResponse, error) {
	ctx, span := p.startSpan(ctx, messages, tools, true)
	defer p.tracer.EndSpan(span)

	start := time.Now()
	chunks := 0
	wrapped := func(token string) {
		if chunks == 0 {
			span.AddEvent("stream.first_token", map[string]interface{}{
				"ttft_ms": time.Since(start).Milliseconds(),
			})
		}
		chunks++
		if cb != nil {
			cb(token)
		}
	}

	var resp *types.LLMResponse
	var err error
	if sp, ok := p.provider.(types.StreamingLLMProvider); ok {
		resp, err = sp.ChatStream(ctx, messages, tools, wrapped)
	} else {
		resp, err = p.provider.Chat(ctx, messages, tools)
		if err == nil && resp.Content != "" {
			wrapped(resp.Content)
		}
	}
	span.SetAttribute("llm.streaming.chunks", chunks)
	p.finish(span, resp, err, time.Since(start))
	return resp, err
}

func (p *InstrumentedProvider) startSpan(ctx context.Context, messages []types.Message, tools []shuttle.Tool, streaming bool) (context.Context, *observability.Span) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanLLMCompletion)
	span.SetAttribute(observability.AttrLLMProvider, p.provider.Name())
	span.SetAttribute(observability.AttrLLMModel, p.provider.Model())
	span.SetAttribute("llm.streaming", streaming)
	span.SetAttribute("llm.messages.count", len(messages))
	span.SetAttribute("llm.tools.count", len(tools))
	if len(tools) > 0 {
		names := make([]string, len(tools))
		for i, tool := range tools {
			names[i] = tool.Name()
		}
		span.SetAttribute("llm.tools.names", names)
	}
	return ctx, span
}

func (p *InstrumentedProvider) finish(span *observability.Span, resp *types.LLMResponse, err error, duration time.Duration) {
	labels := map[string]string{
		"provider": p.provider.Name(),
		"model":    p.provider.Model(),
	}
	span.SetAttribute("llm.duration_ms", duration.Milliseconds())
	p.tracer.RecordMetric(observability.MetricLLMLatency, duration.Seconds(), labels)

	if err != nil {
		errType := Classify(err)
		span.RecordError(err)
		span.SetAttribute(observability.AttrErrorType, errType.String())
		p.tracer.RecordMetric(observability.MetricLLMCalls, 1, withLabel(labels, "status", "error"))
		p.tracer.RecordMetric(observability.MetricLLMErrors, 1, withLabel(labels, "error_type", errType.String()))
		return
	}

	span.SetAttribute("llm.tokens.input", resp.Usage.InputTokens)
	span.SetAttribute("llm.tokens.output", resp.Usage.OutputTokens)
	span.SetAttribute("llm.stop_reason", resp.StopReason)
	span.SetAttribute("llm.content.length", len(resp.Content))
	if len(resp.ToolCalls) > 0 {
		names := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			names[i] = tc.Name
		}
		span.SetAttribute("llm.tool_calls.names", names)
	}

	p.tracer.RecordMetric(observability.MetricLLMCalls, 1, withLabel(labels, "status", "success"))
	p.tracer.RecordMetric(observability.MetricLLMTokensInput, float64(resp.Usage.InputTokens), labels)
	p.tracer.RecordMetric(observability.MetricLLMTokensOutput, float64(resp.Usage.OutputTokens), labels)
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

var _ types.StreamingLLMProvider = (*InstrumentedProvider)(nil)
