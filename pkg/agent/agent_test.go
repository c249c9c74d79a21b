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
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/stream"
	"github.com/teradata-labs/loom-research/pkg/types"
)

type recordingSink struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recordingSink) Emit(e stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) kinds() []stream.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []stream.Kind
	for _, e := range r.events {
		if len(out) > 0 && out[len(out)-1] == e.Kind {
			continue
		}
		out = append(out, e.Kind)
	}
	return out
}

func (r *recordingSink) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, e := range r.events {
		if e.Kind == stream.KindTextChunk {
			b.WriteString(e.Payload)
		}
	}
	return b.String()
}

func searchTool(result string) *shuttle.MockTool {
	return &shuttle.MockTool{
		MockName: "web_search",
		MockExecute: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			return &shuttle.Result{Success: true, Data: result}, nil
		},
	}
}

func TestToolLoop_AnswerWithoutTools(t *testing.T) {
	provider := &MockProvider{Script: []MockTurn{{Content: "the final answer"}}}
	loop := NewToolLoop(provider, WithLogger(zaptest.NewLogger(t)))
	sink := &recordingSink{}

	out, err := loop.Generate(context.Background(), Request{
		Stage:  "draft",
		System: "you write reports",
		Prompt: "topic",
		Sink:   sink,
	})
	require.NoError(t, err)
	assert.Equal(t, "the final answer", out)
	assert.Equal(t, "the final answer", sink.text())
	assert.Equal(t, []stream.Kind{stream.KindTextChunk}, sink.kinds())

	calls := provider.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, types.RoleSystem, calls[0][0].Role)
	assert.Equal(t, types.RoleUser, calls[0][1].Role)
	assert.Equal(t, "topic", calls[0][1].Content)
}

func TestToolLoop_ToolCallRoundTrip(t *testing.T) {
	tool := searchTool("search hits")
	provider := &MockProvider{Script: []MockTurn{
		{ToolCalls: []types.ToolCall{{ID: "call_1", Name: "web_search", Input: map[string]interface{}{"query": "go"}}}},
		{Content: "answer using hits"},
	}}
	tracer := observability.NewMockTracer()
	loop := NewToolLoop(provider, WithLogger(zaptest.NewLogger(t)), WithTracer(tracer))
	sink := &recordingSink{}

	out, err := loop.Generate(context.Background(), Request{
		Stage:  "resolve",
		UnitID: "resolver-0",
		Prompt: "fill the gap",
		Tools:  []shuttle.Tool{tool},
		Sink:   sink,
	})
	require.NoError(t, err)
	assert.Equal(t, "answer using hits", out)
	assert.Equal(t, 1, tool.Calls())
	assert.Equal(t, "go", tool.LastParams["query"])

	assert.Equal(t, []stream.Kind{stream.KindToolCall, stream.KindToolResult, stream.KindTextChunk}, sink.kinds())
	for _, e := range sink.events {
		assert.Equal(t, "resolver-0", e.StageTag)
	}
	assert.Contains(t, sink.events[0].Payload, "web_search")
	assert.Contains(t, sink.events[0].Payload, `"query": "go"`)
	assert.Equal(t, "Results:\nsearch hits", sink.events[1].Payload)

	calls := provider.Calls()
	require.Len(t, calls, 2)
	second := calls[1]
	require.Len(t, second, 3)
	assert.Equal(t, types.RoleAssistant, second[1].Role)
	assert.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, types.RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolUseID)
	assert.Equal(t, "web_search", second[2].ToolName)
	assert.Equal(t, "search hits", second[2].Content)

	spans := tracer.GetSpansByName(observability.SpanAgentToolLoop)
	require.Len(t, spans, 1)
	turn, ok := spans[0].Attribute(observability.AttrTurn)
	require.True(t, ok)
	assert.Equal(t, 2, turn)
}

func TestToolLoop_LastTurnOffersNoTools(t *testing.T) {
	call := types.ToolCall{ID: "c", Name: "web_search", Input: map[string]interface{}{"query": "q"}}
	provider := &MockProvider{Script: []MockTurn{
		{Content: "thinking", ToolCalls: []types.ToolCall{call}},
		{Content: "still thinking", ToolCalls: []types.ToolCall{call}},
		{Content: "forced answer"},
	}}
	loop := NewToolLoop(provider,
		WithLogger(zaptest.NewLogger(t)),
		WithConfig(Config{MaxTurns: 3}))

	out, err := loop.Generate(context.Background(), Request{
		Stage:  "critique",
		Prompt: "p",
		Tools:  []shuttle.Tool{searchTool("r")},
	})
	require.NoError(t, err)
	assert.Equal(t, "forced answer", out)

	toolSets := provider.ToolSets()
	require.Len(t, toolSets, 3)
	assert.Len(t, toolSets[0], 1)
	assert.Len(t, toolSets[1], 1)
	assert.Empty(t, toolSets[2])
}

func TestToolLoop_TurnLimitReturnsLastText(t *testing.T) {
	provider := &MockProvider{Handler: func(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
		return &types.LLMResponse{
			Content:   "partial",
			ToolCalls: []types.ToolCall{{ID: "c", Name: "web_search", Input: map[string]interface{}{"query": "q"}}},
		}, nil
	}}
	loop := NewToolLoop(provider,
		WithLogger(zaptest.NewLogger(t)),
		WithConfig(Config{MaxTurns: 2}))

	out, err := loop.Generate(context.Background(), Request{Stage: "resolve", Prompt: "p", Tools: []shuttle.Tool{searchTool("r")}})
	require.NoError(t, err)
	assert.Equal(t, "partial", out)
	assert.Len(t, provider.Calls(), 2)
}

func TestToolLoop_ProviderErrorIsWrapped(t *testing.T) {
	boom := errors.New("provider down")
	provider := &MockProvider{Script: []MockTurn{{Err: boom}}}
	tracer := observability.NewMockTracer()
	loop := NewToolLoop(provider, WithLogger(zaptest.NewLogger(t)), WithTracer(tracer))

	_, err := loop.Generate(context.Background(), Request{Stage: "draft", Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "draft")

	spans := tracer.GetSpansByName(observability.SpanAgentToolLoop)
	require.Len(t, spans, 1)
	assert.True(t, spans[0].Failed())
}

func TestToolLoop_UnknownToolReportsError(t *testing.T) {
	provider := &MockProvider{Script: []MockTurn{
		{ToolCalls: []types.ToolCall{{ID: "x", Name: "no_such_tool", Input: map[string]interface{}{}}}},
		{Content: "done"},
	}}
	loop := NewToolLoop(provider, WithLogger(zaptest.NewLogger(t)))

	out, err := loop.Generate(context.Background(), Request{Stage: "resolve", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	calls := provider.Calls()
	require.Len(t, calls, 2)
	toolMsg := calls[1][len(calls[1])-1]
	assert.Contains(t, toolMsg.Content, shuttle.ErrCodeNotFound)
	require.NotNil(t, toolMsg.ToolResult)
	assert.False(t, toolMsg.ToolResult.Success)
}

func TestToolLoop_TruncatesLongToolResults(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	provider := &MockProvider{Script: []MockTurn{
		{ToolCalls: []types.ToolCall{{ID: "c", Name: "web_search", Input: map[string]interface{}{"query": "q"}}}},
		{Content: "ok"},
	}}
	loop := NewToolLoop(provider,
		WithLogger(zaptest.NewLogger(t)),
		WithConfig(Config{MaxTurns: 3, MaxToolResultTokens: 10}))

	_, err := loop.Generate(context.Background(), Request{Stage: "resolve", Prompt: "p", Tools: []shuttle.Tool{searchTool(long)}})
	require.NoError(t, err)

	calls := provider.Calls()
	toolMsg := calls[1][len(calls[1])-1]
	assert.Less(t, len(toolMsg.Content), len(long))
	assert.True(t, strings.HasSuffix(toolMsg.Content, "[truncated]"))
}

func TestToolLoop_NonStreamingEmitsWholeText(t *testing.T) {
	provider := &MockProvider{Script: []MockTurn{{Content: "one two three"}}}
	loop := NewToolLoop(provider,
		WithLogger(zaptest.NewLogger(t)),
		WithConfig(Config{StreamText: false}))
	sink := &recordingSink{}

	_, err := loop.Generate(context.Background(), Request{Stage: "final", Prompt: "p", Sink: sink})
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "one two three", sink.events[0].Payload)
	assert.Equal(t, "final", sink.events[0].StageTag)
}

func TestToolLoop_CanceledContext(t *testing.T) {
	provider := &MockProvider{Script: []MockTurn{{Content: "never"}}}
	loop := NewToolLoop(provider, WithLogger(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loop.Generate(ctx, Request{Stage: "draft", Prompt: "p"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeneratorFunc(t *testing.T) {
	var g Generator = GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		return req.Stage + ":" + req.Prompt, nil
	})
	out, err := g.Generate(context.Background(), Request{Stage: "s", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "s:p", out)
}
