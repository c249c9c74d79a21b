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

	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/types"
)

// MockTurn is one scripted provider reply.
type MockTurn struct {
	Content   string
	ToolCalls []types.ToolCall
	Err       error
}

// ErrScriptExhausted is returned once a MockProvider runs out of turns.
var ErrScriptExhausted = errors.New("mock provider script exhausted")

// MockProvider is a scripted LLM provider for tests. Handler, when set,
// wins over Script. Thread-safe.
type MockProvider struct {
	Script  []MockTurn
	Handler func(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error)

	mu       sync.Mutex
	next     int
	calls    [][]types.Message
	toolSets [][]shuttle.Tool
}

// Name returns "mock".
func (m *MockProvider) Name() string { return "mock" }

// Model returns "mock-model".
func (m *MockProvider) Model() string { return "mock-model" }

// Chat returns the next scripted turn.
func (m *MockProvider) Chat(ctx context.Context, messages []types.Message, tools []shuttle.Tool) (*types.LLMResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]types.Message(nil), messages...))
	m.toolSets = append(m.toolSets, tools)
	handler := m.Handler
	var turn *MockTurn
	if handler == nil && m.next < len(m.Script) {
		turn = &m.Script[m.next]
		m.next++
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if handler != nil {
		return handler(ctx, messages, tools)
	}
	if turn == nil {
		return nil, ErrScriptExhausted
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	stop := "end_turn"
	if len(turn.ToolCalls) > 0 {
		stop = "tool_use"
	}
	return &types.LLMResponse{
		Content:    turn.Content,
		ToolCalls:  turn.ToolCalls,
		StopReason: stop,
	}, nil
}

// ChatStream replies like Chat and delivers the content word by word.
func (m *MockProvider) ChatStream(ctx context.Context, messages []types.Message, tools []shuttle.Tool, cb types.TokenCallback) (*types.LLMResponse, error) {
	resp, err := m.Chat(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	if cb != nil && resp.Content != "" {
		for _, word := range strings.SplitAfter(resp.Content, " ") {
			cb(word)
		}
	}
	return resp, nil
}

// Calls returns the conversation sent on every call so far.
func (m *MockProvider) Calls() [][]types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]types.Message(nil), m.calls...)
}

// ToolSets returns the tools offered on every call so far.
func (m *MockProvider) ToolSets() [][]shuttle.Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]shuttle.Tool(nil), m.toolSets...)
}

var _ types.StreamingLLMProvider = (*MockProvider)(nil)
