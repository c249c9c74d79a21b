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
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/loom-research/pkg/llm"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(context.Background(), Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	client, err := NewClient(context.Background(), Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", client.Name())
	assert.Equal(t, DefaultModel, client.Model())

	_, err = NewClient(context.Background(), Config{})
	assert.Error(t, err)

	bedrockClient, err := NewClient(context.Background(), Config{Bedrock: BedrockConfig{
		Enabled:         true,
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	}})
	require.NoError(t, err)
	assert.Equal(t, "bedrock", bedrockClient.Name())
	assert.Equal(t, DefaultBedrockModel, bedrockClient.Model())
}

func TestClient_Chat(t *testing.T) {
	var body map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [
				{"type": "text", "text": "Looking that up."},
				{"type": "tool_use", "id": "tu_1", "name": "web_search", "input": {"query": "ai chips"}}
			],
			"stop_reason": "tool_use", "stop_sequence": null,
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	})

	messages := []types.Message{
		{Role: types.RoleSystem, Content: "You are a research analyst."},
		{Role: types.RoleUser, Content: "Market for AI chips"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{
			{ID: "a", Name: "web_search", Input: map[string]interface{}{"query": "x"}},
			{ID: "b", Name: "fetch_page"},
		}},
		{Role: types.RoleTool, ToolUseID: "a", Content: "Results:\n1"},
		{Role: types.RoleTool, ToolUseID: "b", Content: "failed", ToolResult: &shuttle.Result{Success: false}},
	}
	tool := &shuttle.MockTool{MockName: "web_search", MockDescription: "search"}

	resp, err := client.Chat(context.Background(), messages, []shuttle.Tool{tool})
	require.NoError(t, err)

	assert.Equal(t, "Looking that up.", resp.Content)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, types.Usage{InputTokens: 12, OutputTokens: 7, TotalTokens: 19}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "web_search", resp.ToolCalls[0].Name)
	assert.Equal(t, "ai chips", resp.ToolCalls[0].Input["query"])

	system := body["system"].([]interface{})
	assert.Equal(t, "You are a research analyst.", system[0].(map[string]interface{})["text"])
	sent := body["messages"].([]interface{})
	require.Len(t, sent, 3)
	last := sent[2].(map[string]interface{})
	assert.Equal(t, "user", last["role"])
	results := last["content"].([]interface{})
	require.Len(t, results, 2)
	assert.Equal(t, "tool_result", results[0].(map[string]interface{})["type"])
	assert.Equal(t, true, results[1].(map[string]interface{})["is_error"])

	tools := body["tools"].([]interface{})
	require.Len(t, tools, 1)
	assert.Equal(t, "web_search", tools[0].(map[string]interface{})["name"])
}

func TestClient_ChatStream(t *testing.T) {
	events := []string{
		`{"type":"message_start","message":{"id":"msg_2","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":5,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_9","name":"fetch_page","input":{}}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"url\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"https://example.com\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":9}}`,
		`{"type":"message_stop"}`,
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, data := range events {
			var head struct{ Type string }
			_ = json.Unmarshal([]byte(data), &head)
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, data)
		}
	})

	var tokens []string
	resp, err := client.ChatStream(context.Background(),
		[]types.Message{{Role: types.RoleUser, Content: "hi"}}, nil,
		func(s string) { tokens = append(tokens, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, 5, resp.Usage.InputTokens)
	assert.Equal(t, 9, resp.Usage.OutputTokens)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu_9", resp.ToolCalls[0].ID)
	assert.Equal(t, "https://example.com", resp.ToolCalls[0].Input["url"])
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   llm.ErrorType
	}{
		{http.StatusTooManyRequests, llm.ErrorTypeRateLimit},
		{529, llm.ErrorTypeServiceUnavailable},
		{http.StatusUnauthorized, llm.ErrorTypeAuth},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"some_error","message":"nope"}}`)
			})
			_, err := client.Chat(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.want, llm.Classify(err))
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestClient_EmptyConversation(t *testing.T) {
	client, err := NewClient(context.Background(), Config{APIKey: "k"})
	require.NoError(t, err)
	_, err = client.Chat(context.Background(), []types.Message{{Role: types.RoleSystem, Content: "only system"}}, nil)
	require.Error(t, err)
	assert.Equal(t, llm.ErrorTypeBadRequest, llm.Classify(err))
}
