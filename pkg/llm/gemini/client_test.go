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
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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
	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)

	client, err := NewClient(context.Background(), Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", client.Name())
	assert.Equal(t, "gemini-2.0-flash", client.Model())
}

func TestClient_Chat(t *testing.T) {
	var body map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-2.0-flash:generateContent"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{
			"candidates": [{
				"content": {"role": "model", "parts": [
					{"text": "Checking sources."},
					{"functionCall": {"name": "web_search", "args": {"query": "gpu supply"}}}
				]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 3, "totalTokenCount": 7}
		}`)
	})

	messages := []types.Message{
		{Role: types.RoleSystem, Content: "Be concise."},
		{Role: types.RoleUser, Content: "GPU supply chain"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Name: "web_search", Input: map[string]interface{}{"query": "x"}}}},
		{Role: types.RoleTool, ToolUseID: "c1", ToolName: "web_search", Content: "Results:\nnone"},
	}
	tool := &shuttle.MockTool{MockName: "web_search", MockDescription: "search"}

	resp, err := client.Chat(context.Background(), messages, []shuttle.Tool{tool})
	require.NoError(t, err)
	assert.Equal(t, "Checking sources.", resp.Content)
	assert.Equal(t, "STOP", resp.StopReason)
	assert.Equal(t, types.Usage{InputTokens: 4, OutputTokens: 3, TotalTokens: 7}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "web_search", resp.ToolCalls[0].Name)
	assert.Equal(t, "web_search_0", resp.ToolCalls[0].ID)
	assert.Equal(t, "gpu supply", resp.ToolCalls[0].Input["query"])

	contents := body["contents"].([]interface{})
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].(map[string]interface{})["role"])
	fr := contents[2].(map[string]interface{})["parts"].([]interface{})[0].(map[string]interface{})["functionResponse"].(map[string]interface{})
	assert.Equal(t, "web_search", fr["name"])
	assert.NotNil(t, body["systemInstruction"])
	assert.NotNil(t, body["tools"])
}

func TestClient_ErrorClassification(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, `{"error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`)
	})
	_, err := client.Chat(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Equal(t, llm.ErrorTypeRateLimit, llm.Classify(err))
}

func TestConvertSchema(t *testing.T) {
	schema := shuttle.NewObjectSchema("params", map[string]*shuttle.JSONSchema{
		"query":       shuttle.NewStringSchema("q"),
		"search_type": shuttle.NewStringSchema("kind").WithEnum("search", "news"),
		"tags":        shuttle.NewArraySchema("tags", shuttle.NewStringSchema("")),
		"max_results": shuttle.NewNumberSchema("n").WithRange(1, 50),
	}, []string{"query"})

	out := convertSchema(schema)
	assert.Equal(t, "OBJECT", string(out.Type))
	assert.Equal(t, []string{"query"}, out.Required)
	assert.Equal(t, []string{"search", "news"}, out.Properties["search_type"].Enum)
	assert.Equal(t, "ARRAY", string(out.Properties["tags"].Type))
	assert.Equal(t, "STRING", string(out.Properties["tags"].Items.Type))
	require.NotNil(t, out.Properties["max_results"].Maximum)
	assert.Equal(t, 50.0, *out.Properties["max_results"].Maximum)
}
