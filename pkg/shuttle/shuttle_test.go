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
package shuttle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/loom-research/pkg/observability"
)

func TestRegistry_RegisterGetList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&MockTool{MockName: "web_search"})
	reg.Register(&MockTool{MockName: "fetch_page"})
	reg.Register(&MockTool{MockName: "web_search", MockDescription: "replaced"})

	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{"fetch_page", "web_search"}, reg.List())

	tool, ok := reg.Get("web_search")
	require.True(t, ok)
	assert.Equal(t, "replaced", tool.Description())

	tools := reg.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "fetch_page", tools[0].Name())

	reg.Unregister("fetch_page")
	_, ok = reg.Get("fetch_page")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Register(&MockTool{MockName: "tool"})
		}()
		go func() {
			defer wg.Done()
			_ = reg.ListTools()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, reg.Count())
}

func TestValidateParams(t *testing.T) {
	schema := NewObjectSchema("search", map[string]*JSONSchema{
		"query":       NewStringSchema("query"),
		"num_results": NewNumberSchema("count").WithRange(1, 20),
		"search_type": NewStringSchema("type").WithEnum("search", "news"),
	}, []string{"query"})

	tests := []struct {
		name    string
		params  map[string]interface{}
		wantErr bool
	}{
		{"valid", map[string]interface{}{"query": "ev chargers"}, false},
		{"missing required", map[string]interface{}{}, true},
		{"wrong type", map[string]interface{}{"query": 12}, true},
		{"out of range", map[string]interface{}{"query": "x", "num_results": 50}, true},
		{"bad enum", map[string]interface{}{"query": "x", "search_type": "images"}, true},
		{"nil params", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(schema, tt.params)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.NoError(t, ValidateParams(nil, nil))
}

func TestExecutor_Execute(t *testing.T) {
	tracer := observability.NewMockTracer()
	reg := NewRegistry()
	reg.Register(&MockTool{
		MockName: "ok",
		MockExecute: func(ctx context.Context, params map[string]interface{}) (*Result, error) {
			return &Result{Success: true, Data: "found " + params["query"].(string)}, nil
		},
	})
	reg.Register(&MockTool{
		MockName: "fails",
		MockExecute: func(ctx context.Context, params map[string]interface{}) (*Result, error) {
			return nil, errors.New("upstream 500")
		},
	})
	reg.Register(&MockTool{
		MockName: "panics",
		MockExecute: func(ctx context.Context, params map[string]interface{}) (*Result, error) {
			panic("bad tool")
		},
	})
	exec := NewExecutor(reg, WithTracer(tracer), WithLogger(zaptest.NewLogger(t)))

	res := exec.Execute(context.Background(), "ok", map[string]interface{}{"query": "solar"})
	assert.True(t, res.Success)
	assert.Equal(t, "found solar", res.Text())

	res = exec.Execute(context.Background(), "fails", map[string]interface{}{"query": "solar"})
	assert.False(t, res.Success)
	assert.Equal(t, ErrCodeExecution, res.Error.Code)
	assert.Contains(t, res.Text(), "upstream 500")

	res = exec.Execute(context.Background(), "panics", map[string]interface{}{"query": "solar"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Text(), "tool panicked")

	res = exec.Execute(context.Background(), "missing", nil)
	assert.Equal(t, ErrCodeNotFound, res.Error.Code)

	res = exec.Execute(context.Background(), "ok", map[string]interface{}{"query": 3})
	assert.Equal(t, ErrCodeInvalidParams, res.Error.Code)

	assert.Len(t, tracer.GetSpansByName(observability.SpanToolExecute), 5)
	assert.Equal(t, 5.0, tracer.MetricTotal(observability.MetricToolExecutions))
}

func TestResult_Text(t *testing.T) {
	var nilResult *Result
	assert.Contains(t, nilResult.Text(), "no result")

	r := &Result{Success: true, Data: map[string]interface{}{"title": "A"}}
	assert.JSONEq(t, `{"title":"A"}`, r.Text())

	r = &Result{Success: false, Error: &Error{Code: "X", Message: "m", Suggestion: "s"}}
	assert.Equal(t, "Error (X): m\nSuggestion: s", r.Text())
}

func TestSchemaRoundTrip(t *testing.T) {
	schema, err := SchemaFromMap(map[string]interface{}{
		"properties": map[string]interface{}{
			"q": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"q"},
	})
	require.NoError(t, err)
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"q"}, schema.Required)

	m := NewObjectSchema("empty", nil, nil).ToMap()
	assert.Contains(t, m, "properties")
}
