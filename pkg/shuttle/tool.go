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

// Package shuttle defines the tool capabilities the generation loop can call.
//
// Tools answer specific factual queries (search, page retrieval, document
// extraction, MCP-hosted tools). From the workflow's point of view they are
// opaque and idempotent: failures come back as Result values rendered to
// text so the model can keep reasoning, never as workflow errors.
package shuttle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	// Name returns the tool's unique identifier
	Name() string

	// Description returns a human-readable description for LLM context
	Description() string

	// InputSchema returns the JSON Schema for tool parameters
	InputSchema() *JSONSchema

	// Execute runs the tool with given parameters
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// Result represents the outcome of tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool

	// Data contains the result data (string, map or slice)
	Data interface{}

	// Error contains error information if execution failed
	Error *Error

	// Metadata contains tool-specific metadata
	Metadata map[string]interface{}

	// ExecutionTimeMs is the wall time of Execute in milliseconds
	ExecutionTimeMs int64
}

// Error represents a tool execution error with structured information.
type Error struct {
	Code       string
	Message    string
	Details    map[string]interface{}
	Retryable  bool
	Suggestion string
}

// Error codes shared by the builtin tools.
const (
	ErrCodeInvalidParams = "INVALID_PARAMS"
	ErrCodeNotFound      = "TOOL_NOT_FOUND"
	ErrCodeExecution     = "EXECUTION_FAILED"
	ErrCodeHTTP          = "HTTP_ERROR"
	ErrCodeUnsupported   = "UNSUPPORTED"
)

// ErrorResult builds a failed Result.
func ErrorResult(code, message string) *Result {
	return &Result{
		Success: false,
		Error:   &Error{Code: code, Message: message},
	}
}

// Text renders the result the way it is fed back to the model.
// Failures become "Error (<code>): <message>" text.
func (r *Result) Text() string {
	if r == nil {
		return "Error: tool returned no result"
	}
	if !r.Success {
		if r.Error == nil {
			return "Error: tool execution failed"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Error (%s): %s", r.Error.Code, r.Error.Message)
		if r.Error.Suggestion != "" {
			fmt.Fprintf(&b, "\nSuggestion: %s", r.Error.Suggestion)
		}
		return b.String()
	}
	switch v := r.Data.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// JSONSchema represents a JSON Schema for tool parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
}

// ToMap converts the schema to a generic map, the shape provider SDKs and
// the validator consume.
func (s *JSONSchema) ToMap() map[string]interface{} {
	if s == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]interface{}{"type": s.Type}
	}
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	if s.Type == "object" {
		if _, ok := m["properties"]; !ok {
			m["properties"] = map[string]interface{}{}
		}
	}
	return m
}

// SchemaFromMap converts a generic schema map (as delivered by MCP servers).
func SchemaFromMap(m map[string]interface{}) (*JSONSchema, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return &schema, nil
}

// NewObjectSchema creates a new object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a new string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: description}
}

// NewNumberSchema creates a new number schema.
func NewNumberSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "number", Description: description}
}

// NewArraySchema creates a new array schema.
func NewArraySchema(description string, items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: "array", Description: description, Items: items}
}

// WithEnum adds enum values to the schema.
func (s *JSONSchema) WithEnum(values ...interface{}) *JSONSchema {
	s.Enum = values
	return s
}

// WithDefault adds a default value to the schema.
func (s *JSONSchema) WithDefault(value interface{}) *JSONSchema {
	s.Default = value
	return s
}

// WithRange adds min/max constraints to the schema.
func (s *JSONSchema) WithRange(min, max float64) *JSONSchema {
	s.Minimum = &min
	s.Maximum = &max
	return s
}
