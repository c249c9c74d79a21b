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
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/observability"
)

// Executor runs tools by name with validation, timing and tracing.
// It never returns a Go error for tool failures; those are Results.
type Executor struct {
	registry *Registry
	tracer   observability.Tracer
	logger   *zap.Logger
	timeout  time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTracer sets the tracer used for tool spans.
func WithTracer(t observability.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithTimeout bounds every tool execution. Zero disables the bound.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// NewExecutor creates a new tool executor.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		tracer:   observability.NewNoOpTracer(),
		logger:   zap.NewNop(),
		timeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the underlying registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute executes a tool by name with the given parameters.
func (e *Executor) Execute(ctx context.Context, toolName string, params map[string]interface{}) *Result {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanToolExecute,
		observability.WithSpanKind("tool"),
		observability.WithAttribute(observability.AttrToolName, toolName),
	)
	defer e.tracer.EndSpan(span)

	start := time.Now()
	result := e.execute(ctx, toolName, params)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	status := "ok"
	if !result.Success {
		status = "error"
		if result.Error != nil {
			span.RecordError(fmt.Errorf("%s: %s", result.Error.Code, result.Error.Message))
		}
		e.logger.Warn("Tool execution failed",
			zap.String("tool", toolName),
			zap.String("code", errorCode(result)),
			zap.Int64("duration_ms", result.ExecutionTimeMs))
	}
	e.tracer.RecordMetric(observability.MetricToolExecutions, 1, map[string]string{
		"tool":   toolName,
		"status": status,
	})
	return result
}

func (e *Executor) execute(ctx context.Context, toolName string, params map[string]interface{}) (result *Result) {
	tool, ok := e.registry.Get(toolName)
	if !ok {
		return &Result{
			Success: false,
			Error: &Error{
				Code:       ErrCodeNotFound,
				Message:    fmt.Sprintf("tool not found: %s", toolName),
				Suggestion: fmt.Sprintf("available tools: %v", e.registry.List()),
			},
		}
	}

	if err := ValidateParams(tool.InputSchema(), params); err != nil {
		return ErrorResult(ErrCodeInvalidParams, err.Error())
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = ErrorResult(ErrCodeExecution, fmt.Sprintf("tool panicked: %v", r))
		}
	}()

	res, err := tool.Execute(ctx, params)
	if err != nil {
		return &Result{
			Success: false,
			Error: &Error{
				Code:      ErrCodeExecution,
				Message:   err.Error(),
				Retryable: ctx.Err() == nil,
			},
		}
	}
	if res == nil {
		return ErrorResult(ErrCodeExecution, "tool returned no result")
	}
	return res
}

func errorCode(r *Result) string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}
