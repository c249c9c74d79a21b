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
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusTracer records span durations and known metrics as Prometheus
// collectors. Span trees are not exported; only their timings are.
type PrometheusTracer struct {
	logger *zap.Logger

	spanDuration   *prometheus.HistogramVec
	workflowRuns   *prometheus.CounterVec
	iterations     prometheus.Counter
	gaps           *prometheus.CounterVec
	llmCalls       *prometheus.CounterVec
	llmLatency     *prometheus.HistogramVec
	llmRetries     *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
	toolExecutions *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	purged         *prometheus.CounterVec
}

// NewPrometheusTracer creates a tracer whose collectors are registered on reg.
// A private registry per process keeps tests free of duplicate registration.
func NewPrometheusTracer(reg prometheus.Registerer, logger *zap.Logger) *PrometheusTracer {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &PrometheusTracer{
		logger: logger,
		spanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "research_span_duration_seconds",
				Help:    "Duration of traced operations by span name",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"span", "status"},
		),
		workflowRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_workflow_runs_total",
				Help: "Completed workflow runs by terminal status",
			},
			[]string{"status"},
		),
		iterations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "research_workflow_iterations_total",
				Help: "Merge operations performed across all workflows",
			},
		),
		gaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_workflow_gaps_total",
				Help: "Gap records found and left unresolved",
			},
			[]string{"outcome"},
		),
		llmCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_llm_calls_total",
				Help: "LLM calls by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),
		llmLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "research_llm_latency_seconds",
				Help:    "LLM call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		llmRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_llm_retries_total",
				Help: "LLM call retries after transient failures",
			},
			[]string{"provider", "error_type"},
		),
		llmTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_llm_tokens_total",
				Help: "Tokens consumed by direction",
			},
			[]string{"provider", "model", "type"},
		),
		toolExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_tool_executions_total",
				Help: "Tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_jobs_finished_total",
				Help: "Jobs that reached a terminal status",
			},
			[]string{"status"},
		),
		purged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_retention_purged_total",
				Help: "Jobs and report directories removed by retention",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(
		t.spanDuration,
		t.workflowRuns,
		t.iterations,
		t.gaps,
		t.llmCalls,
		t.llmLatency,
		t.llmRetries,
		t.llmTokens,
		t.toolExecutions,
		t.jobsFinished,
		t.purged,
	)
	return t
}

// StartSpan creates a span linked to its parent.
func (t *PrometheusTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	return NewNoOpTracer().StartSpan(ctx, name, opts...)
}

// EndSpan observes the span duration.
func (t *PrometheusTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.finish()
	status := "ok"
	if span.Failed() {
		status = "error"
	}
	t.spanDuration.WithLabelValues(span.Name, status).Observe(span.Duration.Seconds())
}

// RecordMetric maps the standard metric names onto collectors.
// Unknown names are logged at debug level and dropped.
func (t *PrometheusTracer) RecordMetric(name string, value float64, labels map[string]string) {
	l := func(key string) string { return labels[key] }

	switch name {
	case MetricWorkflowRuns:
		t.workflowRuns.WithLabelValues(l("status")).Add(value)
	case MetricWorkflowIterations:
		t.iterations.Add(value)
	case MetricGapsFound:
		t.gaps.WithLabelValues("found").Add(value)
	case MetricGapsUnresolved:
		t.gaps.WithLabelValues("unresolved").Add(value)
	case MetricLLMCalls:
		t.llmCalls.WithLabelValues(l("provider"), l("model"), l("status")).Add(value)
	case MetricLLMLatency:
		t.llmLatency.WithLabelValues(l("provider"), l("model")).Observe(value)
	case MetricLLMRetries:
		t.llmRetries.WithLabelValues(l("provider"), l("error_type")).Add(value)
	case MetricLLMTokensInput:
		t.llmTokens.WithLabelValues(l("provider"), l("model"), "input").Add(value)
	case MetricLLMTokensOutput:
		t.llmTokens.WithLabelValues(l("provider"), l("model"), "output").Add(value)
	case MetricToolExecutions:
		t.toolExecutions.WithLabelValues(l("tool"), l("status")).Add(value)
	case MetricJobsFinished:
		t.jobsFinished.WithLabelValues(l("status")).Add(value)
	case MetricRetentionPurged:
		t.purged.WithLabelValues(l("kind")).Add(value)
	default:
		t.logger.Debug("Dropping unmapped metric", zap.String("metric", name), zap.Float64("value", value))
	}
}

// RecordEvent logs the event at debug level.
func (t *PrometheusTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	t.logger.Debug("Trace event", zap.String("event", name), zap.Any("attributes", attributes))
}

// Flush is a no-op; Prometheus scrapes on demand.
func (t *PrometheusTracer) Flush(ctx context.Context) error {
	return nil
}

var _ Tracer = (*PrometheusTracer)(nil)
