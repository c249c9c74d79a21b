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

// Standard span names used across the research service.
const (
	// Workflow spans
	SpanWorkflowRun      = "workflow.run"
	SpanWorkflowDraft    = "workflow.draft"
	SpanWorkflowCritique = "workflow.critique"
	SpanWorkflowFanOut   = "workflow.fan_out"
	SpanWorkflowResolve  = "workflow.resolve"
	SpanWorkflowMerge    = "workflow.merge"
	SpanWorkflowFinalize = "workflow.finalize"

	// Agent spans
	SpanAgentToolLoop = "agent.tool_loop"

	// LLM spans
	SpanLLMCompletion = "llm.completion"
	SpanLLMRetry      = "llm.retry"

	// Tool (shuttle) spans
	SpanToolExecute  = "tool.execute"
	SpanToolValidate = "tool.validate"

	// MCP spans
	SpanMCPConnect   = "mcp.client.connect"
	SpanMCPToolsList = "mcp.tools.list"
	SpanMCPToolsCall = "mcp.tools.call"

	// Storage spans
	SpanStorageMigrate = "storage.migrate"
	SpanStorageQuery   = "storage.query"
)

// Standard metric names recorded through Tracer.RecordMetric.
const (
	MetricWorkflowRuns       = "workflow.runs.total"
	MetricWorkflowIterations = "workflow.iterations.total"
	MetricGapsFound          = "workflow.gaps.found"
	MetricGapsUnresolved     = "workflow.gaps.unresolved"
	MetricStageDuration      = "workflow.stage.duration"

	MetricLLMCalls        = "llm.calls.total"
	MetricLLMLatency      = "llm.latency"
	MetricLLMRetries      = "llm.retries.total"
	MetricLLMErrors       = "llm.errors.total"
	MetricLLMTokensInput  = "llm.tokens.input"  // #nosec G101 -- not a credential, just metric name
	MetricLLMTokensOutput = "llm.tokens.output" // #nosec G101 -- not a credential, just metric name

	MetricJobsFinished    = "jobs.finished.total"
	MetricRetentionPurged = "retention.purged.total"

	MetricToolExecutions = "tool.executions.total"
	MetricToolErrors     = "tool.errors.total"
)

// Standard attribute names for spans and events.
const (
	AttrJobID        = "job.id"
	AttrAnalysisType = "job.analysis_type"
	AttrIteration    = "workflow.iteration"
	AttrBound        = "workflow.iteration_bound"
	AttrGapCount     = "workflow.gap_count"
	AttrUnitID       = "workflow.unit_id"
	AttrStage        = "workflow.stage"

	AttrLLMProvider = "llm.provider"
	AttrLLMModel    = "llm.model"
	AttrLLMAttempt  = "llm.attempt"

	AttrToolName = "tool.name"
	AttrTurn     = "agent.turn"

	AttrMCPServerName = "mcp.server.name"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)
