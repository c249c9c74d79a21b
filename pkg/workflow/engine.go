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
package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/loom-research/pkg/agent"
	"github.com/teradata-labs/loom-research/pkg/artifacts"
	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/prompts"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/stream"
)

// Stage tags carried by progress events. Resolver events carry their unit ID.
const (
	TagDraft      = "draft"
	TagCritique   = "critique"
	TagFanOut     = "fan-out"
	TagMerge      = "merge"
	TagFinal      = "final"
	TagSupervisor = "supervisor"
)

// MergeStageMessage is the stage-change payload emitted before every merge.
const MergeStageMessage = "Merging the gathered resources"

// Prompts supplies the prompt pack of an analysis type.
type Prompts interface {
	Get(t prompts.AnalysisType) (*prompts.Pack, error)
}

// ArtifactSink persists the final report and returns a reference to it.
type ArtifactSink interface {
	WriteReport(jobID, analysisType, text string) (string, error)
}

// SnapshotSink is implemented by artifact sinks that also keep every
// iteration of the report.
type SnapshotSink interface {
	SaveSnapshot(jobID string, iteration int, text string) error
	SaveDiff(jobID string, iteration int, before, after string) (artifacts.DiffStats, error)
}

// Stream is the progress channel of one run. *stream.Queue implements it.
type Stream interface {
	stream.Sink
	Close(err error) bool
}

// Config tunes the engine.
type Config struct {
	// IterationBound is the number of critique/resolve/merge cycles. Zero
	// finalizes the draft as is.
	IterationBound int `mapstructure:"iteration_bound"`
	// MaxConcurrentResolvers caps resolvers running at once; 0 means no cap.
	MaxConcurrentResolvers int `mapstructure:"max_concurrent_resolvers"`
	// Snapshots keeps every iteration and merge diff when the sink supports it.
	Snapshots bool `mapstructure:"snapshots"`
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		IterationBound:         2,
		MaxConcurrentResolvers: 8,
		Snapshots:              true,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.IterationBound < 0 {
		return fmt.Errorf("iteration_bound must not be negative, got %d", c.IterationBound)
	}
	if c.MaxConcurrentResolvers < 0 {
		return fmt.Errorf("max_concurrent_resolvers must not be negative, got %d", c.MaxConcurrentResolvers)
	}
	return nil
}

// PanicError is a recovered panic from a stage or resolver.
type PanicError struct {
	Where string
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", p.Where, p.Value)
}

func newPanicError(where string, v interface{}) *PanicError {
	return &PanicError{Where: where, Value: v, Stack: debug.Stack()}
}

// Placeholder is the insight recorded for a gap no resolver could fill.
func Placeholder(section, reason string) string {
	msg := "gap could not be resolved — " + reason
	if section == "" {
		return msg
	}
	return section + ": " + msg
}

// RunRequest starts one workflow.
type RunRequest struct {
	JobID        string
	Query        string
	AnalysisType prompts.AnalysisType
	// Stream receives progress and is closed when Run returns. May be nil.
	Stream Stream
	// IterationBound overrides the configured bound when set.
	IterationBound *int
}

// Result is the outcome of a successful run.
type Result struct {
	JobID      string
	Artifact   string
	ReportPath string
	Iterations int
	GapsFound  int
	Unresolved int
	Duration   time.Duration
}

// Engine runs refinement workflows.
type Engine struct {
	generator agent.Generator
	prompts   Prompts
	sink      ArtifactSink
	tools     []shuttle.Tool
	config    Config
	logger    *zap.Logger
	tracer    observability.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithTools sets the tools offered to the draft and resolver stages.
func WithTools(tools ...shuttle.Tool) Option {
	return func(e *Engine) { e.tools = append(e.tools, tools...) }
}

// WithConfig replaces the engine settings.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer observability.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewEngine creates an engine.
func NewEngine(generator agent.Generator, p Prompts, sink ArtifactSink, opts ...Option) (*Engine, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if p == nil {
		return nil, errors.New("prompts are required")
	}
	if sink == nil {
		return nil, errors.New("artifact sink is required")
	}

	e := &Engine{
		generator: generator,
		prompts:   p,
		sink:      sink,
		config:    DefaultConfig(),
		logger:    zap.NewNop(),
		tracer:    observability.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.config
}

// Execution is one run in progress: its state, prompt pack and progress sink.
type Execution struct {
	State *State

	pack       *prompts.Pack
	out        stream.Sink
	gapsFound  int
	unresolved atomic.Int64
	started    time.Time
}

// NewExecution prepares a run without starting it.
func (e *Engine) NewExecution(req RunRequest) (*Execution, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("query is required")
	}
	pack, err := e.prompts.Get(req.AnalysisType)
	if err != nil {
		return nil, err
	}
	bound := e.config.IterationBound
	if req.IterationBound != nil {
		if *req.IterationBound < 0 {
			return nil, fmt.Errorf("iteration bound must not be negative, got %d", *req.IterationBound)
		}
		bound = *req.IterationBound
	}

	var out stream.Sink = stream.Discard
	if req.Stream != nil {
		out = req.Stream
	}
	return &Execution{
		State:   NewState(req.JobID, req.Query, string(req.AnalysisType), bound),
		pack:    pack,
		out:     out,
		started: time.Now(),
	}, nil
}

// Run executes the whole workflow. It is the only place stage failures are
// handled: any error or panic emits an error event, and the stream is
// closed exactly once, with end on success and failed otherwise.
func (e *Engine) Run(ctx context.Context, req RunRequest) (res *Result, err error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanWorkflowRun,
		observability.WithAttribute(observability.AttrJobID, req.JobID),
		observability.WithAttribute(observability.AttrAnalysisType, string(req.AnalysisType)))

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, newPanicError(TagSupervisor, r)
		}

		status := "success"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			e.logger.Error("Workflow failed",
				zap.String("job_id", req.JobID),
				zap.Error(err))
		}
		if req.Stream != nil {
			if err != nil {
				req.Stream.Emit(stream.ErrorEvent(TagSupervisor, err))
			}
			req.Stream.Close(err)
		}
		e.tracer.RecordMetric(observability.MetricWorkflowRuns, 1, map[string]string{"status": status})
		e.tracer.EndSpan(span)
	}()

	x, err := e.NewExecution(req)
	if err != nil {
		return nil, err
	}
	span.SetAttribute(observability.AttrBound, x.State.bound)

	e.logger.Info("Workflow started",
		zap.String("job_id", req.JobID),
		zap.String("analysis_type", string(req.AnalysisType)),
		zap.Int("iteration_bound", x.State.bound))

	if err := e.Draft(ctx, x); err != nil {
		return nil, err
	}
	for ShouldContinue(x.State.Iteration(), x.State.bound) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.Critique(ctx, x); err != nil {
			return nil, err
		}
		if err := e.ResolveAll(ctx, x); err != nil {
			return nil, err
		}
		if err := e.Merge(ctx, x); err != nil {
			return nil, err
		}
	}
	return e.Finalize(ctx, x)
}

// Draft produces the initial report with the full tool set.
func (e *Engine) Draft(ctx context.Context, x *Execution) error {
	ctx, span := e.startStage(ctx, observability.SpanWorkflowDraft, x)
	defer e.tracer.EndSpan(span)

	x.out.Emit(stream.Stage(TagDraft, "Drafting the initial report"))
	system, prompt, err := x.pack.Render(prompts.StageDraft, prompts.Data{Query: x.State.Query})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("draft: %w", err)
	}

	text, err := e.generator.Generate(ctx, agent.Request{
		Stage:  TagDraft,
		UnitID: TagDraft,
		System: system,
		Prompt: prompt,
		Tools:  e.tools,
		Sink:   x.out,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("draft: %w", err)
	}
	text = stripFence(text)
	if text == "" {
		err := errors.New("draft: the model returned an empty report")
		span.RecordError(err)
		return err
	}

	x.State.setArtifact(text)
	e.saveSnapshot(x, 0, text)
	e.logger.Info("Draft complete",
		zap.String("job_id", x.State.JobID),
		zap.Int("chars", len(text)))
	return nil
}

// Critique asks for the report's knowledge gaps and replaces State gaps
// with them. Unparseable output yields no gaps and is only logged.
func (e *Engine) Critique(ctx context.Context, x *Execution) error {
	ctx, span := e.startStage(ctx, observability.SpanWorkflowCritique, x)
	defer e.tracer.EndSpan(span)

	snap := x.State.Snapshot()
	x.out.Emit(stream.Stage(TagCritique, "Reviewing the report for knowledge gaps"))

	system, prompt, err := x.pack.Render(prompts.StageCritique, prompts.Data{
		Query:    x.State.Query,
		Artifact: snap.Artifact,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("critique: %w", err)
	}

	raw, err := e.generator.Generate(ctx, agent.Request{
		Stage:  TagCritique,
		UnitID: TagCritique,
		System: system,
		Prompt: prompt,
		Sink:   x.out,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("critique: %w", err)
	}

	gaps, dropped, err := parseGaps(raw)
	if dropped > 0 {
		e.logger.Debug("Dropped empty gap records",
			zap.String("job_id", x.State.JobID),
			zap.Int("iteration", snap.Iteration),
			zap.Int("dropped", dropped),
			zap.Int("kept", len(gaps)))
	}
	if err != nil {
		e.logger.Warn("Critique output is not a gap list, continuing without gaps",
			zap.String("job_id", x.State.JobID),
			zap.Int("iteration", snap.Iteration),
			zap.String("raw", raw),
			zap.Error(err))
		gaps = nil
	}

	x.State.setGaps(gaps)
	x.gapsFound += len(gaps)
	span.SetAttribute(observability.AttrGapCount, len(gaps))
	e.tracer.RecordMetric(observability.MetricGapsFound, float64(len(gaps)), nil)
	x.out.Emit(stream.Stage(TagCritique, fmt.Sprintf("Found %d knowledge gaps", len(gaps))))
	return nil
}

// ResolveAll runs one resolver per gap and waits for all of them. Failed
// generations become placeholders; only a panic or the end of ctx fails the
// fan-out, which cancels the remaining resolvers.
func (e *Engine) ResolveAll(ctx context.Context, x *Execution) error {
	ctx, span := e.startStage(ctx, observability.SpanWorkflowFanOut, x)
	defer e.tracer.EndSpan(span)

	units := Dispatch(x.State.Snapshot().Gaps)
	span.SetAttribute(observability.AttrGapCount, len(units))
	if len(units) == 0 {
		return nil
	}
	x.out.Emit(stream.Stage(TagFanOut, fmt.Sprintf("Resolving %d knowledge gaps", len(units))))

	g, gctx := errgroup.WithContext(ctx)
	if e.config.MaxConcurrentResolvers > 0 {
		g.SetLimit(e.config.MaxConcurrentResolvers)
	}
	for _, unit := range units {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = newPanicError(unit.UnitID, r)
				}
			}()
			return e.Resolve(gctx, x, unit)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("resolve: %w", err)
	}
	if got := x.State.Insights().Len(); got != len(units) {
		err := fmt.Errorf("resolve: %d insights joined for %d gaps", got, len(units))
		span.RecordError(err)
		return err
	}
	return nil
}

// Resolve fills one gap and appends the result, or a placeholder when the
// generation fails or returns nothing, to the accumulator. It returns an
// error only when ctx has ended.
func (e *Engine) Resolve(ctx context.Context, x *Execution, unit ResolutionUnit) error {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanWorkflowResolve,
		observability.WithAttribute(observability.AttrJobID, x.State.JobID),
		observability.WithAttribute(observability.AttrUnitID, unit.UnitID))
	defer e.tracer.EndSpan(span)

	text, err := e.resolve(ctx, x, unit)
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.RecordError(ctxErr)
		return fmt.Errorf("%s: %w", unit.UnitID, ctxErr)
	}

	reason := ""
	switch {
	case err != nil:
		reason = err.Error()
	case strings.TrimSpace(text) == "":
		reason = "no content was generated"
	}
	if reason != "" {
		span.RecordError(fmt.Errorf("unresolved: %s", reason))
		e.logger.Warn("Gap could not be resolved",
			zap.String("job_id", x.State.JobID),
			zap.String("unit", unit.UnitID),
			zap.String("section", unit.Gap.Section),
			zap.String("reason", reason))
		x.State.Insights().Append(Placeholder(unit.Gap.Section, reason))
		e.tracer.RecordMetric(observability.MetricGapsUnresolved, 1, nil)
		x.unresolved.Add(1)
		return nil
	}

	x.State.Insights().Append(strings.TrimSpace(text))
	return nil
}

func (e *Engine) resolve(ctx context.Context, x *Execution, unit ResolutionUnit) (string, error) {
	system, prompt, err := x.pack.Render(prompts.StageResolve, prompts.Data{
		Query:       x.State.Query,
		Section:     unit.Gap.Section,
		Description: unit.Gap.Description,
		Impact:      unit.Gap.Impact,
	})
	if err != nil {
		return "", err
	}
	return e.generator.Generate(ctx, agent.Request{
		Stage:  "resolve",
		UnitID: unit.UnitID,
		System: system,
		Prompt: prompt,
		Tools:  e.tools,
		Sink:   stream.Tagged(x.out, unit.UnitID),
	})
}

// Merge folds the accumulated insights into the report, advances the
// iteration and empties the accumulator. With no insights the report is
// kept as is and no generation happens.
func (e *Engine) Merge(ctx context.Context, x *Execution) error {
	ctx, span := e.startStage(ctx, observability.SpanWorkflowMerge, x)
	defer e.tracer.EndSpan(span)

	snap := x.State.Snapshot()
	x.out.Emit(stream.Stage(TagMerge, MergeStageMessage))

	merged := snap.Artifact
	if len(snap.Insights) > 0 {
		system, prompt, err := x.pack.Render(prompts.StageMerge, prompts.Data{
			Query:    x.State.Query,
			Artifact: snap.Artifact,
			Insights: snap.Insights,
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("merge: %w", err)
		}
		text, err := e.generator.Generate(ctx, agent.Request{
			Stage:  TagMerge,
			UnitID: TagMerge,
			System: system,
			Prompt: prompt,
			Sink:   x.out,
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("merge: %w", err)
		}
		if text = stripFence(text); text != "" {
			merged = text
		} else {
			e.logger.Warn("Merge returned an empty report, keeping the previous one",
				zap.String("job_id", x.State.JobID))
		}
	}

	iteration := x.State.commitMerge(merged)
	span.SetAttribute(observability.AttrIteration, iteration)
	e.tracer.RecordMetric(observability.MetricWorkflowIterations, 1, nil)

	summary := fmt.Sprintf("Iteration %d of %d merged", iteration, snap.IterationBound)
	if stats, ok := e.saveIteration(x, iteration, snap.Artifact, merged); ok {
		summary += " (" + stats.String() + ")"
	}
	x.out.Emit(stream.Stage(TagMerge, summary))

	e.logger.Info("Merge complete",
		zap.String("job_id", x.State.JobID),
		zap.Int("iteration", iteration),
		zap.Int("insights", len(snap.Insights)))
	return nil
}

// Finalize persists the report and emits its reference.
func (e *Engine) Finalize(ctx context.Context, x *Execution) (*Result, error) {
	_, span := e.startStage(ctx, observability.SpanWorkflowFinalize, x)
	defer e.tracer.EndSpan(span)

	snap := x.State.Snapshot()
	x.out.Emit(stream.Stage(TagFinal, "Saving the final report"))

	path, err := e.sink.WriteReport(x.State.JobID, x.State.AnalysisType, snap.Artifact)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("finalize: %w", err)
	}
	x.out.Emit(stream.OutputRef(TagFinal, path))

	res := &Result{
		JobID:      x.State.JobID,
		Artifact:   snap.Artifact,
		ReportPath: path,
		Iterations: snap.Iteration,
		GapsFound:  x.gapsFound,
		Unresolved: int(x.unresolved.Load()),
		Duration:   time.Since(x.started),
	}
	e.logger.Info("Workflow complete",
		zap.String("job_id", res.JobID),
		zap.String("report", path),
		zap.Int("iterations", res.Iterations),
		zap.Int("gaps_found", res.GapsFound),
		zap.Int("unresolved", res.Unresolved),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (e *Engine) startStage(ctx context.Context, name string, x *Execution) (context.Context, *observability.Span) {
	return e.tracer.StartSpan(ctx, name,
		observability.WithAttribute(observability.AttrJobID, x.State.JobID),
		observability.WithAttribute(observability.AttrIteration, x.State.Iteration()))
}

func (e *Engine) snapshots() (SnapshotSink, bool) {
	if !e.config.Snapshots {
		return nil, false
	}
	s, ok := e.sink.(SnapshotSink)
	return s, ok
}

func (e *Engine) saveSnapshot(x *Execution, iteration int, text string) {
	s, ok := e.snapshots()
	if !ok {
		return
	}
	if err := s.SaveSnapshot(x.State.JobID, iteration, text); err != nil {
		e.logger.Warn("Failed to save snapshot",
			zap.String("job_id", x.State.JobID),
			zap.Int("iteration", iteration),
			zap.Error(err))
	}
}

func (e *Engine) saveIteration(x *Execution, iteration int, before, after string) (artifacts.DiffStats, bool) {
	s, ok := e.snapshots()
	if !ok {
		return artifacts.DiffStats{}, false
	}
	e.saveSnapshot(x, iteration, after)
	stats, err := s.SaveDiff(x.State.JobID, iteration, before, after)
	if err != nil {
		e.logger.Warn("Failed to save merge diff",
			zap.String("job_id", x.State.JobID),
			zap.Int("iteration", iteration),
			zap.Error(err))
		return stats, false
	}
	return stats, true
}
