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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/loom-research/pkg/agent"
	"github.com/teradata-labs/loom-research/pkg/artifacts"
	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/prompts"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
	"github.com/teradata-labs/loom-research/pkg/stream"
)

const twoGaps = "```json\n" + `[
  {"section": "Market size", "gap_description": "no figures", "impact": "cannot size"},
  {"section": "Key players", "gap_description": "no shares", "impact": "blind spot"}
]` + "\n```"

// scriptedGenerator answers by stage. n is the 1-based call count of that
// stage.
type scriptedGenerator struct {
	mu       sync.Mutex
	calls    map[string]int
	requests []agent.Request
	answer   func(ctx context.Context, req agent.Request, n int) (string, error)
}

func newScriptedGenerator(answer func(ctx context.Context, req agent.Request, n int) (string, error)) *scriptedGenerator {
	return &scriptedGenerator{calls: make(map[string]int), answer: answer}
}

func (g *scriptedGenerator) Generate(ctx context.Context, req agent.Request) (string, error) {
	g.mu.Lock()
	g.calls[req.Stage]++
	n := g.calls[req.Stage]
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	req.Sink.Emit(stream.Text(req.UnitID, "thinking about "+req.Stage))
	return g.answer(ctx, req, n)
}

func (g *scriptedGenerator) count(stage string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[stage]
}

func (g *scriptedGenerator) requestsFor(stage string) []agent.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []agent.Request
	for _, r := range g.requests {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}

// defaultAnswers drafts, finds two gaps per critique, fills them and merges
// into "report v<n>".
func defaultAnswers(ctx context.Context, req agent.Request, n int) (string, error) {
	switch req.Stage {
	case TagDraft:
		return "# Draft report", nil
	case TagCritique:
		return twoGaps, nil
	case "resolve":
		return "filled by " + req.UnitID, nil
	case TagMerge:
		return fmt.Sprintf("# report v%d", n), nil
	}
	return "", fmt.Errorf("unexpected stage %q", req.Stage)
}

type memorySink struct {
	mu      sync.Mutex
	reports map[string]string
	err     error
}

func (m *memorySink) WriteReport(jobID, analysisType, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.reports == nil {
		m.reports = make(map[string]string)
	}
	path := jobID + "/" + artifacts.ReportName(analysisType)
	m.reports[path] = text
	return path, nil
}

func newTestEngine(t *testing.T, gen agent.Generator, sink ArtifactSink, opts ...Option) *Engine {
	t.Helper()
	registry, err := prompts.NewRegistry()
	require.NoError(t, err)
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	e, err := NewEngine(gen, registry, sink, opts...)
	require.NoError(t, err)
	return e
}

func drain(t *testing.T, q *stream.Queue) []stream.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var events []stream.Event
	require.NoError(t, q.Drain(ctx, func(e stream.Event) error {
		events = append(events, e)
		return nil
	}))
	return events
}

func terminals(events []stream.Event) []stream.Event {
	var out []stream.Event
	for _, e := range events {
		if e.Terminal() {
			out = append(out, e)
		}
	}
	return out
}

func countStage(events []stream.Event, payload string) int {
	n := 0
	for _, e := range events {
		if e.Kind == stream.KindStageChange && e.Payload == payload {
			n++
		}
	}
	return n
}

func TestEngine_RunEndToEnd(t *testing.T) {
	gen := newScriptedGenerator(defaultAnswers)
	sink := &memorySink{}
	tracer := observability.NewMockTracer()
	tool := &shuttle.MockTool{MockName: "web_search"}
	engine := newTestEngine(t, gen, sink, WithTracer(tracer), WithTools(tool))
	q := stream.NewQueue()

	res, err := engine.Run(context.Background(), RunRequest{
		JobID:        "job-1",
		Query:        "EV charging in Kenya",
		AnalysisType: prompts.IndustryReport,
		Stream:       q,
	})
	require.NoError(t, err)

	assert.Equal(t, "# report v2", res.Artifact)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 4, res.GapsFound)
	assert.Equal(t, 0, res.Unresolved)
	assert.Equal(t, "job-1/industry-report.md", res.ReportPath)
	assert.Equal(t, "# report v2", sink.reports["job-1/industry-report.md"])

	assert.Equal(t, 1, gen.count(TagDraft))
	assert.Equal(t, 2, gen.count(TagCritique))
	assert.Equal(t, 4, gen.count("resolve"))
	assert.Equal(t, 2, gen.count(TagMerge))

	// Draft and resolvers get tools; critique and merge do not.
	assert.Len(t, gen.requestsFor(TagDraft)[0].Tools, 1)
	assert.Len(t, gen.requestsFor("resolve")[0].Tools, 1)
	assert.Empty(t, gen.requestsFor(TagCritique)[0].Tools)
	assert.Empty(t, gen.requestsFor(TagMerge)[0].Tools)

	// The resolver prompt carries the three gap fields on separate lines.
	var sawGap bool
	for _, r := range gen.requestsFor("resolve") {
		if strings.Contains(r.Prompt, "Market size\nno figures\ncannot size") {
			sawGap = true
		}
	}
	assert.True(t, sawGap)

	// Merge sees the current report and every insight of its cycle.
	merges := gen.requestsFor(TagMerge)
	assert.Contains(t, merges[0].Prompt, "# Draft report")
	assert.Contains(t, merges[0].Prompt, "filled by resolver-0")
	assert.Contains(t, merges[0].Prompt, "filled by resolver-1")
	assert.Contains(t, merges[1].Prompt, "# report v1")
	// Critique of cycle two reviews the merged report.
	assert.Contains(t, gen.requestsFor(TagCritique)[1].Prompt, "# report v1")

	events := drain(t, q)
	require.NotEmpty(t, events)
	assert.Equal(t, stream.KindStageChange, events[0].Kind)
	assert.Equal(t, TagDraft, events[0].StageTag)

	last := events[len(events)-1]
	assert.Equal(t, stream.KindEnd, last.Kind)
	require.Len(t, terminals(events), 1)

	ref := events[len(events)-2]
	assert.Equal(t, stream.KindOutputRef, ref.Kind)
	path, ok := stream.ParseOutputRef(ref.Payload)
	require.True(t, ok)
	assert.Equal(t, res.ReportPath, path)

	assert.Equal(t, 2, countStage(events, MergeStageMessage))
	for _, e := range events {
		if e.Kind == stream.KindTextChunk && strings.Contains(e.Payload, "resolve") {
			assert.True(t, strings.HasPrefix(e.StageTag, "resolver-"), "resolver event tagged %q", e.StageTag)
		}
	}
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}

	assert.Len(t, tracer.GetSpansByName(observability.SpanWorkflowMerge), 2)
	assert.Len(t, tracer.GetSpansByName(observability.SpanWorkflowResolve), 4)
	assert.Equal(t, 4.0, tracer.MetricTotal(observability.MetricGapsFound))
	assert.Equal(t, 2.0, tracer.MetricTotal(observability.MetricWorkflowIterations))
}

func TestEngine_IterationBoundOverride(t *testing.T) {
	gen := newScriptedGenerator(defaultAnswers)
	engine := newTestEngine(t, gen, &memorySink{})

	bound := 3
	res, err := engine.Run(context.Background(), RunRequest{
		JobID:          "job-3",
		Query:          "q",
		AnalysisType:   prompts.BarrierReport,
		IterationBound: &bound,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, gen.count(TagMerge))
	assert.Equal(t, "# report v3", res.Artifact)
}

func TestEngine_MalformedCritiqueMergesPassthrough(t *testing.T) {
	gen := newScriptedGenerator(func(ctx context.Context, req agent.Request, n int) (string, error) {
		if req.Stage == TagCritique {
			return "The report looks fine to me.", nil
		}
		return defaultAnswers(ctx, req, n)
	})
	engine := newTestEngine(t, gen, &memorySink{})
	q := stream.NewQueue()

	res, err := engine.Run(context.Background(), RunRequest{
		JobID:        "job-2",
		Query:        "q",
		AnalysisType: prompts.CompetitorReport,
		Stream:       q,
	})
	require.NoError(t, err)

	assert.Equal(t, "# Draft report", res.Artifact)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 0, res.GapsFound)
	assert.Equal(t, 0, gen.count("resolve"))
	assert.Equal(t, 0, gen.count(TagMerge))

	events := drain(t, q)
	assert.Equal(t, 2, countStage(events, MergeStageMessage))
	assert.Equal(t, stream.KindEnd, events[len(events)-1].Kind)
}

func TestEngine_FailedResolversBecomePlaceholders(t *testing.T) {
	gen := newScriptedGenerator(func(ctx context.Context, req agent.Request, n int) (string, error) {
		if req.Stage == "resolve" {
			switch req.UnitID {
			case "resolver-0":
				return "", errors.New("search quota exceeded")
			case "resolver-1":
				return "   ", nil
			}
		}
		return defaultAnswers(ctx, req, n)
	})
	engine := newTestEngine(t, gen, &memorySink{}, WithConfig(Config{IterationBound: 1, MaxConcurrentResolvers: 8}))

	res, err := engine.Run(context.Background(), RunRequest{
		JobID:        "job-4",
		Query:        "q",
		AnalysisType: prompts.MarketGapReport,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unresolved)
	assert.Equal(t, 1, res.Iterations)

	merges := gen.requestsFor(TagMerge)
	require.Len(t, merges, 1)
	assert.Contains(t, merges[0].Prompt, "Market size: gap could not be resolved — search quota exceeded")
	assert.Contains(t, merges[0].Prompt, "Key players: gap could not be resolved — no content was generated")
}

func TestEngine_MergeFailureEmitsSingleFailedTerminal(t *testing.T) {
	boom := errors.New("provider exhausted")
	gen := newScriptedGenerator(func(ctx context.Context, req agent.Request, n int) (string, error) {
		if req.Stage == TagMerge {
			return "", boom
		}
		return defaultAnswers(ctx, req, n)
	})
	sink := &memorySink{}
	engine := newTestEngine(t, gen, sink)
	q := stream.NewQueue()

	res, err := engine.Run(context.Background(), RunRequest{
		JobID:        "job-5",
		Query:        "q",
		AnalysisType: prompts.SalesForecastReport,
		Stream:       q,
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sink.reports)
	assert.Equal(t, 1, gen.count(TagMerge))

	events := drain(t, q)
	term := terminals(events)
	require.Len(t, term, 1)
	assert.Equal(t, stream.KindFailed, term[0].Kind)
	assert.Equal(t, term[0], events[len(events)-1])

	errEvent := events[len(events)-2]
	assert.Equal(t, stream.KindError, errEvent.Kind)
	assert.True(t, strings.HasPrefix(errEvent.Payload, stream.ErrorPrefix))
	assert.Contains(t, errEvent.Payload, "provider exhausted")

	for _, e := range events {
		assert.NotEqual(t, stream.KindOutputRef, e.Kind)
	}

	// Nothing is delivered after the terminal event.
	q.Emit(stream.Text("late", "ignored"))
	assert.False(t, q.Close(nil))
	_, err = q.Next(context.Background())
	assert.Error(t, err)
}

func TestEngine_NthCallFailureAlwaysClosesOnce(t *testing.T) {
	// Fail the n-th generation of the run, for every n up to the last.
	total := 1 + 2 + 4 + 2 // draft, critiques, resolvers, merges
	for failAt := 1; failAt <= total; failAt++ {
		t.Run(fmt.Sprintf("call-%d", failAt), func(t *testing.T) {
			var calls atomic.Int32
			gen := newScriptedGenerator(func(ctx context.Context, req agent.Request, n int) (string, error) {
				if int(calls.Add(1)) == failAt {
					return "", fmt.Errorf("call %d failed", failAt)
				}
				return defaultAnswers(ctx, req, n)
			})
			engine := newTestEngine(t, gen, &memorySink{}, WithConfig(Config{IterationBound: 2, MaxConcurrentResolvers: 1}))
			q := stream.NewQueue()

			_, err := engine.Run(context.Background(), RunRequest{
				JobID:        "job-n",
				Query:        "q",
				AnalysisType: prompts.IndustryReport,
				Stream:       q,
			})

			events := drain(t, q)
			term := terminals(events)
			require.Len(t, term, 1)
			assert.Equal(t, term[0], events[len(events)-1])
			if err != nil {
				assert.Equal(t, stream.KindFailed, term[0].Kind)
			} else {
				// Resolver failures are recovered as placeholders.
				assert.Equal(t, stream.KindEnd, term[0].Kind)
			}
		})
	}
}

func TestEngine_ResolverPanicCancelsSiblings(t *testing.T) {
	gen := newScriptedGenerator(func(ctx context.Context, req agent.Request, n int) (string, error) {
		if req.Stage == "resolve" {
			if req.UnitID == "resolver-0" {
				panic("resolver blew up")
			}
			<-ctx.Done()
			return "", ctx.Err()
		}
		return defaultAnswers(ctx, req, n)
	})
	engine := newTestEngine(t, gen, &memorySink{})
	q := stream.NewQueue()

	_, err := engine.Run(context.Background(), RunRequest{
		JobID:        "job-6",
		Query:        "q",
		AnalysisType: prompts.IndustryReport,
		Stream:       q,
	})
	require.Error(t, err)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "resolver-0", panicErr.Where)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Equal(t, 0, gen.count(TagMerge))

	events := drain(t, q)
	require.Len(t, terminals(events), 1)
	assert.Equal(t, stream.KindFailed, events[len(events)-1].Kind)
	assert.Contains(t, events[len(events)-2].Payload, "__ERROR__PanicError")
}

func TestEngine_SupervisorRecoversStagePanic(t *testing.T) {
	gen := newScriptedGenerator(func(ctx context.Context, req agent.Request, n int) (string, error) {
		if req.Stage == TagDraft {
			panic("draft blew up")
		}
		return defaultAnswers(ctx, req, n)
	})
	engine := newTestEngine(t, gen, &memorySink{})
	q := stream.NewQueue()

	_, err := engine.Run(context.Background(), RunRequest{JobID: "job-7", Query: "q", AnalysisType: prompts.IndustryReport, Stream: q})
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, TagSupervisor, panicErr.Where)

	events := drain(t, q)
	require.Len(t, terminals(events), 1)
	assert.Equal(t, stream.KindFailed, events[len(events)-1].Kind)
}

func TestEngine_ConcurrencyCap(t *testing.T) {
	const gapCount = 6
	var gaps []string
	for i := 0; i < gapCount; i++ {
		gaps = append(gaps, fmt.Sprintf(`{"section":"s%d","gap_description":"d","impact":"i"}`, i))
	}
	critique := "[" + strings.Join(gaps, ",") + "]"

	var running, peak atomic.Int32
	gen := newScriptedGenerator(func(ctx context.Context, req agent.Request, n int) (string, error) {
		switch req.Stage {
		case TagCritique:
			return critique, nil
		case "resolve":
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return "ok", nil
		}
		return defaultAnswers(ctx, req, n)
	})
	engine := newTestEngine(t, gen, &memorySink{}, WithConfig(Config{IterationBound: 1, MaxConcurrentResolvers: 2}))

	res, err := engine.Run(context.Background(), RunRequest{JobID: "job-8", Query: "q", AnalysisType: prompts.TargetMarketReport})
	require.NoError(t, err)
	assert.Equal(t, gapCount, gen.count("resolve"))
	assert.Equal(t, gapCount, res.GapsFound)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEngine_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := newScriptedGenerator(func(c context.Context, req agent.Request, n int) (string, error) {
		if req.Stage == TagDraft {
			cancel()
		}
		return defaultAnswers(c, req, n)
	})
	engine := newTestEngine(t, gen, &memorySink{})
	q := stream.NewQueue()

	_, err := engine.Run(ctx, RunRequest{JobID: "job-9", Query: "q", AnalysisType: prompts.IndustryReport, Stream: q})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, gen.count(TagCritique))

	events := drain(t, q)
	require.Len(t, terminals(events), 1)
	assert.Equal(t, stream.KindFailed, events[len(events)-1].Kind)
}

func TestEngine_InvalidRequestStillClosesStream(t *testing.T) {
	engine := newTestEngine(t, newScriptedGenerator(defaultAnswers), &memorySink{})

	tests := []struct {
		name string
		req  RunRequest
	}{
		{"empty query", RunRequest{JobID: "a", AnalysisType: prompts.IndustryReport}},
		{"unknown type", RunRequest{JobID: "b", Query: "q", AnalysisType: "Weather Report"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := stream.NewQueue()
			tt.req.Stream = q
			_, err := engine.Run(context.Background(), tt.req)
			require.Error(t, err)

			events := drain(t, q)
			require.Len(t, events, 2)
			assert.Equal(t, stream.KindError, events[0].Kind)
			assert.Equal(t, stream.KindFailed, events[1].Kind)
		})
	}
}

func TestEngine_FinalizeFailure(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	engine := newTestEngine(t, newScriptedGenerator(defaultAnswers), sink)
	q := stream.NewQueue()

	_, err := engine.Run(context.Background(), RunRequest{JobID: "job-10", Query: "q", AnalysisType: prompts.IndustryReport, Stream: q})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finalize")

	events := drain(t, q)
	assert.Equal(t, stream.KindFailed, events[len(events)-1].Kind)
}

func TestEngine_SnapshotsEveryIteration(t *testing.T) {
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	engine := newTestEngine(t, newScriptedGenerator(defaultAnswers), store)
	q := stream.NewQueue()
	res, err := engine.Run(context.Background(), RunRequest{JobID: "job-11", Query: "q", AnalysisType: prompts.IndustryReport, Stream: q})
	require.NoError(t, err)

	iterations, err := store.Snapshots("job-11")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, iterations)

	draft, err := store.LoadSnapshot("job-11", 0)
	require.NoError(t, err)
	assert.Equal(t, "# Draft report", draft)

	f, _, err := store.Open("job-11", "industry-report.md")
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, "job-11/industry-report.md", res.ReportPath)

	var stats []string
	for _, e := range drain(t, q) {
		if e.Kind == stream.KindStageChange && strings.HasPrefix(e.Payload, "Iteration ") {
			stats = append(stats, e.Payload)
		}
	}
	require.Len(t, stats, 2)
	assert.Equal(t, "Iteration 1 of 2 merged (+1/-1 lines)", stats[0])
}

func TestNewEngine_Validation(t *testing.T) {
	registry, err := prompts.NewRegistry()
	require.NoError(t, err)
	gen := newScriptedGenerator(defaultAnswers)

	_, err = NewEngine(nil, registry, &memorySink{})
	assert.Error(t, err)
	_, err = NewEngine(gen, nil, &memorySink{})
	assert.Error(t, err)
	_, err = NewEngine(gen, registry, nil)
	assert.Error(t, err)
	_, err = NewEngine(gen, registry, &memorySink{}, WithConfig(Config{IterationBound: -1}))
	assert.Error(t, err)
	_, err = NewEngine(gen, registry, &memorySink{}, WithConfig(Config{IterationBound: 0}))
	assert.NoError(t, err)
	_, err = NewEngine(gen, registry, &memorySink{}, WithConfig(Config{IterationBound: 1, MaxConcurrentResolvers: -1}))
	assert.Error(t, err)

	e, err := NewEngine(gen, registry, &memorySink{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), e.Config())
}
