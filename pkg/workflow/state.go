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

// Package workflow is the iterative refinement engine.
//
// A run drafts a report, then repeats a bounded number of cycles of
// critique, concurrent gap resolution and merge before persisting the
// result:
//
//	draft -> (critique -> fan-out -> resolve* -> join/merge -> continue?)* -> finalize
//
// Every stage reports progress on a single stream that is closed exactly
// once, with an end or failed terminal event.
package workflow

import (
	"sync"
)

// GapRecord is one knowledge gap found by the critique.
type GapRecord struct {
	Section     string `json:"section"`
	Description string `json:"gap_description"`
	Impact      string `json:"impact"`
}

// Empty reports whether all three fields are blank.
func (g GapRecord) Empty() bool {
	return g.Section == "" && g.Description == "" && g.Impact == ""
}

// OpKind discriminates accumulator operations.
type OpKind int

const (
	// OpAppend adds one insight.
	OpAppend OpKind = iota
	// OpReset empties the accumulator.
	OpReset
)

// AccumulatorOp is a command applied to an Accumulator.
type AccumulatorOp struct {
	Kind OpKind
	Text string
}

// AppendOp returns the operation that appends text.
func AppendOp(text string) AccumulatorOp {
	return AccumulatorOp{Kind: OpAppend, Text: text}
}

// ResetOp returns the operation that empties the accumulator.
func ResetOp() AccumulatorOp {
	return AccumulatorOp{Kind: OpReset}
}

// Accumulator collects resolver insights. Safe for concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	items []string
}

// Apply performs op.
func (a *Accumulator) Apply(op AccumulatorOp) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch op.Kind {
	case OpAppend:
		a.items = append(a.items, op.Text)
	case OpReset:
		a.items = nil
	}
}

// Append adds one insight.
func (a *Accumulator) Append(text string) { a.Apply(AppendOp(text)) }

// Reset empties the accumulator.
func (a *Accumulator) Reset() { a.Apply(ResetOp()) }

// Snapshot returns a copy of the insights in arrival order.
func (a *Accumulator) Snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.items...)
}

// Len returns the number of insights.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// State is the data one run operates on.
type State struct {
	JobID        string
	Query        string
	AnalysisType string

	mu        sync.Mutex
	artifact  string
	gaps      []GapRecord
	insights  Accumulator
	iteration int
	bound     int
}

// NewState creates the state of a run that will merge bound times.
func NewState(jobID, query, analysisType string, bound int) *State {
	return &State{
		JobID:        jobID,
		Query:        query,
		AnalysisType: analysisType,
		bound:        bound,
	}
}

// Snapshot is a consistent copy of a State.
type Snapshot struct {
	Artifact       string
	Gaps           []GapRecord
	Insights       []string
	Iteration      int
	IterationBound int
}

// Snapshot returns a consistent copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Artifact:       s.artifact,
		Gaps:           append([]GapRecord(nil), s.gaps...),
		Insights:       s.insights.Snapshot(),
		Iteration:      s.iteration,
		IterationBound: s.bound,
	}
}

// Iteration returns the number of merges done so far.
func (s *State) Iteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iteration
}

// Insights returns the accumulator resolvers write to.
func (s *State) Insights() *Accumulator {
	return &s.insights
}

func (s *State) setArtifact(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifact = text
}

func (s *State) setGaps(gaps []GapRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gaps = gaps
}

// commitMerge replaces the artifact, advances the iteration, empties the
// accumulator and clears the gaps as one step. It returns the new iteration.
func (s *State) commitMerge(artifact string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifact = artifact
	s.iteration++
	s.insights.Apply(ResetOp())
	s.gaps = nil
	return s.iteration
}

// ShouldContinue reports whether another refinement cycle is due.
func ShouldContinue(iteration, bound int) bool {
	return iteration < bound
}
