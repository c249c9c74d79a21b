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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGaps(t *testing.T) {
	const two = `[{"section":"Size","gap_description":"no market size","impact":"cannot size"},{"section":"Players","gap_description":"no shares","impact":"blind spot"}]`

	tests := []struct {
		name    string
		raw     string
		want    []GapRecord
		wantErr bool
	}{
		{
			name: "plain array",
			raw:  two,
			want: []GapRecord{
				{Section: "Size", Description: "no market size", Impact: "cannot size"},
				{Section: "Players", Description: "no shares", Impact: "blind spot"},
			},
		},
		{
			name: "json fence",
			raw:  "```json\n" + two + "\n```",
			want: []GapRecord{
				{Section: "Size", Description: "no market size", Impact: "cannot size"},
				{Section: "Players", Description: "no shares", Impact: "blind spot"},
			},
		},
		{
			name: "bare fence with whitespace",
			raw:  "\n  ```\n[{\"section\":\"Risks\"}]\n```  \n",
			want: []GapRecord{{Section: "Risks"}},
		},
		{
			name: "single line fence",
			raw:  "```json[{\"impact\":\"x\"}]```",
			want: []GapRecord{{Impact: "x"}},
		},
		{
			name: "all-empty records dropped",
			raw:  `[{"section":"","gap_description":"","impact":""},{},{"section":" Size "}]`,
			want: []GapRecord{{Section: "Size"}},
		},
		{
			name: "unknown fields ignored",
			raw:  `[{"section":"Size","priority":1}]`,
			want: []GapRecord{{Section: "Size"}},
		},
		{
			name: "empty array",
			raw:  "[]",
			want: []GapRecord{},
		},
		{name: "prose", raw: "The report looks complete.", wantErr: true},
		{name: "object not array", raw: `{"section":"Size"}`, wantErr: true},
		{name: "truncated", raw: `[{"section":"Size"`, wantErr: true},
		{name: "empty", raw: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGaps(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDispatch(t *testing.T) {
	assert.Empty(t, Dispatch(nil))

	gaps := []GapRecord{{Section: "a"}, {Section: "b"}, {Section: "c"}}
	units := Dispatch(gaps)
	require.Len(t, units, 3)
	for i, u := range units {
		assert.Equal(t, i, u.Index)
		assert.Equal(t, fmt.Sprintf("resolver-%d", i), u.UnitID)
		assert.Equal(t, gaps[i], u.Gap)
	}
}

func TestAccumulator(t *testing.T) {
	var acc Accumulator

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acc.Append(fmt.Sprintf("insight %d", i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, acc.Len())

	snap := acc.Snapshot()
	snap[0] = "mutated"
	assert.NotEqual(t, "mutated", acc.Snapshot()[0])

	acc.Apply(ResetOp())
	assert.Equal(t, 0, acc.Len())
	acc.Apply(AppendOp("again"))
	assert.Equal(t, []string{"again"}, acc.Snapshot())
	acc.Reset()
	assert.Empty(t, acc.Snapshot())
}

func TestState_CommitMerge(t *testing.T) {
	s := NewState("job", "q", "Industry Report", 2)
	s.setArtifact("draft")
	s.setGaps([]GapRecord{{Section: "a"}})
	s.Insights().Append("one")

	assert.Equal(t, 1, s.commitMerge("merged"))

	snap := s.Snapshot()
	assert.Equal(t, "merged", snap.Artifact)
	assert.Equal(t, 1, snap.Iteration)
	assert.Equal(t, 2, snap.IterationBound)
	assert.Empty(t, snap.Insights)
	assert.Empty(t, snap.Gaps)
	assert.Equal(t, 1, s.Iteration())
}

func TestShouldContinue(t *testing.T) {
	tests := []struct {
		iteration, bound int
		want             bool
	}{
		{0, 2, true},
		{1, 2, true},
		{2, 2, false},
		{3, 2, false},
		{0, 1, true},
		{1, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldContinue(tt.iteration, tt.bound), "iteration=%d bound=%d", tt.iteration, tt.bound)
	}
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "Size: gap could not be resolved — quota exceeded", Placeholder("Size", "quota exceeded"))
	assert.Equal(t, "gap could not be resolved — quota exceeded", Placeholder("", "quota exceeded"))
}

func TestParseGaps_CountsDroppedRecords(t *testing.T) {
	gaps, dropped, err := parseGaps(`[{"section":"Size","gap_description":"x","impact":"y"},{"section":"","gap_description":" ","impact":""},{}]`)
	require.NoError(t, err)
	assert.Len(t, gaps, 1)
	assert.Equal(t, 2, dropped)

	_, dropped, err = parseGaps("not json")
	assert.Error(t, err)
	assert.Zero(t, dropped)
}
