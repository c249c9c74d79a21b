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
package artifacts

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
)

// DiffStats summarizes how a merge changed the report.
type DiffStats struct {
	// InsertedLines and DeletedLines count whole lines.
	InsertedLines int
	DeletedLines  int
	// Similarity is the share of unchanged characters, 0 to 1.
	Similarity float64
}

// String renders "+12/-3 lines".
func (d DiffStats) String() string {
	return fmt.Sprintf("+%d/-%d lines", d.InsertedLines, d.DeletedLines)
}

// Diff compares two versions of a report line by line.
func Diff(before, after string) DiffStats {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var stats DiffStats
	common, total := 0, 0
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stats.InsertedLines += n
			total += len(d.Text)
		case diffmatchpatch.DiffDelete:
			stats.DeletedLines += n
			total += len(d.Text)
		case diffmatchpatch.DiffEqual:
			common += len(d.Text)
			total += len(d.Text)
		}
	}
	if total == 0 {
		stats.Similarity = 1
	} else {
		stats.Similarity = float64(common) / float64(total)
	}
	return stats
}

// Patch returns a text patch turning before into after.
func Patch(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.PatchToText(dmp.PatchMake(before, diffs))
}

// SaveDiff writes the patch produced by one merge and returns its stats.
func (s *Store) SaveDiff(jobID string, iteration int, before, after string) (DiffStats, error) {
	stats := Diff(before, after)
	dir, err := s.jobDir(jobID, diffDir)
	if err != nil {
		return stats, err
	}

	path := filepath.Join(dir, fmt.Sprintf("iter-%d.patch", iteration))
	if err := writeFileAtomic(path, []byte(Patch(before, after))); err != nil {
		return stats, fmt.Errorf("failed to write diff: %w", err)
	}

	s.logger.Debug("Merge diff saved",
		zap.String("job_id", jobID),
		zap.Int("iteration", iteration),
		zap.Int("inserted_lines", stats.InsertedLines),
		zap.Int("deleted_lines", stats.DeletedLines))
	return stats, nil
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
