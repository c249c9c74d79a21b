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
package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/loom-research/pkg/storage"
)

func TestPrintJob(t *testing.T) {
	job := &storage.Job{
		ID:           "abc",
		Query:        "EV charging in Europe",
		AnalysisType: "Industry Report",
		Status:       storage.StatusFailed,
		Error:        "upstream timeout",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	var buf bytes.Buffer
	printJob(&buf, job)

	out := buf.String()
	assert.Contains(t, out, "ID:")
	assert.Contains(t, out, "EV charging in Europe")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "upstream timeout")
	assert.NotContains(t, out, "Report:")
}

func TestPrintJobs(t *testing.T) {
	var buf bytes.Buffer
	printJobs(&buf, nil)
	assert.Equal(t, "No analyses.\n", buf.String())

	buf.Reset()
	printJobs(&buf, []*storage.Job{
		{ID: "a", Query: "first", Status: storage.StatusCompleted},
		{ID: "b", Query: "second", Status: storage.StatusPending},
	})
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "STATUS")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer query string", 10, "a longe..."},
		{"ééééééé", 5, "éé..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.n), tt.in)
	}
}
