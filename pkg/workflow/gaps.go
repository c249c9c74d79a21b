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
	"encoding/json"
	"fmt"
	"strings"
)

// ParseGaps decodes the critique output: a JSON array of gap records,
// optionally wrapped in a ```json or ``` fence. Records with every field
// empty are dropped. An error means the text was not a gap array; callers
// treat that as "no gaps".
func ParseGaps(raw string) ([]GapRecord, error) {
	gaps, _, err := parseGaps(raw)
	return gaps, err
}

// parseGaps is ParseGaps that also reports how many empty records it dropped.
func parseGaps(raw string) ([]GapRecord, int, error) {
	text := stripFence(raw)
	if text == "" {
		return nil, 0, fmt.Errorf("empty critique")
	}

	var records []GapRecord
	if err := json.Unmarshal([]byte(text), &records); err != nil {
		return nil, 0, fmt.Errorf("critique is not a gap array: %w", err)
	}

	gaps := make([]GapRecord, 0, len(records))
	for _, r := range records {
		r.Section = strings.TrimSpace(r.Section)
		r.Description = strings.TrimSpace(r.Description)
		r.Impact = strings.TrimSpace(r.Impact)
		if r.Empty() {
			continue
		}
		gaps = append(gaps, r)
	}
	return gaps, len(records) - len(gaps), nil
}

// stripFence removes surrounding whitespace and one enclosing code fence
// (```json, ```markdown, ``` ...).
func stripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// Drop the info string ("json") on the opening line.
		if info := strings.TrimSpace(text[:nl]); !strings.ContainsAny(info, "[{") {
			text = text[nl+1:]
		}
	} else {
		text = strings.TrimLeft(text, "abcdefghijklmnopqrstuvwxyz")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ResolutionUnit is the work item of one gap resolver.
type ResolutionUnit struct {
	Index  int
	UnitID string
	Gap    GapRecord
}

// Dispatch creates one resolution unit per gap.
func Dispatch(gaps []GapRecord) []ResolutionUnit {
	units := make([]ResolutionUnit, len(gaps))
	for i, g := range gaps {
		units[i] = ResolutionUnit{
			Index:  i,
			UnitID: fmt.Sprintf("resolver-%d", i),
			Gap:    g,
		}
	}
	return units
}
