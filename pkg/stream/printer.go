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
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxResultPreview bounds tool results printed without verbose output.
const maxResultPreview = 200

// Printer renders events for a terminal. Text chunks are written as they
// arrive; every other kind gets its own line.
type Printer struct {
	w       io.Writer
	verbose bool
	asJSON  bool
	midLine bool
}

// NewPrinter creates a Printer. verbose prints tool results in full;
// asJSON writes one JSON event per line instead.
func NewPrinter(w io.Writer, verbose, asJSON bool) *Printer {
	return &Printer{w: w, verbose: verbose, asJSON: asJSON}
}

// Print writes one event.
func (p *Printer) Print(e Event) error {
	if p.asJSON {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.w, "%s\n", data)
		return err
	}

	if e.Kind == KindTextChunk {
		_, err := io.WriteString(p.w, e.Payload)
		p.midLine = !strings.HasSuffix(e.Payload, "\n") && e.Payload != ""
		return err
	}

	line := p.line(e)
	if line == "" {
		return nil
	}
	if p.midLine {
		line = "\n" + line
		p.midLine = false
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

func (p *Printer) line(e Event) string {
	tag := ""
	if e.StageTag != "" {
		tag = "[" + e.StageTag + "] "
	}

	switch e.Kind {
	case KindStageChange:
		return "== " + tag + e.Payload
	case KindToolCall:
		return "-> " + tag + strings.Join(strings.Fields(e.Payload), " ")
	case KindToolResult:
		result := strings.TrimPrefix(e.Payload, "Results:\n")
		if !p.verbose && len(result) > maxResultPreview {
			result = result[:maxResultPreview] + "..."
		}
		return "<- " + tag + strings.Join(strings.Fields(result), " ")
	case KindOutputRef:
		if path, ok := ParseOutputRef(e.Payload); ok {
			return "Report: " + path
		}
		return "Report: " + e.Payload
	case KindError:
		return "!! " + tag + strings.TrimPrefix(e.Payload, ErrorPrefix)
	case KindEnd:
		return "Done."
	case KindFailed:
		return "Failed: " + strings.TrimPrefix(e.Payload, ErrorPrefix)
	}
	return ""
}
