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
package prompts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMaxGaps caps the gaps a critique is asked for when a pack does not
// say otherwise.
const DefaultMaxGaps = 5

// Templates holds one template per workflow stage.
type Templates struct {
	Draft    string `yaml:"draft"`
	Critique string `yaml:"critique"`
	Resolve  string `yaml:"resolve"`
	Merge    string `yaml:"merge"`
}

// Pack is the prompt set for one analysis type.
//
// YAML format:
//
//	type: Industry Report
//	version: 1.0.0
//	report: industry analysis report
//	max_gaps: 5
//	sections: [Market size, ...]
//	system: |
//	  You are an experienced market research analyst...
//	templates:        # optional, falls back to base.yaml
//	  critique: |
//	    ...
type Pack struct {
	Type        AnalysisType `yaml:"type"`
	Version     string       `yaml:"version"`
	Description string       `yaml:"description"`
	// Report is the human name used inside prompts ("industry analysis report").
	Report    string    `yaml:"report"`
	MaxGaps   int       `yaml:"max_gaps"`
	Sections  []string  `yaml:"sections"`
	System    string    `yaml:"system"`
	Templates Templates `yaml:"templates"`

	// Source is where the pack was loaded from.
	Source string `yaml:"-"`
}

// ParsePack decodes one pack document. Unknown fields are rejected.
func ParsePack(data []byte) (*Pack, error) {
	var p Pack
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty pack")
		}
		return nil, fmt.Errorf("failed to parse pack: %w", err)
	}
	return &p, nil
}

// Validate checks that the pack can render every stage.
func (p *Pack) Validate() error {
	if _, err := ParseAnalysisType(string(p.Type)); err != nil {
		return err
	}
	if strings.TrimSpace(p.System) == "" {
		return fmt.Errorf("%s: system prompt is empty", p.Type)
	}
	if len(p.Sections) == 0 {
		return fmt.Errorf("%s: no sections", p.Type)
	}
	for _, stage := range []Stage{StageDraft, StageCritique, StageResolve, StageMerge} {
		if strings.TrimSpace(p.template(stage)) == "" {
			return fmt.Errorf("%s: no %s template", p.Type, stage)
		}
	}
	return nil
}

// inherit fills empty templates from base.
func (p *Pack) inherit(base Templates) {
	if p.Templates.Draft == "" {
		p.Templates.Draft = base.Draft
	}
	if p.Templates.Critique == "" {
		p.Templates.Critique = base.Critique
	}
	if p.Templates.Resolve == "" {
		p.Templates.Resolve = base.Resolve
	}
	if p.Templates.Merge == "" {
		p.Templates.Merge = base.Merge
	}
}

func (p *Pack) template(stage Stage) string {
	switch stage {
	case StageDraft:
		return p.Templates.Draft
	case StageCritique:
		return p.Templates.Critique
	case StageResolve:
		return p.Templates.Resolve
	case StageMerge:
		return p.Templates.Merge
	default:
		return ""
	}
}

// Render returns the system prompt and the user prompt for stage.
func (p *Pack) Render(stage Stage, data Data) (string, string, error) {
	tmpl := p.template(stage)
	if tmpl == "" {
		return "", "", fmt.Errorf("%s: no template for stage %q", p.Type, stage)
	}

	vars := p.vars(data)
	return strings.TrimSpace(Interpolate(p.System, vars)), strings.TrimSpace(Interpolate(tmpl, vars)), nil
}

func (p *Pack) vars(data Data) map[string]interface{} {
	report := p.Report
	if report == "" {
		report = strings.ToLower(string(p.Type))
	}
	maxGaps := p.MaxGaps
	if maxGaps <= 0 {
		maxGaps = DefaultMaxGaps
	}

	var sections strings.Builder
	for i, s := range p.Sections {
		fmt.Fprintf(&sections, "%d. %s\n", i+1, s)
	}

	return map[string]interface{}{
		"Report":      report,
		"MaxGaps":     maxGaps,
		"Sections":    Block(sections.String()),
		"Query":       data.Query,
		"Artifact":    Block(data.Artifact),
		"Section":     data.Section,
		"Description": data.Description,
		"Impact":      data.Impact,
		"Insights":    Block(formatInsights(data.Insights)),
	}
}

func formatInsights(insights []string) string {
	if len(insights) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, text := range insights {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### Filled gap %d\n\n%s", i+1, strings.TrimSpace(text))
	}
	return b.String()
}
