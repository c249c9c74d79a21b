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

// Package prompts holds the report taxonomy and the prompt packs that turn
// the generic refinement workflow into a specific kind of report.
//
// A pack is a YAML document with a system prompt, the list of sections the
// report must contain and one template per workflow stage. Six packs are
// embedded; a directory of YAML files can override any of them and is
// hot-reloaded.
//
// Example usage:
//
//	registry, err := prompts.NewRegistry(prompts.WithDirectory("./prompts"))
//	pack, err := registry.Get(prompts.IndustryReport)
//	system, prompt, err := pack.Render(prompts.StageDraft, prompts.Data{Query: "EV charging"})
package prompts

import (
	"fmt"
	"strings"
	"time"
)

// AnalysisType names a kind of report.
type AnalysisType string

const (
	IndustryReport      AnalysisType = "Industry Report"
	CompetitorReport    AnalysisType = "Competitor Report"
	MarketGapReport     AnalysisType = "Market Gap Report"
	TargetMarketReport  AnalysisType = "Target Market Report"
	BarrierReport       AnalysisType = "Barrier Report"
	SalesForecastReport AnalysisType = "Sales Forecast Report"
)

// AnalysisTypes returns every supported analysis type.
func AnalysisTypes() []AnalysisType {
	return []AnalysisType{
		IndustryReport,
		CompetitorReport,
		MarketGapReport,
		TargetMarketReport,
		BarrierReport,
		SalesForecastReport,
	}
}

// ParseAnalysisType matches s against the supported types, ignoring case
// and surrounding whitespace.
func ParseAnalysisType(s string) (AnalysisType, error) {
	s = strings.TrimSpace(s)
	for _, t := range AnalysisTypes() {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown analysis type %q", s)
}

// Slug returns a file-name friendly form ("industry-report").
func (t AnalysisType) Slug() string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(string(t))), " ", "-")
}

// Stage selects the template of a pack.
type Stage string

const (
	StageDraft    Stage = "draft"
	StageCritique Stage = "critique"
	StageResolve  Stage = "resolve"
	StageMerge    Stage = "merge"
)

// Data is the input to a stage template.
type Data struct {
	Query       string
	Artifact    string
	Section     string
	Description string
	Impact      string
	Insights    []string
}

// PackUpdate reports a change seen by Registry.Watch.
type PackUpdate struct {
	Path      string
	Action    string // "created", "modified", "deleted", "error"
	Timestamp time.Time
	Error     error // Set if Action is "error"
}
