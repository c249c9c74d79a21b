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
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestRegistry_EmbeddedPacks(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	types := registry.Types()
	if len(types) != len(AnalysisTypes()) {
		t.Fatalf("Types() = %v, want all %d analysis types", types, len(AnalysisTypes()))
	}

	for _, at := range AnalysisTypes() {
		pack, err := registry.Get(at)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", at, err)
		}
		if err := pack.Validate(); err != nil {
			t.Errorf("embedded pack %q invalid: %v", at, err)
		}
		if !strings.HasPrefix(pack.Source, "embedded/") {
			t.Errorf("pack %q source = %q, want embedded", at, pack.Source)
		}
	}
}

func TestPack_RenderStages(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	pack, err := registry.Get(IndustryReport)
	if err != nil {
		t.Fatal(err)
	}

	data := Data{
		Query:       "EV charging in Kenya",
		Artifact:    "# Report\n\nLine one\nLine two",
		Section:     "Market size and growth projections",
		Description: "No market size figures",
		Impact:      "Investors cannot size the opportunity",
		Insights:    []string{"insight A", "insight B"},
	}

	system, draft, err := pack.Render(StageDraft, data)
	if err != nil {
		t.Fatalf("Render(draft) failed: %v", err)
	}
	if !strings.Contains(system, "1. Market size and growth projections") {
		t.Errorf("system prompt lacks numbered sections:\n%s", system)
	}
	if strings.Contains(system, "{{.") {
		t.Errorf("system prompt has unresolved placeholders:\n%s", system)
	}
	if !strings.Contains(draft, "EV charging in Kenya") {
		t.Errorf("draft prompt lacks query:\n%s", draft)
	}

	_, critique, err := pack.Render(StageCritique, data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(critique, "# Report\n\nLine one\nLine two") {
		t.Errorf("critique prompt does not keep the artifact layout:\n%s", critique)
	}
	if !strings.Contains(critique, `"gap_description"`) {
		t.Errorf("critique prompt lacks the JSON shape:\n%s", critique)
	}
	if !strings.Contains(critique, "5 most critical gaps") {
		t.Errorf("critique prompt lacks the gap limit:\n%s", critique)
	}

	_, resolve, err := pack.Render(StageResolve, data)
	if err != nil {
		t.Fatal(err)
	}
	want := "Market size and growth projections\nNo market size figures\nInvestors cannot size the opportunity"
	if !strings.HasSuffix(resolve, want) {
		t.Errorf("resolve prompt should end with the gap fields, got:\n%s", resolve)
	}

	_, merge, err := pack.Render(StageMerge, data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(merge, "### Filled gap 1\n\ninsight A") || !strings.Contains(merge, "### Filled gap 2\n\ninsight B") {
		t.Errorf("merge prompt lacks insights:\n%s", merge)
	}

	if _, _, err := pack.Render(Stage("bogus"), data); err == nil {
		t.Error("Render(bogus) should fail")
	}
}

func TestPack_ArtifactIsNotReinterpolated(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	pack, _ := registry.Get(BarrierReport)

	_, prompt, err := pack.Render(StageCritique, Data{Query: "secret", Artifact: "literal {{.Query}} here"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "literal {{.Query}} here") {
		t.Errorf("artifact placeholder was expanded:\n%s", prompt)
	}
}

func TestParsePack_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"unknown field", "type: Industry Report\nsurprise: true\n"},
		{"not yaml", "type: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePack([]byte(tt.data)); err == nil {
				t.Errorf("ParsePack(%q) should fail", tt.data)
			}
		})
	}
}

func TestPack_Validate(t *testing.T) {
	full := Templates{Draft: "d", Critique: "c", Resolve: "r", Merge: "m"}
	tests := []struct {
		name    string
		pack    Pack
		wantErr bool
	}{
		{"valid", Pack{Type: IndustryReport, System: "s", Sections: []string{"a"}, Templates: full}, false},
		{"unknown type", Pack{Type: "Weather Report", System: "s", Sections: []string{"a"}, Templates: full}, true},
		{"no system", Pack{Type: IndustryReport, Sections: []string{"a"}, Templates: full}, true},
		{"no sections", Pack{Type: IndustryReport, System: "s", Templates: full}, true},
		{"missing template", Pack{Type: IndustryReport, System: "s", Sections: []string{"a"}, Templates: Templates{Draft: "d"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pack.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

const overridePack = `type: industry report
version: 2.0.0
report: custom industry brief
sections:
  - Only section
system: |
  Custom system for the {{.Report}}.
templates:
  draft: |
    Custom draft about {{.Query}}
`

func TestRegistry_DirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "custom"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "custom", "industry.yaml"), []byte(overridePack), 0o644); err != nil {
		t.Fatal(err)
	}

	registry, err := NewRegistry(WithDirectory(dir), WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	pack, err := registry.Get(IndustryReport)
	if err != nil {
		t.Fatal(err)
	}
	if pack.Version != "2.0.0" {
		t.Errorf("Version = %q, want override 2.0.0", pack.Version)
	}

	system, draft, err := pack.Render(StageDraft, Data{Query: "solar"})
	if err != nil {
		t.Fatal(err)
	}
	if system != "Custom system for the custom industry brief." {
		t.Errorf("system = %q", system)
	}
	if draft != "Custom draft about solar" {
		t.Errorf("draft = %q", draft)
	}

	// Templates the override leaves out come from base.yaml.
	_, critique, err := pack.Render(StageCritique, Data{Artifact: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(critique, "1. Only section") {
		t.Errorf("critique should inherit the base template:\n%s", critique)
	}

	// Other packs stay embedded.
	other, err := registry.Get(SalesForecastReport)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(other.Source, "embedded/") {
		t.Errorf("sales pack source = %q", other.Source)
	}
}

func TestRegistry_BadOverrideKeepsPreviousPacks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "industry.yaml")
	if err := os.WriteFile(path, []byte(overridePack), 0o644); err != nil {
		t.Fatal(err)
	}
	registry, err := NewRegistry(WithDirectory(dir))
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("type: Weather Report\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := registry.Reload(context.Background()); err == nil {
		t.Fatal("Reload() should fail on an unknown type")
	}

	pack, err := registry.Get(IndustryReport)
	if err != nil {
		t.Fatal(err)
	}
	if pack.Version != "2.0.0" {
		t.Errorf("Version = %q, want previous 2.0.0", pack.Version)
	}
}

func TestRegistry_MissingDirectory(t *testing.T) {
	if _, err := NewRegistry(WithDirectory(filepath.Join(t.TempDir(), "nope"))); err == nil {
		t.Fatal("NewRegistry() should fail for a missing directory")
	}
}

func TestRegistry_Watch(t *testing.T) {
	dir := t.TempDir()
	registry, err := NewRegistry(WithDirectory(dir), WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := registry.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "industry.yaml"), []byte(overridePack), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.Action == "error" {
				// A partially written file can fail to parse; the next
				// write event reloads it.
				continue
			}
			pack, err := registry.Get(IndustryReport)
			if err != nil {
				t.Fatal(err)
			}
			if pack.Version == "2.0.0" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestRegistry_WatchWithoutDirectory(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Watch(context.Background()); err == nil {
		t.Fatal("Watch() should fail without a directory")
	}
}

func TestAnalysisTypes(t *testing.T) {
	tests := []struct {
		in      string
		want    AnalysisType
		wantErr bool
	}{
		{"Industry Report", IndustryReport, false},
		{"  sales forecast report ", SalesForecastReport, false},
		{"TARGET MARKET REPORT", TargetMarketReport, false},
		{"Weather Report", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAnalysisType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAnalysisType(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAnalysisType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := MarketGapReport.Slug(); got != "market-gap-report" {
		t.Errorf("Slug() = %q", got)
	}
}
