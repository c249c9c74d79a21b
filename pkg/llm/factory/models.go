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
package factory

import "sort"

// ModelInfo describes a supported model.
type ModelInfo struct {
	ID            string
	Name          string
	Provider      string
	ContextWindow int
	ToolUse       bool
}

var knownModels = map[string][]ModelInfo{
	"anthropic": {
		{ID: "claude-sonnet-4-5-20250929", Name: "Claude Sonnet 4.5", Provider: "anthropic", ContextWindow: 200000, ToolUse: true},
		{ID: "claude-opus-4-1-20250805", Name: "Claude Opus 4.1", Provider: "anthropic", ContextWindow: 200000, ToolUse: true},
		{ID: "claude-haiku-4-5-20251001", Name: "Claude Haiku 4.5", Provider: "anthropic", ContextWindow: 200000, ToolUse: true},
	},
	"bedrock": {
		{ID: "us.anthropic.claude-sonnet-4-5-20250929-v1:0", Name: "Claude Sonnet 4.5 (Bedrock)", Provider: "bedrock", ContextWindow: 200000, ToolUse: true},
		{ID: "us.anthropic.claude-haiku-4-5-20251001-v1:0", Name: "Claude Haiku 4.5 (Bedrock)", Provider: "bedrock", ContextWindow: 200000, ToolUse: true},
	},
	"gemini": {
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: "gemini", ContextWindow: 1048576, ToolUse: true},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: "gemini", ContextWindow: 1048576, ToolUse: true},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Provider: "gemini", ContextWindow: 1048576, ToolUse: true},
	},
	"openai": {
		{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai", ContextWindow: 128000, ToolUse: true},
		{ID: "gpt-4.1", Name: "GPT-4.1", Provider: "openai", ContextWindow: 1047576, ToolUse: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: "openai", ContextWindow: 128000, ToolUse: true},
	},
}

// Providers returns the supported provider names, sorted.
func Providers() []string {
	names := make([]string, 0, len(knownModels))
	for name := range knownModels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models returns the known models for provider.
func Models(provider string) []ModelInfo {
	return append([]ModelInfo(nil), knownModels[provider]...)
}

// LookupModel finds a known model by provider and ID.
func LookupModel(provider, id string) (ModelInfo, bool) {
	for _, m := range knownModels[provider] {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
