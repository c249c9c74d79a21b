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

// Package builtin provides the research tools registered by default:
// web search, page retrieval and document extraction.
package builtin

import "github.com/teradata-labs/loom-research/pkg/shuttle"

// Config groups the builtin tool settings.
type Config struct {
	Search SearchConfig `mapstructure:"search"`
	Fetch  FetchConfig  `mapstructure:"fetch"`
}

// RegisterDefaults registers every builtin tool on reg.
func RegisterDefaults(reg *shuttle.Registry, cfg Config) {
	reg.Register(NewWebSearchTool(cfg.Search))
	reg.Register(NewFetchPageTool(cfg.Fetch))
	reg.Register(NewFetchDocumentTool(cfg.Fetch))
}
