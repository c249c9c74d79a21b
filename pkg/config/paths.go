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

// Package config locates the research data directory. Databases, reports,
// prompt overrides and the daemon config file live under it by default.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv overrides the data directory.
const DataDirEnv = "RESEARCH_DATA_DIR"

// DataDir returns the research data directory.
//
// Priority:
// 1. RESEARCH_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.research (default)
//
// The returned path is absolute. A leading ~ is expanded to the user's
// home directory.
//
// It reads the environment directly rather than through viper because it
// runs before the config file is located.
func DataDir() string {
	if dataDir := os.Getenv(DataDirEnv); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".research"
	}
	return filepath.Join(homeDir, ".research")
}

// SubDir returns a path inside the data directory.
// Example: SubDir("reports") returns ~/.research/reports
func SubDir(name string) string {
	return filepath.Join(DataDir(), name)
}

// expandPath expands ~ and resolves to absolute path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
