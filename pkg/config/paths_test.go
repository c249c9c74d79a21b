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
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataDir(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Run("default to ~/.research", func(t *testing.T) {
		t.Setenv(DataDirEnv, "")
		assert.Equal(t, filepath.Join(homeDir, ".research"), DataDir())
	})

	t.Run("use RESEARCH_DATA_DIR when set", func(t *testing.T) {
		t.Setenv(DataDirEnv, "/custom/research")
		assert.Equal(t, "/custom/research", DataDir())
	})

	t.Run("expand ~", func(t *testing.T) {
		t.Setenv(DataDirEnv, "~/custom/.research")
		assert.Equal(t, filepath.Join(homeDir, "custom", ".research"), DataDir())
	})

	t.Run("make relative path absolute", func(t *testing.T) {
		t.Setenv(DataDirEnv, "relative/path")
		dataDir := DataDir()
		assert.True(t, filepath.IsAbs(dataDir))
		assert.True(t, strings.HasSuffix(dataDir, filepath.Join("relative", "path")))
	})
}

func TestSubDir(t *testing.T) {
	t.Setenv(DataDirEnv, "/custom/research")
	assert.Equal(t, filepath.Join("/custom/research", "reports"), SubDir("reports"))
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"expand tilde", "~/test/path", filepath.Join(homeDir, "test", "path")},
		{"absolute path unchanged", "/absolute/path", "/absolute/path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandPath(tt.input))
		})
	}

	rel := expandPath("relative/path")
	assert.True(t, filepath.IsAbs(rel))
}
