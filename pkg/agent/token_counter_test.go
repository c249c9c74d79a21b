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
package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenCounter_CountTokens(t *testing.T) {
	tc := GetTokenCounter()
	assert.Same(t, tc, GetTokenCounter())

	assert.Equal(t, 0, tc.CountTokens(""))
	short := tc.CountTokens("hello world")
	long := tc.CountTokens(strings.Repeat("hello world ", 50))
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestTokenCounter_Truncate(t *testing.T) {
	tc := GetTokenCounter()

	tests := []struct {
		name      string
		text      string
		max       int
		truncated bool
	}{
		{name: "disabled", text: strings.Repeat("word ", 100), max: 0, truncated: false},
		{name: "empty", text: "", max: 5, truncated: false},
		{name: "fits", text: "short text", max: 100, truncated: false},
		{name: "cut", text: strings.Repeat("word ", 500), max: 20, truncated: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, cut := tc.Truncate(tt.text, tt.max)
			assert.Equal(t, tt.truncated, cut)
			if !tt.truncated {
				assert.Equal(t, tt.text, out)
				return
			}
			assert.Less(t, len(out), len(tt.text))
			assert.True(t, strings.HasPrefix(tt.text, out))
			assert.LessOrEqual(t, tc.CountTokens(out), tt.max)
		})
	}
}
