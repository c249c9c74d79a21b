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
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Block is a multi-line value (a report, a list of insights) that is
// inserted with its layout intact. Plain strings are flattened to one line.
type Block string

var placeholderRe = regexp.MustCompile(`\{\{\.(\w+)\}\}`)

// Interpolate performs variable substitution in a prompt template.
//
// Uses {{.Name}} syntax. Unknown placeholders are left as they are.
// Substituted values are never re-scanned, so a report that itself contains
// "{{.Query}}" cannot pull in other variables.
//
// Example:
//
//	result := Interpolate("Research {{.Query}}", map[string]interface{}{
//	    "Query": "EV charging in Kenya",
//	})
//	// Returns: "Research EV charging in Kenya"
func Interpolate(template string, vars map[string]interface{}) string {
	if vars == nil {
		return template
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimPrefix(strings.TrimSuffix(match, "}}"), "{{.")
		value, ok := vars[name]
		if !ok {
			return match
		}
		return escapeValue(value)
	})
}

// escapeValue converts a value to string and escapes it.
func escapeValue(value interface{}) string {
	switch v := value.(type) {
	case Block:
		return cleanBlock(string(v))
	case string:
		return escapeString(v)
	case int, int64, int32, float64, float32:
		return fmt.Sprintf("%v", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case []string:
		escaped := make([]string, len(v))
		for i, s := range v {
			escaped[i] = escapeString(s)
		}
		return strings.Join(escaped, ", ")
	default:
		return escapeString(fmt.Sprintf("%v", v))
	}
}

// cleanBlock removes null bytes, invalid UTF-8 and control characters other
// than newlines and tabs.
func cleanBlock(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// escapeString flattens a single-line value: control characters and line
// breaks go, chat-role markers are blanked out and whitespace is collapsed.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != ' ' {
			continue
		}
		result.WriteRune(r)
	}
	s = sanitizePromptInjection(result.String())

	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

// sanitizePromptInjection blanks out common chat-role and instruction markers.
func sanitizePromptInjection(s string) string {
	injectionPatterns := []string{
		"```",
		"System:",
		"Assistant:",
		"Human:",
		"[INST]",
		"[/INST]",
		"<|im_start|>",
		"<|im_end|>",
		"### Instruction:",
		"### Response:",
	}

	for _, pattern := range injectionPatterns {
		s = strings.ReplaceAll(s, pattern, strings.Repeat(" ", len(pattern)))
	}
	return s
}
