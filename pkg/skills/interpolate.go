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
package skills

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var placeholderRe = regexp.MustCompile(`\{\{\.(\w+)\}\}`)

// Interpolate substitutes {{.name}} placeholders in a prompt fragment.
// Values are flattened to a single line and escaped so that a data-source
// name or description cannot break out of the fragment. Unknown placeholders
// are kept as is.
//
//	Interpolate("You answer questions about {{.data_source}}", map[string]interface{}{
//	    "data_source": "sales",
//	})
//	// "You answer questions about sales"
func Interpolate(template string, vars map[string]interface{}) string {
	if len(vars) == 0 {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "{{."), "}}")
		value, ok := vars[name]
		if !ok {
			return match
		}
		return escapeValue(value)
	})
}

func escapeValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return escapeString(v)
	case int, int64, int32, float64, float32, bool:
		return fmt.Sprintf("%v", v)
	case []string:
		escaped := make([]string, len(v))
		for i, s := range v {
			escaped[i] = escapeString(s)
		}
		return strings.Join(escaped, ", ")
	case fmt.Stringer:
		return escapeString(v.String())
	default:
		return escapeString(fmt.Sprintf("%v", v))
	}
}

// injectionMarkers are blanked out of interpolated values.
var injectionMarkers = []string{
	"```",
	"###",
	"---",
	"System:",
	"Assistant:",
	"Human:",
	"[INST]",
	"[/INST]",
	"<|im_start|>",
	"<|im_end|>",
}

func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = html.EscapeString(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	s = b.String()
	for _, marker := range injectionMarkers {
		s = strings.ReplaceAll(s, marker, strings.Repeat(" ", len(marker)))
	}
	return strings.Join(strings.Fields(s), " ")
}
