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
package schemagraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

var (
	// ErrUnknownTable is returned when a table is not part of the graph.
	ErrUnknownTable = errors.New("unknown table")

	// ErrNoPathFound is returned when two tables are not connected by foreign keys.
	ErrNoPathFound = errors.New("no join path found")
)

// UnknownTableError names the missing table and the closest known names.
type UnknownTableError struct {
	Table       string
	Suggestions []string
}

func (e *UnknownTableError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("unknown table %q", e.Table)
	}
	return fmt.Sprintf("unknown table %q (did you mean %s?)", e.Table, strings.Join(e.Suggestions, ", "))
}

// Is makes errors.Is(err, ErrUnknownTable) match.
func (e *UnknownTableError) Is(target error) bool {
	return target == ErrUnknownTable
}

const maxSuggestions = 3

func unknownTable(name string, known []string) *UnknownTableError {
	var suggestions []string
	for _, m := range fuzzy.Find(name, known) {
		suggestions = append(suggestions, m.Str)
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	if len(suggestions) == 0 {
		// fuzzy needs every pattern rune in order; fall back to shared substrings
		lower := strings.ToLower(name)
		for _, k := range known {
			kl := strings.ToLower(k)
			if strings.Contains(kl, lower) || strings.Contains(lower, kl) {
				suggestions = append(suggestions, k)
				if len(suggestions) == maxSuggestions {
					break
				}
			}
		}
	}
	return &UnknownTableError{Table: name, Suggestions: suggestions}
}
