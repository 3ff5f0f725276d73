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
package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"find_join_path", "find_join_path"},
		{"warehouse:list_entities", "warehouse_list_entities"},
		{"get table.schema", "get_table_schema"},
		{"查询", "__"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeToolName(tt.in), tt.in)
	}
	assert.Len(t, SanitizeToolName(strings.Repeat("x", 100)), 64)
}

func TestToolNameMap(t *testing.T) {
	m := BuildToolNameMap([]string{"warehouse:list_entities", "sample_rows"})
	assert.Equal(t, "warehouse:list_entities", ReverseToolName(m, "warehouse_list_entities"))
	assert.Equal(t, "sample_rows", ReverseToolName(m, "sample_rows"))
	assert.Equal(t, "unknown", ReverseToolName(m, "unknown"))
}
