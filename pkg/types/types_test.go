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
package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "You are a SQL assistant."},
		{Role: RoleSystem, Content: "Dialect: sqlite."},
		{Role: RoleUser, Content: "count orders"},
	})
	assert.Equal(t, "You are a SQL assistant.\n\nDialect: sqlite.", system)
	assert.Len(t, rest, 1)

	system, rest = SplitSystem([]Message{{Role: RoleUser, Content: "hi"}})
	assert.Empty(t, system)
	assert.Len(t, rest, 1)
}

func TestHasToolCalls(t *testing.T) {
	var nilResp *LLMResponse
	assert.False(t, nilResp.HasToolCalls())
	assert.False(t, (&LLMResponse{Content: "done"}).HasToolCalls())
	assert.True(t, (&LLMResponse{ToolCalls: []ToolCall{{Name: "list_entities"}}}).HasToolCalls())
}
