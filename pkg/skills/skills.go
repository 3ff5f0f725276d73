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
// Package skills groups builtin tools into capability bundles. A bundle is a
// prompt fragment plus the tools that fragment talks about; which tools a
// bundle offers depends on the data source type and the agent role. Agent
// nodes compose bundles in declaration order.
package skills

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/shuttle/builtin"
)

// ErrDuplicateTool is returned when two bundles of one node offer the same tool.
var ErrDuplicateTool = errors.New("duplicate tool across skills")

// Kind is one of the closed set of capability bundles.
type Kind int

const (
	CoreAssistant Kind = iota
	Discovery
	Security
	SearchLanguage
)

// Kinds lists every bundle in declaration order.
var Kinds = []Kind{CoreAssistant, Discovery, Security, SearchLanguage}

func (k Kind) String() string {
	switch k {
	case CoreAssistant:
		return "core_assistant"
	case Discovery:
		return "discovery"
	case Security:
		return "security"
	case SearchLanguage:
		return "search_language"
	}
	return fmt.Sprintf("skill(%d)", int(k))
}

// Description is a one-line summary of the bundle.
func (k Kind) Description() string {
	switch k {
	case CoreAssistant:
		return "Conversation rules, time resolution, clarification, planning and SQL submission"
	case Discovery:
		return "Schema exploration: entities, columns, samples, values, join paths and relations"
	case Security:
		return "SQL safety validation before submission"
	case SearchLanguage:
		return "Search-engine query DSL validation and submission"
	}
	return ""
}

// Role is an agent node role.
type Role string

const (
	RoleMetadata Role = session.AssigneeMetadataAgent
	RoleSQL      Role = session.AssigneeSQLAgent
	RoleSearch   Role = session.AssigneeSearchAgent
)

// Skills returns the bundles a role composes, in declaration order.
func (r Role) Skills() []Kind {
	switch r {
	case RoleMetadata:
		return []Kind{CoreAssistant, Discovery}
	case RoleSQL:
		return []Kind{CoreAssistant, Discovery, Security}
	case RoleSearch:
		return []Kind{CoreAssistant, Discovery, SearchLanguage}
	}
	return nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMetadata || r == RoleSQL || r == RoleSearch
}

// Context is what bundles see when deciding their fragment and tools.
type Context struct {
	DataSourceID   string
	DataSourceName string
	Description    string
	DBType         fabric.DBType
	Role           Role
	HasIndex       bool
	Now            time.Time
}

func (c Context) vars() map[string]interface{} {
	name := c.DataSourceName
	if name == "" {
		name = c.DataSourceID
	}
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	return map[string]interface{}{
		"data_source":    name,
		"description":    c.Description,
		"db_type":        string(c.DBType),
		"query_language": c.DBType.QueryLanguage(),
		"today":          now.Format("2006-01-02 (Monday)"),
	}
}

var (
	coreFragment = heredoc.Doc(`
		You help users query the data source "{{.data_source}}" ({{.db_type}}).
		Today is {{.today}}. Reply in the language the user writes in.
		Never guess table or column names: look them up with the discovery tools first.
		If the request is ambiguous (metric, time range, entity or filter), call clarify_intent with concrete options instead of guessing.
		Use get_current_time to turn relative dates such as "last month" into exact ranges.
		For multi-step work, record a plan with create_plan and keep it current with update_plan_step.`)

	coreSQLFragment = heredoc.Doc(`
		When the SQL is ready, call submit_sql exactly once. Its explanation is shown to the user verbatim:
		explain the query in the user's language and include the query in a fenced block tagged sql.`)

	coreMetadataFragment = heredoc.Doc(`
		You describe the structure of the data source. Answer in plain text; do not write queries for the user.`)

	discoveryFragment = heredoc.Doc(`
		Discovery: list_entities shows every {{.entity}}; get_table_schema shows columns, keys and references;
		sample_rows and search_column_values show real values so filters match the stored spelling.`)

	discoveryRelationalFragment = heredoc.Doc(`
		Use find_join_path for the JOIN clauses between two tables and get_database_compass for the full foreign-key map.
		cross_entity_search finds which tables mention a keyword when you do not know where a value lives.`)

	discoveryIndexFragment = heredoc.Doc(`
		For large schemas, start with find_relevant_tables to shortlist tables related to the question.`)

	securityFragment = heredoc.Doc(`
		Security: generated SQL must be read-only. Run validate_sql before submit_sql and fix every blocking issue.
		Add a LIMIT when selecting from large tables.`)

	searchFragment = heredoc.Doc(`
		Queries are {{.db_type}} JSON request bodies (query DSL), not SQL.
		Check the body with validate_search_query, then call submit_query with the index name exactly once.
		Its explanation is shown to the user verbatim and must include the body in a fenced block tagged json.`)
)

// PromptFragment returns the bundle's system prompt fragment for c. An empty
// fragment means the bundle has nothing to say in this context.
func (k Kind) PromptFragment(c Context) string {
	var parts []string
	switch k {
	case CoreAssistant:
		parts = append(parts, coreFragment)
		switch c.Role {
		case RoleSQL:
			parts = append(parts, coreSQLFragment)
		case RoleMetadata:
			parts = append(parts, coreMetadataFragment)
		}
		if c.Description != "" {
			parts = append(parts, "About this data source: {{.description}}")
		}
	case Discovery:
		parts = append(parts, discoveryFragment)
		if c.DBType.IsRelational() {
			parts = append(parts, discoveryRelationalFragment)
		}
		if c.HasIndex {
			parts = append(parts, discoveryIndexFragment)
		}
	case Security:
		if c.DBType.IsRelational() {
			parts = append(parts, securityFragment)
		}
	case SearchLanguage:
		if c.DBType.IsSearchEngine() {
			parts = append(parts, searchFragment)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	vars := c.vars()
	vars["entity"] = "table"
	if c.DBType.IsSearchEngine() {
		vars["entity"] = "index"
	}
	return Interpolate(strings.Join(parts, "\n"), vars)
}

// ToolNames returns the tools the bundle offers in context c.
func (k Kind) ToolNames(c Context) []string {
	switch k {
	case CoreAssistant:
		names := []string{
			builtin.ToolGetCurrentTime,
			builtin.ToolClarifyIntent,
			builtin.ToolCreatePlan,
			builtin.ToolUpdatePlanStep,
			builtin.ToolRecordResult,
		}
		if c.Role == RoleSQL {
			names = append(names, builtin.ToolSubmitSQL)
		}
		return names
	case Discovery:
		names := []string{
			builtin.ToolListEntities,
			builtin.ToolGetTableSchema,
			builtin.ToolSampleRows,
			builtin.ToolSearchColumnValues,
		}
		if c.DBType.IsRelational() {
			names = append(names,
				builtin.ToolFindJoinPath,
				builtin.ToolDatabaseCompass,
				builtin.ToolCrossEntitySearch,
			)
		}
		if c.HasIndex {
			names = append(names, builtin.ToolFindRelevantTables)
		}
		return names
	case Security:
		if c.DBType.IsRelational() {
			return []string{builtin.ToolValidateSQL}
		}
	case SearchLanguage:
		if c.DBType.IsSearchEngine() {
			names := []string{builtin.ToolValidateSearchQuery}
			if c.Role == RoleSearch {
				names = append(names, builtin.ToolSubmitQuery)
			}
			return names
		}
	}
	return nil
}
