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
package builtin

import (
	"github.com/teradata-labs/weft/pkg/shuttle"
)

var constructors = map[string]func(*Env) shuttle.Tool{
	ToolListEntities:        NewListEntitiesTool,
	ToolGetTableSchema:      NewGetTableSchemaTool,
	ToolSampleRows:          NewSampleRowsTool,
	ToolSearchColumnValues:  NewSearchColumnValuesTool,
	ToolFindJoinPath:        NewFindJoinPathTool,
	ToolDatabaseCompass:     NewDatabaseCompassTool,
	ToolCrossEntitySearch:   NewCrossEntitySearchTool,
	ToolFindRelevantTables:  NewFindRelevantTablesTool,
	ToolValidateSQL:         NewValidateSQLTool,
	ToolValidateSearchQuery: NewValidateSearchQueryTool,
	ToolGetCurrentTime:      NewGetCurrentTimeTool,
	ToolClarifyIntent:       NewClarifyIntentTool,
	ToolCreatePlan:          NewCreatePlanTool,
	ToolUpdatePlanStep:      NewUpdatePlanStepTool,
	ToolRecordResult:        NewRecordResultTool,
	ToolSubmitSQL:           NewSubmitSQLTool,
	ToolSubmitQuery:         NewSubmitQueryTool,
}

// ByName returns a builtin tool bound to env. Returns nil if not found.
func ByName(name string, env *Env) shuttle.Tool {
	ctor, ok := constructors[name]
	if !ok {
		return nil
	}
	return ctor(env)
}

// Names returns the names of all builtin tools.
func Names() []string {
	return []string{
		ToolListEntities,
		ToolGetTableSchema,
		ToolSampleRows,
		ToolSearchColumnValues,
		ToolFindJoinPath,
		ToolDatabaseCompass,
		ToolCrossEntitySearch,
		ToolFindRelevantTables,
		ToolValidateSQL,
		ToolValidateSearchQuery,
		ToolGetCurrentTime,
		ToolClarifyIntent,
		ToolCreatePlan,
		ToolUpdatePlanStep,
		ToolRecordResult,
		ToolSubmitSQL,
		ToolSubmitQuery,
	}
}

// RegisterByNames registers the named tools, bound to env, with a registry.
// Unknown names are skipped.
func RegisterByNames(registry *shuttle.Registry, env *Env, names []string) {
	for _, name := range names {
		if t := ByName(name, env); t != nil {
			registry.Register(t)
		}
	}
}
