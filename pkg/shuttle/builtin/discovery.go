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
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/teradata-labs/weft/pkg/schemagraph"
	"github.com/teradata-labs/weft/pkg/shuttle"
)

// Discovery tool names.
const (
	ToolListEntities       = "list_entities"
	ToolGetTableSchema     = "get_table_schema"
	ToolSampleRows         = "sample_rows"
	ToolSearchColumnValues = "search_column_values"
	ToolFindJoinPath       = "find_join_path"
	ToolDatabaseCompass    = "get_database_compass"
	ToolCrossEntitySearch  = "cross_entity_search"
	ToolFindRelevantTables = "find_relevant_tables"
)

const (
	defaultSampleRows = 5
	maxSampleRows     = 50
	defaultValueLimit = 20
)

// NewListEntitiesTool lists the tables, views or indices of the data source.
func NewListEntitiesTool(env *Env) shuttle.Tool {
	return &tool{
		name:        ToolListEntities,
		description: "List every table, view or index of the active data source with its type and description. Call this first when you do not know the schema.",
		schema:      shuttle.NewObjectSchema("No arguments.", nil, nil),
		run: func(ctx context.Context, _ map[string]interface{}) (*shuttle.Result, error) {
			entities, err := env.Discovery.ListEntities(ctx, env.DataSourceID)
			if err != nil {
				return discoveryFailure(err)
			}
			if len(entities) == 0 {
				return shuttle.Success("no entities found"), nil
			}
			var b strings.Builder
			for _, e := range entities {
				fmt.Fprintf(&b, "- %s (%s)", e.Name, e.Type)
				if e.Description != "" {
					fmt.Fprintf(&b, ": %s", e.Description)
				}
				b.WriteByte('\n')
			}
			r := shuttle.Success(strings.TrimRight(b.String(), "\n"))
			r.Metadata = map[string]interface{}{"count": len(entities)}
			return r, nil
		},
	}
}

// NewGetTableSchemaTool describes one table or index.
func NewGetTableSchemaTool(env *Env) shuttle.Tool {
	return &tool{
		name:        ToolGetTableSchema,
		description: "Describe one table or index: columns, types, primary keys and the foreign keys each column references.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"table_name": shuttle.NewStringSchema("Table or index name as returned by list_entities").WithMinLength(1),
		}, []string{"table_name"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			table, err := env.Discovery.DescribeTable(ctx, env.DataSourceID, stringParam(params, "table_name"))
			if err != nil {
				return discoveryFailure(err)
			}
			return shuttle.Success(formatTable(table)), nil
		},
	}
}

func formatTable(t *schemagraph.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", t.Type, t.Name)
	if t.RowEstimate > 0 {
		fmt.Fprintf(&b, " (~%d rows)", t.RowEstimate)
	}
	if t.Description != "" {
		fmt.Fprintf(&b, "\n%s", t.Description)
	}
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "\n- %s %s", c.Name, c.Type)
		if c.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		}
		if !c.Nullable && !c.PrimaryKey {
			b.WriteString(" NOT NULL")
		}
		if c.References != nil {
			fmt.Fprintf(&b, " REFERENCES %s(%s)", c.References.Table, c.References.Column)
		}
		if c.Description != "" {
			fmt.Fprintf(&b, " -- %s", c.Description)
		}
	}
	return b.String()
}

// NewSampleRowsTool returns the first rows of a table.
func NewSampleRowsTool(env *Env) shuttle.Tool {
	return &tool{
		name:        ToolSampleRows,
		description: "Return the first rows of a table or index to see what the data looks like.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"table_name": shuttle.NewStringSchema("Table or index name").WithMinLength(1),
			"limit": shuttle.NewIntegerSchema("Number of rows (default 5)").
				WithRange(1, maxSampleRows).WithDefault(defaultSampleRows),
		}, []string{"table_name"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			table, err := env.Discovery.DescribeTable(ctx, env.DataSourceID, stringParam(params, "table_name"))
			if err != nil {
				return discoveryFailure(err)
			}
			rows, err := env.Backend.SampleRows(ctx, table.Name, intParam(params, "limit", defaultSampleRows))
			if err != nil {
				return discoveryFailure(err)
			}
			r := shuttle.Success(map[string]interface{}{
				"table":     table.Name,
				"columns":   rows.ColumnNames(),
				"rows":      rows.Rows,
				"row_count": rows.RowCount,
			})
			return r, nil
		},
	}
}

// NewSearchColumnValuesTool lists distinct values of one column that contain a keyword.
func NewSearchColumnValuesTool(env *Env) shuttle.Tool {
	return &tool{
		name:        ToolSearchColumnValues,
		description: "Find the distinct values of one column that contain a keyword (case-insensitive). Use it to map words in the question to stored values.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"table_name":  shuttle.NewStringSchema("Table or index name").WithMinLength(1),
			"column_name": shuttle.NewStringSchema("Column to search").WithMinLength(1),
			"keyword":     shuttle.NewStringSchema("Substring to look for").WithMinLength(1),
			"limit":       shuttle.NewIntegerSchema("Maximum distinct values (default 20)").WithRange(1, 100),
		}, []string{"table_name", "column_name", "keyword"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			table, err := env.Discovery.DescribeTable(ctx, env.DataSourceID, stringParam(params, "table_name"))
			if err != nil {
				return discoveryFailure(err)
			}
			column, ok := findColumn(table, stringParam(params, "column_name"))
			if !ok {
				return shuttle.Failure(shuttle.CodeInvalidArguments,
					fmt.Sprintf("table %s has no column %q", table.Name, stringParam(params, "column_name")),
					"call get_table_schema to see the columns"), nil
			}
			limit := intParam(params, "limit", defaultValueLimit)
			keyword := stringParam(params, "keyword")
			rows, err := env.Backend.SearchColumn(ctx, table.Name, column, keyword, limit*4)
			if err != nil {
				return discoveryFailure(err)
			}
			values := distinctValues(rows.Rows, column, limit)
			if len(values) == 0 {
				return shuttle.Success(fmt.Sprintf("no values of %s.%s contain %q", table.Name, column, keyword)), nil
			}
			return shuttle.Success(map[string]interface{}{
				"table":  table.Name,
				"column": column,
				"values": values,
			}), nil
		},
	}
}

func findColumn(t *schemagraph.Table, name string) (string, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c.Name, true
		}
	}
	return "", false
}

func distinctValues(rows []map[string]interface{}, column string, limit int) []string {
	seen := make(map[string]bool)
	var values []string
	for _, row := range rows {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if seen[s] {
			continue
		}
		seen[s] = true
		values = append(values, s)
		if len(values) == limit {
			break
		}
	}
	return values
}

// NewFindJoinPathTool returns the JOIN clauses connecting two tables.
func NewFindJoinPathTool(env *Env) shuttle.Tool {
	return &tool{
		name:        ToolFindJoinPath,
		description: "Find the shortest chain of foreign-key joins from start_table to end_table. Returns one JOIN clause per line; start_table is the FROM table.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"start_table": shuttle.NewStringSchema("Table used in FROM").WithMinLength(1),
			"end_table":   shuttle.NewStringSchema("Table to reach").WithMinLength(1),
		}, []string{"start_table", "end_table"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			start, end := stringParam(params, "start_table"), stringParam(params, "end_table")
			fragments, err := env.Discovery.FindJoinPath(ctx, env.DataSourceID, start, end)
			if err != nil {
				return discoveryFailure(err)
			}
			if len(fragments) == 0 {
				return shuttle.Success(fmt.Sprintf("%s and %s are the same table; no join is needed", start, end)), nil
			}
			r := shuttle.Success(strings.Join(fragments, "\n"))
			r.Metadata = map[string]interface{}{"hops": len(fragments)}
			return r, nil
		},
	}
}

// NewDatabaseCompassTool returns every foreign-key relation of the data source.
func NewDatabaseCompassTool(env *Env) shuttle.Tool {
	return &tool{
		name:        ToolDatabaseCompass,
		description: "Return the full foreign-key topology of the data source: every from_table.from_column -> to_table.to_column relation.",
		schema:      shuttle.NewObjectSchema("No arguments.", nil, nil),
		run: func(ctx context.Context, _ map[string]interface{}) (*shuttle.Result, error) {
			edges, err := env.Discovery.GetDatabaseCompass(ctx, env.DataSourceID)
			if err != nil {
				return discoveryFailure(err)
			}
			if len(edges) == 0 {
				return shuttle.Success("no foreign-key relations"), nil
			}
			lines := make([]string, len(edges))
			for i, e := range edges {
				lines[i] = e.String()
			}
			return shuttle.Success(strings.Join(lines, "\n")), nil
		},
	}
}

// NewCrossEntitySearchTool searches every text column of every table for a keyword.
func NewCrossEntitySearchTool(env *Env) shuttle.Tool {
	return &tool{
		name:        ToolCrossEntitySearch,
		description: "Search every text column of every table for a keyword and report which tables and columns contain it. Use it when you do not know where a value is stored.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"keyword":         shuttle.NewStringSchema("Value to look for").WithMinLength(1),
			"limit_per_table": shuttle.NewIntegerSchema("Maximum matching rows per table").WithRange(1, 50),
		}, []string{"keyword"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			limit := intParam(params, "limit_per_table", env.SearchLimitPerTable)
			result, err := env.Discovery.CrossEntitySearch(ctx, env.DataSourceID, stringParam(params, "keyword"), limit)
			if err != nil {
				return discoveryFailure(err)
			}
			if len(result.Matches) == 0 {
				msg := fmt.Sprintf("no matches for %q in %d tables", result.Keyword, result.TablesSearched)
				if result.TimedOut {
					msg += " (search timed out; results are partial)"
				}
				return shuttle.Success(msg), nil
			}
			r := shuttle.Success(result)
			r.Metadata = map[string]interface{}{"timed_out": result.TimedOut}
			return r, nil
		},
	}
}

// NewFindRelevantTablesTool ranks tables by semantic similarity to a question.
func NewFindRelevantTablesTool(env *Env) shuttle.Tool {
	return &tool{
		name:        ToolFindRelevantTables,
		description: "Rank the tables whose names, descriptions and columns are semantically closest to a question. Use it on large schemas before list_entities.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"question": shuttle.NewStringSchema("The user's question or a paraphrase").WithMinLength(1),
			"k":        shuttle.NewIntegerSchema("Number of tables to return").WithRange(1, 20),
		}, []string{"question"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			if env.Index == nil {
				return shuttle.Failure(shuttle.CodeExecutionFailed, "semantic index is not configured", "use list_entities instead"), nil
			}
			k := intParam(params, "k", env.TopK)
			if k <= 0 {
				k = 5
			}
			refs, err := env.Index.FindRelevantTables(ctx, env.DataSourceID, stringParam(params, "question"), k)
			if err != nil {
				return discoveryFailure(err)
			}
			if len(refs) == 0 {
				return shuttle.Success("no indexed tables; run a schema sync first or use list_entities"), nil
			}
			sort.SliceStable(refs, func(i, j int) bool { return refs[i].Similarity > refs[j].Similarity })
			lines := make([]string, len(refs))
			for i, ref := range refs {
				lines[i] = fmt.Sprintf("%s (%.2f)", ref.Table, ref.Similarity)
			}
			return shuttle.Success(strings.Join(lines, "\n")), nil
		},
	}
}
