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
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/teradata-labs/weft/pkg/shuttle"
)

// Validation tool names.
const (
	ToolValidateSQL         = "validate_sql"
	ToolValidateSearchQuery = "validate_search_query"
)

// NewValidateSQLTool runs the safety analysis on a SQL statement. It never
// changes state; the model decides what to do with the report.
func NewValidateSQLTool(env *Env) shuttle.Tool {
	return &tool{
		name: ToolValidateSQL,
		description: "Check a SQL statement before submitting it. Reports blocking issues (destructive statements) " +
			"and warnings (unbounded scans of large tables). Fix every blocking issue before calling submit_sql.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"sql": shuttle.NewStringSchema("The SQL statement to check").WithMinLength(1),
		}, []string{"sql"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			if env.Guardrails == nil {
				return shuttle.Failure(shuttle.CodeExecutionFailed, "no SQL validator is configured for this data source", ""), nil
			}
			report := env.Guardrails.Check(ctx, stringParam(params, "sql"))
			r := shuttle.Success(report)
			r.Metadata = map[string]interface{}{"is_safe": report.IsSafe}
			return r, nil
		},
	}
}

// SearchQueryReport is the outcome of a structural search DSL check.
type SearchQueryReport struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

var searchTopLevelKeys = map[string]bool{
	"query": true, "size": true, "from": true, "sort": true, "aggs": true, "aggregations": true,
	"_source": true, "track_total_hits": true, "highlight": true, "search_after": true,
	"post_filter": true, "fields": true, "collapse": true, "min_score": true,
}

var searchClauses = map[string]bool{
	"match": true, "match_all": true, "match_none": true, "match_phrase": true, "match_phrase_prefix": true,
	"multi_match": true, "term": true, "terms": true, "range": true, "bool": true, "exists": true,
	"prefix": true, "wildcard": true, "regexp": true, "fuzzy": true, "ids": true, "nested": true,
	"query_string": true, "simple_query_string": true, "constant_score": true, "dis_max": true,
	"function_score": true, "geo_distance": true, "geo_bounding_box": true,
}

var boolOccurrences = map[string]bool{
	"must": true, "filter": true, "should": true, "must_not": true,
	"minimum_should_match": true, "boost": true,
}

const maxSearchSize = 10000

// ValidateSearchQuery checks the structure of a search DSL request body.
func ValidateSearchQuery(query string) *SearchQueryReport {
	report := &SearchQueryReport{Errors: []string{}, Warnings: []string{}}
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(query), &body); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("query is not a JSON object: %v", err))
		return report
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "index" {
			continue
		}
		if !searchTopLevelKeys[k] {
			report.Errors = append(report.Errors, fmt.Sprintf("unknown top-level key %q", k))
		}
	}

	if q, ok := body["query"]; ok {
		checkClause("query", q, report)
	} else if _, aggs := body["aggs"]; !aggs {
		if _, aggs = body["aggregations"]; !aggs {
			report.Warnings = append(report.Warnings, "no query clause; every document matches")
		}
	}

	switch size := body["size"].(type) {
	case nil:
		report.Warnings = append(report.Warnings, "no size given; the engine returns 10 hits by default")
	case float64:
		if size < 0 || size != float64(int(size)) {
			report.Errors = append(report.Errors, "size must be a non-negative integer")
		} else if size > maxSearchSize {
			report.Errors = append(report.Errors, fmt.Sprintf("size %d exceeds the result window of %d", int(size), maxSearchSize))
		}
	default:
		report.Errors = append(report.Errors, "size must be a number")
	}

	report.IsValid = len(report.Errors) == 0
	return report
}

func checkClause(path string, v interface{}, report *SearchQueryReport) {
	clause, ok := v.(map[string]interface{})
	if !ok {
		report.Errors = append(report.Errors, fmt.Sprintf("%s must be an object", path))
		return
	}
	if len(clause) != 1 {
		report.Errors = append(report.Errors, fmt.Sprintf("%s must contain exactly one clause, found %d", path, len(clause)))
		return
	}
	for name, inner := range clause {
		if !searchClauses[name] {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: unknown clause %q", path, name))
			continue
		}
		if name == "bool" {
			checkBool(path+".bool", inner, report)
		}
	}
}

func checkBool(path string, v interface{}, report *SearchQueryReport) {
	body, ok := v.(map[string]interface{})
	if !ok {
		report.Errors = append(report.Errors, fmt.Sprintf("%s must be an object", path))
		return
	}
	for occ, inner := range body {
		if !boolOccurrences[occ] {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: unknown occurrence %q", path, occ))
			continue
		}
		switch clauses := inner.(type) {
		case []interface{}:
			for i, c := range clauses {
				checkClause(fmt.Sprintf("%s.%s[%d]", path, occ, i), c, report)
			}
		case map[string]interface{}:
			checkClause(path+"."+occ, clauses, report)
		}
	}
}

// NewValidateSearchQueryTool checks a search DSL body and, when an index is
// named, that the index exists.
func NewValidateSearchQueryTool(env *Env) shuttle.Tool {
	return &tool{
		name: ToolValidateSearchQuery,
		description: "Check a search-engine query (JSON request body) before submitting it. " +
			"Reports structural errors such as unknown clauses and warnings such as a missing size.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"query": shuttle.NewStringSchema("JSON request body").WithMinLength(2),
			"index": shuttle.NewStringSchema("Target index"),
		}, []string{"query"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			report := ValidateSearchQuery(stringParam(params, "query"))
			if index := stringParam(params, "index"); index != "" && env.Discovery != nil {
				if _, err := env.Discovery.DescribeTable(ctx, env.DataSourceID, index); err != nil {
					report.Errors = append(report.Errors, err.Error())
					report.IsValid = false
				}
			}
			sort.Strings(report.Warnings)
			r := shuttle.Success(report)
			r.Metadata = map[string]interface{}{"is_valid": report.IsValid, "errors": strings.Join(report.Errors, "; ")}
			return r, nil
		},
	}
}
