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
	"regexp"
	"strings"

	"github.com/teradata-labs/weft/pkg/shuttle"
)

// Control tool names. The agent loop intercepts these by name.
const (
	ToolClarifyIntent = "clarify_intent"
	ToolSubmitSQL     = "submit_sql"
	ToolSubmitQuery   = "submit_query"
)

// ControlKind says how the agent loop treats a tool call.
type ControlKind int

const (
	// ControlNone is an ordinary tool; its result goes back to the model.
	ControlNone ControlKind = iota
	// ControlClarify suspends the turn and asks the user.
	ControlClarify
	// ControlSubmit ends the turn with the submitted answer.
	ControlSubmit
)

// Control returns the control kind of a tool name.
func Control(name string) ControlKind {
	switch name {
	case ToolClarifyIntent:
		return ControlClarify
	case ToolSubmitSQL, ToolSubmitQuery:
		return ControlSubmit
	}
	return ControlNone
}

// Clarification is the payload of a successful clarify_intent call.
type Clarification struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (c *Clarification) String() string {
	if len(c.Options) == 0 {
		return c.Question
	}
	return c.Question + "\n- " + strings.Join(c.Options, "\n- ")
}

// Submission is the payload of a successful submit_sql or submit_query call.
type Submission struct {
	SQL         string `json:"sql,omitempty"`
	Query       string `json:"query,omitempty"`
	Index       string `json:"index,omitempty"`
	Explanation string `json:"explanation"`
	Language    string `json:"language"`
}

// NewClarifyIntentTool signals that the request is ambiguous. It does no
// work; the agent loop suspends the turn when it sees the call.
func NewClarifyIntentTool(*Env) shuttle.Tool {
	return &tool{
		name: ToolClarifyIntent,
		description: "Ask the user a clarifying question when the request is ambiguous (unclear metric, time range, entity or filter). " +
			"Offer concrete options when you can. The turn pauses until the user answers.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"question": shuttle.NewStringSchema("The question to ask, in the user's language").WithMinLength(1),
			"options":  shuttle.NewArraySchema("Suggested answers", shuttle.NewStringSchema("")),
		}, []string{"question"}),
		run: func(_ context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			return shuttle.Success(&Clarification{
				Question: stringParam(params, "question"),
				Options:  stringsParam(params, "options"),
			}), nil
		},
	}
}

// NewSubmitSQLTool is the terminal tool of the SQL agent.
func NewSubmitSQLTool(env *Env) shuttle.Tool {
	return &tool{
		name: ToolSubmitSQL,
		description: "Submit the final SQL answer. This ends your turn. explanation is shown to the user verbatim: " +
			"explain the query in the user's language and include the query in a ```sql fenced block.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"sql":         shuttle.NewStringSchema("The final SQL statement").WithMinLength(1),
			"explanation": shuttle.NewStringSchema("User-facing explanation containing the SQL in a ```sql block").WithMinLength(1),
		}, []string{"sql", "explanation"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			sql := stringParam(params, "sql")
			if env.Guardrails != nil {
				if report := env.Guardrails.Check(ctx, sql); !report.IsSafe {
					return shuttle.Failure(shuttle.CodeInvalidArguments,
						"the SQL has blocking safety issues:\n"+report.String(),
						"rewrite the statement as a read-only query and submit again"), nil
				}
			}
			return shuttle.Success(&Submission{
				SQL:         sql,
				Explanation: EnsureFenced(stringParam(params, "explanation"), "sql", sql),
				Language:    "sql",
			}), nil
		},
	}
}

// NewSubmitQueryTool is the terminal tool of the search agent.
func NewSubmitQueryTool(env *Env) shuttle.Tool {
	return &tool{
		name: ToolSubmitQuery,
		description: "Submit the final search-engine query (JSON request body) and its target index. This ends your turn. " +
			"explanation is shown to the user verbatim and must include the query in a ```json fenced block.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"query":       shuttle.NewStringSchema("JSON request body").WithMinLength(2),
			"index":       shuttle.NewStringSchema("Target index"),
			"explanation": shuttle.NewStringSchema("User-facing explanation containing the query in a ```json block").WithMinLength(1),
		}, []string{"query", "explanation"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			query := stringParam(params, "query")
			report := ValidateSearchQuery(query)
			if !report.IsValid {
				return shuttle.Failure(shuttle.CodeInvalidArguments,
					"invalid search query: "+strings.Join(report.Errors, "; "),
					"fix the query (validate_search_query helps) and submit again"), nil
			}
			index := stringParam(params, "index")
			if index == "" {
				index = embeddedIndex(query)
			}
			if index != "" && env.Discovery != nil {
				t, err := env.Discovery.DescribeTable(ctx, env.DataSourceID, index)
				if err != nil {
					return discoveryFailure(err)
				}
				index = t.Name
			}
			return shuttle.Success(&Submission{
				Query:       query,
				Index:       index,
				Explanation: EnsureFenced(stringParam(params, "explanation"), "json", query),
				Language:    "json",
			}), nil
		},
	}
}

func embeddedIndex(query string) string {
	var body struct {
		Index string `json:"index"`
	}
	if err := json.Unmarshal([]byte(query), &body); err != nil {
		return ""
	}
	return body.Index
}

var fenceRe = regexp.MustCompile("(?s)```([\\w+-]*)[ \\t]*\\r?\\n(.*?)```")

// EnsureFenced makes explanation contain exactly one fenced block tagged
// lang whose body is query. An existing block tagged lang (or, failing that,
// a block whose body already is the query) is rewritten in place; otherwise
// the block is appended.
func EnsureFenced(explanation, lang, query string) string {
	query = strings.TrimSpace(query)
	block := fmt.Sprintf("```%s\n%s\n```", lang, query)

	locs := fenceRe.FindAllStringSubmatchIndex(explanation, -1)
	target := -1
	for i, loc := range locs {
		if strings.EqualFold(explanation[loc[2]:loc[3]], lang) {
			target = i
			break
		}
	}
	if target < 0 {
		for i, loc := range locs {
			if strings.TrimSpace(explanation[loc[4]:loc[5]]) == query {
				target = i
				break
			}
		}
	}
	if target < 0 {
		trimmed := strings.TrimRight(explanation, " \t\r\n")
		if trimmed == "" {
			return block
		}
		return trimmed + "\n\n" + block
	}
	loc := locs[target]
	return explanation[:loc[0]] + block + explanation[loc[1]:]
}

// HasFencedQuery reports whether explanation contains a block tagged lang
// whose body is exactly query.
func HasFencedQuery(explanation, lang, query string) bool {
	query = strings.TrimSpace(query)
	for _, m := range fenceRe.FindAllStringSubmatch(explanation, -1) {
		if strings.EqualFold(m[1], lang) && strings.TrimSuffix(m[2], "\n") == query {
			return true
		}
	}
	return false
}
