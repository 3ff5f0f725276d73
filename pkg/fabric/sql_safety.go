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
package fabric

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// DefaultLargeTableRows is the row estimate above which an unbounded SELECT *
// is reported as a performance warning.
const DefaultLargeTableRows int64 = 10000

// RowEstimator returns an approximate row count for a table.
// ok is false when no estimate is available.
type RowEstimator func(table string) (rows int64, ok bool)

// SafetyOptions configures SQLSafetyValidator.
type SafetyOptions struct {
	// AllowWrite opts into write mode: destructive statements become warnings.
	AllowWrite bool

	// LargeTableRows overrides DefaultLargeTableRows.
	LargeTableRows int64

	// RowEstimate lets the validator skip the SELECT * warning on small tables.
	// When nil every unbounded SELECT * is reported.
	RowEstimate RowEstimator
}

// SQLSafetyValidator rejects destructive statements and flags unbounded scans.
// It works on a token stream with comments, string literals and quoted
// identifiers removed, so keywords inside data never trigger a rule.
type SQLSafetyValidator struct {
	opts SafetyOptions
}

// NewSQLSafetyValidator creates a validator.
func NewSQLSafetyValidator(opts SafetyOptions) *SQLSafetyValidator {
	if opts.LargeTableRows <= 0 {
		opts.LargeTableRows = DefaultLargeTableRows
	}
	return &SQLSafetyValidator{opts: opts}
}

// Name implements Validator.
func (v *SQLSafetyValidator) Name() string { return "sql_safety" }

// always destructive, regardless of WHERE
var ddlKeywords = map[string]bool{
	"DROP":     true,
	"TRUNCATE": true,
	"ALTER":    true,
	"CREATE":   true,
	"GRANT":    true,
	"REVOKE":   true,
	"RENAME":   true,
}

var writeKeywords = map[string]bool{
	"INSERT":  true,
	"MERGE":   true,
	"REPLACE": true,
	"UPSERT":  true,
	"COPY":    true,
}

// statement verbs allowed without write mode
var readVerbs = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"EXPLAIN":  true,
	"DESCRIBE": true,
	"DESC":     true,
}

// words that may sit between EXPLAIN and the statement it explains
var explainOptions = map[string]bool{
	"ANALYZE": true, "ANALYSE": true, "VERBOSE": true, "QUERY": true, "PLAN": true,
	"FORMAT": true, "JSON": true, "TEXT": true, "XML": true, "YAML": true, "TREE": true,
	"TRADITIONAL": true, "EXTENDED": true, "PARTITIONS": true, "COSTS": true, "BUFFERS": true,
	"TIMING": true, "SUMMARY": true, "SETTINGS": true, "WAL": true, "TRUE": true, "FALSE": true,
	"ON": true, "OFF": true, "(": true,
}

// statement verbs EXPLAIN can be applied to
var explainableVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"MERGE": true, "REPLACE": true, "VALUES": true, "TABLE": true, "CREATE": true,
}

var limitKeywords = map[string]bool{
	"LIMIT":  true,
	"TOP":    true,
	"FETCH":  true,
	"SAMPLE": true,
}

// Validate implements Validator.
func (v *SQLSafetyValidator) Validate(ctx context.Context, sql string) []Issue {
	statements := splitStatements(stripSQL(sql))
	if len(statements) == 0 {
		return []Issue{{
			Severity: SeverityError,
			Rule:     "empty",
			Message:  "query is empty",
		}}
	}

	var issues []Issue
	if len(statements) > 1 {
		issues = append(issues, Issue{
			Severity:   SeverityWarning,
			Rule:       "multiple_statements",
			Message:    fmt.Sprintf("query contains %d statements; only the first result set is returned", len(statements)),
			Suggestion: "Submit a single statement.",
		})
	}
	for _, stmt := range statements {
		issues = append(issues, v.validateStatement(tokenize(stmt))...)
	}
	return issues
}

func (v *SQLSafetyValidator) validateStatement(tokens []string) []Issue {
	var issues []Issue

	// severity for anything that writes
	writeSeverity := SeverityError
	if v.opts.AllowWrite {
		writeSeverity = SeverityWarning
	}

	for i, tok := range tokens {
		switch {
		case tok == "INTO" && i+1 < len(tokens) && (tokens[i+1] == "OUTFILE" || tokens[i+1] == "DUMPFILE"):
			issues = append(issues, Issue{
				Severity:   SeverityError,
				Rule:       "file_write",
				Message:    fmt.Sprintf("INTO %s writes a file on the database server", tokens[i+1]),
				Suggestion: "Return the rows instead; use the export feature to save them.",
			})
		case ddlKeywords[tok]:
			issues = append(issues, Issue{
				Severity:   writeSeverity,
				Rule:       "destructive_keyword",
				Message:    fmt.Sprintf("%s statements modify or destroy schema objects", tok),
				Suggestion: "Only read-only SELECT queries are allowed unless write mode is enabled.",
			})
		case writeKeywords[tok] && i == firstVerbIndex(tokens):
			issues = append(issues, Issue{
				Severity:   writeSeverity,
				Rule:       "write_statement",
				Message:    fmt.Sprintf("%s statements write data", tok),
				Suggestion: "Only read-only SELECT queries are allowed unless write mode is enabled.",
			})
		case tok == "INSERT" && !v.opts.AllowWrite && i+1 < len(tokens) && tokens[i+1] == "INTO":
			// data-modifying CTE
			issues = append(issues, Issue{
				Severity:   SeverityError,
				Rule:       "write_statement",
				Message:    "INSERT statements write data",
				Suggestion: "Only read-only SELECT queries are allowed unless write mode is enabled.",
			})
		case tok == "DELETE", tok == "UPDATE" && isUpdateVerb(tokens, i):
			if !hasKeywordAfter(tokens, i, "WHERE") {
				issues = append(issues, Issue{
					Severity:   writeSeverity,
					Rule:       "unbounded_" + strings.ToLower(tok),
					Message:    fmt.Sprintf("%s without WHERE affects every row", tok),
					Suggestion: "Add a WHERE clause that restricts the affected rows.",
				})
			} else if !v.opts.AllowWrite {
				issues = append(issues, Issue{
					Severity:   SeverityError,
					Rule:       "write_statement",
					Message:    fmt.Sprintf("%s statements write data", tok),
					Suggestion: "Only read-only SELECT queries are allowed unless write mode is enabled.",
				})
			}
		}
	}

	if verb := statementVerb(tokens); !v.opts.AllowWrite && !readVerbs[verb] && !hasError(issues) {
		issues = append(issues, Issue{
			Severity:   SeverityError,
			Rule:       "non_read_statement",
			Message:    fmt.Sprintf("%s statements are not allowed on a read-only data source", verb),
			Suggestion: "Only SELECT, EXPLAIN and SHOW statements are allowed unless write mode is enabled.",
		})
	}

	if w, ok := v.checkSelectStar(tokens); ok {
		issues = append(issues, w)
	}
	return issues
}

func (v *SQLSafetyValidator) checkSelectStar(tokens []string) (Issue, bool) {
	star := false
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i] != "SELECT" {
			continue
		}
		next := i + 1
		if tokens[next] == "DISTINCT" || tokens[next] == "ALL" {
			next++
		}
		if next < len(tokens) && tokens[next] == "*" {
			star = true
			break
		}
	}
	if !star {
		return Issue{}, false
	}
	for _, tok := range tokens {
		if limitKeywords[tok] {
			return Issue{}, false
		}
	}

	tables := referencedTables(tokens)
	if v.opts.RowEstimate != nil && len(tables) > 0 {
		large := false
		for _, t := range tables {
			rows, ok := v.opts.RowEstimate(t)
			if !ok || rows > v.opts.LargeTableRows {
				large = true
				break
			}
		}
		if !large {
			return Issue{}, false
		}
	}
	return Issue{
		Severity:   SeverityWarning,
		Rule:       "select_star_without_limit",
		Message:    "SELECT * without LIMIT may scan and return a large table",
		Suggestion: "List the needed columns and add a LIMIT clause.",
	}, true
}

func hasError(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// statementVerb returns the main verb of a statement. Leading parentheses are
// skipped and EXPLAIN is looked through to the statement it explains, so
// EXPLAIN ANALYZE INSERT reports INSERT. EXPLAIN of a table name stays EXPLAIN.
func statementVerb(tokens []string) string {
	for len(tokens) > 0 && tokens[0] == "(" {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return ""
	}
	verb := tokens[firstVerbIndex(tokens)]
	if verb != "EXPLAIN" && verb != "DESCRIBE" && verb != "DESC" {
		return verb
	}
	for i := 1; i < len(tokens); i++ {
		if explainOptions[tokens[i]] {
			continue
		}
		if explainableVerbs[tokens[i]] {
			return statementVerb(tokens[i:])
		}
		break
	}
	return verb
}

// firstVerbIndex skips a leading WITH block and returns the index of the main verb.
func firstVerbIndex(tokens []string) int {
	if len(tokens) == 0 || tokens[0] != "WITH" {
		return 0
	}
	for i, tok := range tokens {
		switch tok {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			// a CTE body opens with "AS (" before its SELECT
			if i >= 2 && tokens[i-1] == "(" && tokens[i-2] == "AS" {
				continue
			}
			return i
		}
	}
	return 0
}

// UPDATE is a statement verb unless it belongs to FOR UPDATE or ON UPDATE.
func isUpdateVerb(tokens []string, i int) bool {
	if i == 0 {
		return true
	}
	prev := tokens[i-1]
	return prev != "FOR" && prev != "ON" && prev != "KEY"
}

func hasKeywordAfter(tokens []string, i int, kw string) bool {
	for _, tok := range tokens[i+1:] {
		if tok == kw {
			return true
		}
	}
	return false
}

func referencedTables(tokens []string) []string {
	var tables []string
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i] == "FROM" || tokens[i] == "JOIN" {
			name := tokens[i+1]
			if name == "(" || name == "SELECT" || name == "*" {
				continue
			}
			tables = append(tables, strings.ToLower(name))
		}
	}
	return tables
}

// stripSQL blanks out comments, string literals and quoted identifiers.
// Quoted identifiers become the placeholder token QIDENT.
func stripSQL(sql string) string {
	var b strings.Builder
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			b.WriteRune(' ')
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			b.WriteRune(' ')
		case r == '\'':
			i = skipQuoted(runes, i, '\'')
			b.WriteString(" STRLIT ")
		case r == '"' || r == '`':
			i = skipQuoted(runes, i, r)
			b.WriteString(" QIDENT ")
		case r == '[':
			for i < len(runes) && runes[i] != ']' {
				i++
			}
			b.WriteString(" QIDENT ")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// skipQuoted returns the index of the closing quote, honoring doubled quotes.
func skipQuoted(runes []rune, start int, quote rune) int {
	for i := start + 1; i < len(runes); i++ {
		if runes[i] == '\\' && quote == '\'' {
			i++
			continue
		}
		if runes[i] == quote {
			if i+1 < len(runes) && runes[i+1] == quote {
				i++
				continue
			}
			return i
		}
	}
	return len(runes) - 1
}

func splitStatements(stripped string) []string {
	var out []string
	for _, part := range strings.Split(stripped, ";") {
		if strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
	}
	return out
}

// tokenize returns upper-cased words plus the * and ( punctuation.
func tokenize(stmt string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToUpper(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range stmt {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$':
			cur.WriteRune(r)
		case r == '.':
			// keep schema.table together
			if cur.Len() > 0 {
				cur.WriteRune(r)
			}
		case r == '*' || r == '(':
			flush()
			tokens = append(tokens, string(r))
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// IsReadStatement reports whether the first statement of sql returns rows
// rather than modifying data. Backends use it to pick Query over Exec.
func IsReadStatement(sql string) bool {
	statements := splitStatements(stripSQL(sql))
	if len(statements) == 0 {
		return false
	}
	tokens := tokenize(statements[0])
	for len(tokens) > 0 && tokens[0] == "(" {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return false
	}
	switch tokens[firstVerbIndex(tokens)] {
	case "SELECT", "SHOW", "EXPLAIN", "DESCRIBE", "DESC", "PRAGMA", "VALUES":
		return true
	}
	return false
}
