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
	"sync"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue represents a validation issue found during pre-flight check.
// Issues with SeverityError block execution.
type Issue struct {
	Severity   string `json:"severity"`
	Rule       string `json:"rule"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Validator interface allows backend-specific validation rules.
type Validator interface {
	Name() string
	Validate(ctx context.Context, sql string) []Issue
}

// SafetyReport is the outcome of a pre-flight check.
type SafetyReport struct {
	IsSafe         bool     `json:"is_safe"`
	Warnings       []string `json:"warnings"`
	BlockingIssues []string `json:"blocking_issues"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// String renders the report for tool results and error messages.
func (r *SafetyReport) String() string {
	var b strings.Builder
	if r.IsSafe {
		b.WriteString("SAFE")
	} else {
		b.WriteString("BLOCKED")
	}
	for _, issue := range r.BlockingIssues {
		fmt.Fprintf(&b, "\n- blocking: %s", issue)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "\n- warning: %s", w)
	}
	return b.String()
}

// GuardrailEngine runs every registered validator before a query is executed.
type GuardrailEngine struct {
	mu         sync.RWMutex
	validators []Validator
}

// NewGuardrailEngine creates a new guardrail engine.
func NewGuardrailEngine(validators ...Validator) *GuardrailEngine {
	g := &GuardrailEngine{}
	for _, v := range validators {
		g.RegisterValidator(v)
	}
	return g
}

// RegisterValidator adds a validator.
func (g *GuardrailEngine) RegisterValidator(v Validator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validators = append(g.validators, v)
}

// PreflightCheck returns issues found across all registered validators.
func (g *GuardrailEngine) PreflightCheck(ctx context.Context, sql string) []Issue {
	g.mu.RLock()
	validators := g.validators
	g.mu.RUnlock()

	issues := make([]Issue, 0)
	for _, validator := range validators {
		issues = append(issues, validator.Validate(ctx, sql)...)
	}
	return issues
}

// Check folds PreflightCheck issues into a SafetyReport.
func (g *GuardrailEngine) Check(ctx context.Context, sql string) *SafetyReport {
	report := &SafetyReport{
		Warnings:       []string{},
		BlockingIssues: []string{},
	}
	for _, issue := range g.PreflightCheck(ctx, sql) {
		if issue.Severity == SeverityError {
			report.BlockingIssues = append(report.BlockingIssues, issue.Message)
		} else {
			report.Warnings = append(report.Warnings, issue.Message)
		}
		if issue.Suggestion != "" {
			report.Suggestions = append(report.Suggestions, issue.Suggestion)
		}
	}
	report.IsSafe = len(report.BlockingIssues) == 0
	return report
}

// InferErrorType attempts to classify a backend error message.
func InferErrorType(errorMessage string) string {
	messageLower := strings.ToLower(errorMessage)

	if strings.Contains(messageLower, "syntax") {
		return "syntax_error"
	}
	if strings.Contains(messageLower, "permission") || strings.Contains(messageLower, "access denied") {
		return "permission_denied"
	}
	if strings.Contains(messageLower, "read-only") || strings.Contains(messageLower, "readonly") ||
		strings.Contains(messageLower, "read only") {
		return "read_only"
	}
	// Column errors are checked before table errors; messages often mention both.
	if strings.Contains(messageLower, "column") && (strings.Contains(messageLower, "not found") ||
		strings.Contains(messageLower, "does not exist") || strings.Contains(messageLower, "no such column") ||
		strings.Contains(messageLower, "unknown column")) {
		return "column_not_found"
	}
	if strings.Contains(messageLower, "no such table") || strings.Contains(messageLower, "doesn't exist") ||
		((strings.Contains(messageLower, "table") || strings.Contains(messageLower, "relation")) &&
			(strings.Contains(messageLower, "not found") || strings.Contains(messageLower, "does not exist"))) {
		return "table_not_found"
	}
	if strings.Contains(messageLower, "timeout") || strings.Contains(messageLower, "deadline exceeded") {
		return "timeout"
	}
	return "unknown"
}

// SuggestFix returns a remediation hint for a classified backend error.
func SuggestFix(errorType string) string {
	switch errorType {
	case "syntax_error":
		return "Check parentheses, comma placement and reserved words; quote identifiers that collide with keywords."
	case "column_not_found":
		return "Call get_table_schema to discover the actual column names."
	case "table_not_found":
		return "Call list_entities to discover the available tables."
	case "permission_denied":
		return "The connected user lacks privileges on this object; choose another table or ask the user."
	case "read_only":
		return "This data source only accepts read queries; rewrite the statement as a SELECT."
	case "timeout":
		return "Add a WHERE clause or LIMIT to reduce the scanned data."
	default:
		return ""
	}
}
