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
// Package supervisor classifies a user message into one of two intent labels
// and routes the turn to an agent role.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Label is a closed intent category.
type Label string

const (
	// LabelDiscovery is for questions about the data source itself: tables,
	// columns, relations.
	LabelDiscovery Label = "discovery"
	// LabelGeneration is for requests that need a query written.
	LabelGeneration Label = "generation"
)

// Labels is the closed label set.
var Labels = []Label{LabelDiscovery, LabelGeneration}

// ErrClassification is returned when no valid label could be produced.
var ErrClassification = errors.New("classification failed")

// Classifier maps a user message to a label.
type Classifier interface {
	Classify(ctx context.Context, message string) (Label, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, message string) (Label, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, message string) (Label, error) {
	return f(ctx, message)
}

// Chain tries each classifier in turn and returns the first label. Only
// ErrClassification moves on to the next classifier; other errors, such as
// a cancelled context, are returned as is.
func Chain(classifiers ...Classifier) Classifier {
	return ClassifierFunc(func(ctx context.Context, message string) (Label, error) {
		var errs []error
		for _, c := range classifiers {
			label, err := c.Classify(ctx, message)
			if err == nil {
				return label, nil
			}
			if !errors.Is(err, ErrClassification) || ctx.Err() != nil {
				return "", err
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return "", fmt.Errorf("%w: no classifier configured", ErrClassification)
		}
		return "", errors.Join(errs...)
	})
}

var (
	fenceRe = regexp.MustCompile("(?s)^```[\\w-]*\\s*(.*?)\\s*```$")
	trimSet = " \t\r\n\"'`.,;:!*"
)

// ParseLabel extracts a label from raw model output. Code fences, JSON
// objects ({"label": ...} or {"intent": ...}), quotes, punctuation and case
// are tolerated; anything outside the label set is ErrClassification.
func ParseLabel(raw string) (Label, error) {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if strings.HasPrefix(s, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			for _, key := range []string{"label", "intent", "category"} {
				if v, ok := obj[key].(string); ok {
					s = v
					break
				}
			}
		}
	}
	s = strings.ToLower(strings.Trim(s, trimSet))
	s = strings.TrimPrefix(s, "label:")
	s = strings.Trim(s, trimSet)
	for _, l := range Labels {
		if s == string(l) {
			return l, nil
		}
	}
	preview := raw
	if len(preview) > 80 {
		preview = preview[:80] + "..."
	}
	return "", fmt.Errorf("%w: unexpected label %q", ErrClassification, preview)
}
