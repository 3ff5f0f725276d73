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
package supervisor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/skills"
)

// Config configures a Supervisor.
type Config struct {
	// Classifier defaults to NewKeywordClassifier().
	Classifier Classifier
	Tracer     observability.Tracer
	Logger     *zap.Logger
}

// Supervisor picks the agent role for a turn.
type Supervisor struct {
	classifier Classifier
	tracer     observability.Tracer
	logger     *zap.Logger
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	s := &Supervisor{classifier: cfg.Classifier, tracer: cfg.Tracer, logger: cfg.Logger}
	if s.classifier == nil {
		s.classifier = NewKeywordClassifier()
	}
	if s.tracer == nil {
		s.tracer = observability.NewNoOpTracer()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Decision is the routing result of one turn.
type Decision struct {
	Label Label
	Role  skills.Role

	// Resumed is set when the turn continues a role suspended on a
	// clarification; no classification happened.
	Resumed bool

	// Fallback is set when classification failed and the default role was
	// used. Err holds the classification error.
	Fallback bool
	Err      error
}

// RoleFor maps a label to the agent role for a data-source type.
func RoleFor(label Label, dbType fabric.DBType) skills.Role {
	if label != LabelGeneration {
		return skills.RoleMetadata
	}
	if dbType.IsSearchEngine() {
		return skills.RoleSearch
	}
	return skills.RoleSQL
}

// Route selects the role for the turn in st and stores it as st.Next. A
// pending role from a clarification is resumed without classifying. A
// classification error falls back to the discovery role. Only a cancelled
// context or a state that already failed is returned as an error.
func (s *Supervisor) Route(ctx context.Context, st *session.State) (Decision, error) {
	if te := st.Err(); te != nil {
		return Decision{}, te
	}
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanSupervisor,
		observability.WithAttribute(observability.AttrConversationID, st.ConversationID()),
		observability.WithAttribute(observability.AttrDBType, string(st.DBType())),
	)
	defer s.tracer.EndSpan(span)

	if pending := skills.Role(st.Next()); pending.Valid() {
		span.SetAttribute("supervisor.resumed", true)
		span.SetAttribute(observability.AttrRole, string(pending))
		return Decision{Role: pending, Resumed: true}, nil
	}

	label, err := s.classifier.Classify(ctx, st.LastUserMessage())
	var d Decision
	switch {
	case err == nil:
		d = Decision{Label: label}
	case ctx.Err() != nil:
		span.RecordError(ctx.Err())
		return Decision{}, ctx.Err()
	default:
		if !errors.Is(err, ErrClassification) {
			s.logger.Error("Classifier returned an unexpected error", zap.Error(err))
		}
		s.logger.Warn("Classification failed, using the discovery role",
			zap.String("conversation_id", st.ConversationID()),
			zap.Error(err),
		)
		span.SetAttribute(observability.AttrErrorMessage, err.Error())
		d = Decision{Label: LabelDiscovery, Fallback: true, Err: err}
	}

	d.Role = RoleFor(d.Label, st.DBType())
	st.SetNext(string(d.Role))

	span.SetAttribute("supervisor.label", string(d.Label))
	span.SetAttribute(observability.AttrRole, string(d.Role))
	s.tracer.RecordMetric(observability.MetricClassifications, 1, map[string]string{
		"label":    string(d.Label),
		"fallback": boolLabel(d.Fallback),
	})
	return d, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
