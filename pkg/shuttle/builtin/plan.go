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
	"errors"
	"fmt"

	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/shuttle"
)

// Plan tool names.
const (
	ToolCreatePlan     = "create_plan"
	ToolUpdatePlanStep = "update_plan_step"
	ToolRecordResult   = "record_result"
)

func stateFrom(ctx context.Context) (*session.State, *shuttle.Result) {
	st, ok := session.FromContext(ctx)
	if !ok {
		return nil, shuttle.Failure(shuttle.CodeExecutionFailed, "no conversation state is attached to this call", "")
	}
	return st, nil
}

func assigneeEnum() []interface{} {
	out := make([]interface{}, len(session.Assignees))
	for i, a := range session.Assignees {
		out[i] = a
	}
	return out
}

// NewCreatePlanTool appends steps to the turn's plan.
func NewCreatePlanTool(*Env) shuttle.Tool {
	step := shuttle.NewObjectSchema("One plan step", map[string]*shuttle.JSONSchema{
		"task":        shuttle.NewStringSchema("What the step does").WithMinLength(1),
		"assigned_to": shuttle.NewStringSchema("Who performs it").WithEnum(assigneeEnum()...),
		"description": shuttle.NewStringSchema("Optional details"),
	}, []string{"task", "assigned_to"})

	return &tool{
		name:        ToolCreatePlan,
		description: "Break a multi-step request into ordered steps. Steps start as pending and are appended to the existing plan.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"steps": shuttle.NewArraySchema("Ordered steps", step).WithMinItems(1),
		}, []string{"steps"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			st, fail := stateFrom(ctx)
			if fail != nil {
				return fail, nil
			}
			raw, _ := params["steps"].([]interface{})
			for i, r := range raw {
				m, _ := r.(map[string]interface{})
				if _, err := st.AddPlanStep(stringParam(m, "task"), stringParam(m, "assigned_to"), stringParam(m, "description")); err != nil {
					return invalid("step %d: %v", i+1, err), nil
				}
			}
			return shuttle.Success(st.Plan()), nil
		},
	}
}

// NewUpdatePlanStepTool moves a plan step through pending -> in_progress ->
// completed or failed.
func NewUpdatePlanStepTool(*Env) shuttle.Tool {
	return &tool{
		name:        ToolUpdatePlanStep,
		description: "Change the status of a plan step. Allowed: pending -> in_progress, in_progress -> completed or failed.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"step_id": shuttle.NewIntegerSchema("Step id returned by create_plan").WithRange(1, 1000),
			"status": shuttle.NewStringSchema("New status").WithEnum(
				string(session.StatusInProgress), string(session.StatusCompleted), string(session.StatusFailed)),
		}, []string{"step_id", "status"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			st, fail := stateFrom(ctx)
			if fail != nil {
				return fail, nil
			}
			id := intParam(params, "step_id", 0)
			if err := st.UpdatePlanStep(id, session.PlanStatus(stringParam(params, "status"))); err != nil {
				if errors.Is(err, session.ErrInvalidTransition) || errors.Is(err, session.ErrUnknownStep) {
					return invalid("%v", err), nil
				}
				return nil, err
			}
			return shuttle.Success(st.Plan()), nil
		},
	}
}

// NewRecordResultTool stores an intermediate result on the turn state.
func NewRecordResultTool(*Env) shuttle.Tool {
	return &tool{
		name:        ToolRecordResult,
		description: "Store an intermediate finding (for example the tables chosen for a step) under a key so later steps can use it.",
		schema: shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{
			"key":   shuttle.NewStringSchema("Step or task identifier").WithMinLength(1),
			"value": shuttle.NewStringSchema("The result; JSON text is stored decoded"),
		}, []string{"key", "value"}),
		run: func(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
			st, fail := stateFrom(ctx)
			if fail != nil {
				return fail, nil
			}
			raw := stringParam(params, "value")
			var value interface{} = raw
			var decoded interface{}
			if json.Unmarshal([]byte(raw), &decoded) == nil {
				value = decoded
			}
			key := stringParam(params, "key")
			st.RecordResult(key, value)
			return shuttle.Success(fmt.Sprintf("recorded %s", key)), nil
		},
	}
}
