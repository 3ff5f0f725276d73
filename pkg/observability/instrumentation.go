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
package observability

// Span names.
const (
	SpanTurn          = "weft.turn"
	SpanSupervisor    = "supervisor.classify"
	SpanAgentNode     = "agent.node"
	SpanLLMCompletion = "llm.completion"
	SpanToolExecute   = "tool.execute"
	SpanBackendQuery  = "backend.query"
	SpanBackendSchema = "backend.schema"
	SpanGraphBuild    = "schemagraph.build"
	SpanEntitySearch  = "schemagraph.cross_entity_search"
	SpanSafetyCheck   = "guardrail.check"
	SpanSemanticIndex = "semantic.index"
	SpanScheduledSync = "scheduler.sync"
)

// Metric names.
const (
	MetricTurns            = "weft.turns.total"
	MetricTurnOutcome      = "weft.turn.outcome"
	MetricLLMCalls         = "llm.calls.total"
	MetricLLMRetries       = "llm.retries.total"
	MetricLLMTokens        = "llm.tokens"
	MetricToolCalls        = "tool.calls.total"
	MetricToolErrors       = "tool.errors.total"
	MetricBackendErrors    = "backend.errors.total"
	MetricClassifications  = "supervisor.classifications.total"
	MetricGraphRebuilds    = "schemagraph.rebuilds.total"
	MetricBlockedQueries   = "guardrail.blocked.total"
	MetricSearchTimeouts   = "schemagraph.search.timeouts.total"
	MetricAgentIterations  = "agent.iterations"
	MetricIntrospectErrors = "schemagraph.introspection.errors.total"
	MetricScheduledSyncs   = "scheduler.syncs.total"
	MetricHTTPRequests     = "http.requests.total"
)

// Attribute keys.
const (
	AttrDataSourceID   = "data_source.id"
	AttrDBType         = "data_source.type"
	AttrConversationID = "conversation.id"
	AttrRole           = "agent.role"
	AttrToolName       = "tool.name"
	AttrLLMProvider    = "llm.provider"
	AttrLLMModel       = "llm.model"
	AttrBackendType    = "backend.type"
	AttrErrorMessage   = "error.message"
	AttrIteration      = "agent.iteration"
)
