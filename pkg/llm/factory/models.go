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
package factory

import (
	"sort"

	"github.com/teradata-labs/weft/pkg/types"
)

// ModelInfo describes a supported model.
type ModelInfo struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Provider           string  `json:"provider"`
	ContextWindow      int     `json:"context_window"`
	CostPer1MInputUSD  float64 `json:"cost_per_1m_input_usd"`
	CostPer1MOutputUSD float64 `json:"cost_per_1m_output_usd"`
}

var knownModels = []ModelInfo{
	{ID: "claude-sonnet-4-5-20250929", Name: "Claude Sonnet 4.5", Provider: ProviderAnthropic, ContextWindow: 200000, CostPer1MInputUSD: 3, CostPer1MOutputUSD: 15},
	{ID: "claude-haiku-4-5-20251001", Name: "Claude Haiku 4.5", Provider: ProviderAnthropic, ContextWindow: 200000, CostPer1MInputUSD: 1, CostPer1MOutputUSD: 5},
	{ID: "claude-opus-4-5-20251101", Name: "Claude Opus 4.5", Provider: ProviderAnthropic, ContextWindow: 200000, CostPer1MInputUSD: 5, CostPer1MOutputUSD: 25},
	{ID: "us.anthropic.claude-sonnet-4-5-20250929-v1:0", Name: "Claude Sonnet 4.5 (Bedrock)", Provider: ProviderBedrock, ContextWindow: 200000, CostPer1MInputUSD: 3, CostPer1MOutputUSD: 15},
	{ID: "us.anthropic.claude-haiku-4-5-20251001-v1:0", Name: "Claude Haiku 4.5 (Bedrock)", Provider: ProviderBedrock, ContextWindow: 200000, CostPer1MInputUSD: 1, CostPer1MOutputUSD: 5},
	{ID: "us.anthropic.claude-opus-4-5-20251101-v1:0", Name: "Claude Opus 4.5 (Bedrock)", Provider: ProviderBedrock, ContextWindow: 200000, CostPer1MInputUSD: 5, CostPer1MOutputUSD: 25},
}

// Models returns the known models of a provider, or of every provider when
// provider is empty, sorted by id.
func Models(provider string) []ModelInfo {
	var out []ModelInfo
	for _, m := range knownModels {
		if provider == "" || m.Provider == provider {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupModel returns the model with the given id.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range knownModels {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// EstimateCost returns the USD cost of usage on model. Unknown models are
// priced like Sonnet.
func EstimateCost(model string, usage types.Usage) float64 {
	m, ok := LookupModel(model)
	if !ok {
		m = knownModels[0]
	}
	return float64(usage.InputTokens)*m.CostPer1MInputUSD/1_000_000 +
		float64(usage.OutputTokens)*m.CostPer1MOutputUSD/1_000_000
}
