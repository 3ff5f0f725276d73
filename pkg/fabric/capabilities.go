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

// Feature flags reported by backends.
const (
	FeatureSQL         = "sql"
	FeatureForeignKeys = "foreign_keys"
	FeatureFullText    = "full_text"
	FeatureRowEstimate = "row_estimate"
)

// Capabilities describes what a backend supports.
type Capabilities struct {
	SupportsTransactions bool
	SupportsConcurrency  bool
	MaxConcurrentOps     int
	Features             map[string]bool
	Limits               map[string]int64
}

// NewCapabilities creates a new Capabilities instance with default values.
func NewCapabilities() *Capabilities {
	return &Capabilities{
		SupportsConcurrency: true,
		MaxConcurrentOps:    10,
		Features:            make(map[string]bool),
		Limits:              make(map[string]int64),
	}
}

// WithTransactions sets transaction support.
func (c *Capabilities) WithTransactions(supported bool) *Capabilities {
	c.SupportsTransactions = supported
	return c
}

// WithConcurrency sets concurrency support and max operations.
func (c *Capabilities) WithConcurrency(supported bool, maxOps int) *Capabilities {
	c.SupportsConcurrency = supported
	c.MaxConcurrentOps = maxOps
	return c
}

// WithFeature sets a backend-specific feature flag.
func (c *Capabilities) WithFeature(name string, enabled bool) *Capabilities {
	c.Features[name] = enabled
	return c
}

// WithLimit sets a backend-specific limit.
func (c *Capabilities) WithLimit(name string, value int64) *Capabilities {
	c.Limits[name] = value
	return c
}

// HasFeature checks if a feature is enabled.
func (c *Capabilities) HasFeature(name string) bool {
	if c == nil {
		return false
	}
	enabled, ok := c.Features[name]
	return ok && enabled
}

// ConcurrencyLimit returns how many operations may run at once, at least 1.
func (c *Capabilities) ConcurrencyLimit() int {
	if c == nil || !c.SupportsConcurrency || c.MaxConcurrentOps < 1 {
		return 1
	}
	return c.MaxConcurrentOps
}
