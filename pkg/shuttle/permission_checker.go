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
package shuttle

import (
	"fmt"
)

// PermissionChecker decides whether a tool may run at all. Disabled tools
// take precedence; a non-empty allow list restricts execution to its members.
type PermissionChecker struct {
	allowedTools  map[string]bool
	disabledTools map[string]bool
}

// PermissionConfig holds permission configuration (agent.allowed_tools and
// agent.disabled_tools).
type PermissionConfig struct {
	AllowedTools  []string
	DisabledTools []string
}

// NewPermissionChecker creates a new permission checker.
func NewPermissionChecker(config PermissionConfig) *PermissionChecker {
	allowedMap := make(map[string]bool, len(config.AllowedTools))
	for _, tool := range config.AllowedTools {
		allowedMap[tool] = true
	}
	disabledMap := make(map[string]bool, len(config.DisabledTools))
	for _, tool := range config.DisabledTools {
		disabledMap[tool] = true
	}
	return &PermissionChecker{
		allowedTools:  allowedMap,
		disabledTools: disabledMap,
	}
}

// CheckPermission returns nil if the tool may run.
func (pc *PermissionChecker) CheckPermission(toolName string) error {
	if pc == nil {
		return nil
	}
	if pc.disabledTools[toolName] {
		return fmt.Errorf("tool '%s' is disabled by configuration (agent.disabled_tools)", toolName)
	}
	if len(pc.allowedTools) > 0 && !pc.allowedTools[toolName] {
		return fmt.Errorf("tool '%s' is not in agent.allowed_tools", toolName)
	}
	return nil
}

// IsToolDisabled reports whether a tool is explicitly disabled.
func (pc *PermissionChecker) IsToolDisabled(toolName string) bool {
	return pc != nil && pc.disabledTools[toolName]
}
