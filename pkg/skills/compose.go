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
package skills

import (
	"fmt"
	"strings"

	"github.com/teradata-labs/weft/pkg/shuttle"
	"github.com/teradata-labs/weft/pkg/shuttle/builtin"
)

// Composition is the prompt and tool set of one agent node.
type Composition struct {
	Role   Role
	Skills []Kind
	Prompt string
	Tools  []shuttle.Tool
	// Disabled lists tools a bundle offered that the permission checker removed.
	Disabled []string
}

// ToolNames returns the composed tool names in composition order.
func (c *Composition) ToolNames() []string {
	names := make([]string, len(c.Tools))
	for i, t := range c.Tools {
		names[i] = t.Name()
	}
	return names
}

// Registry returns a fresh registry holding the composed tools.
func (c *Composition) Registry() *shuttle.Registry {
	return shuttle.NewRegistry(c.Tools...)
}

// Compose concatenates the bundles' prompt fragments in declaration order and
// unions their tools, bound to env. A tool offered by two bundles fails with
// ErrDuplicateTool. Tools disabled by perms are left out after that check, so
// a configuration error is reported even when the tool is disabled.
func Compose(c Context, env *builtin.Env, perms *shuttle.PermissionChecker, kinds ...Kind) (*Composition, error) {
	comp := &Composition{Role: c.Role, Skills: kinds}
	owner := make(map[string]Kind)
	var fragments []string

	for _, k := range kinds {
		if k < CoreAssistant || k > SearchLanguage {
			return nil, fmt.Errorf("unknown skill %s", k)
		}
		if f := k.PromptFragment(c); f != "" {
			fragments = append(fragments, f)
		}
		for _, name := range k.ToolNames(c) {
			if prev, dup := owner[name]; dup {
				return nil, fmt.Errorf("%w: %s offered by %s and %s", ErrDuplicateTool, name, prev, k)
			}
			owner[name] = k
			if perms.IsToolDisabled(name) {
				comp.Disabled = append(comp.Disabled, name)
				continue
			}
			t := builtin.ByName(name, env)
			if t == nil {
				return nil, fmt.Errorf("skill %s: no builtin tool %q", k, name)
			}
			comp.Tools = append(comp.Tools, t)
		}
	}
	comp.Prompt = strings.Join(fragments, "\n\n")
	return comp, nil
}

// ComposeRole composes the bundles of c.Role.
func ComposeRole(c Context, env *builtin.Env, perms *shuttle.PermissionChecker) (*Composition, error) {
	if !c.Role.Valid() {
		return nil, fmt.Errorf("unknown agent role %q", c.Role)
	}
	return Compose(c, env, perms, c.Role.Skills()...)
}
