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

package agent

import (
	"strings"

	"github.com/teradata-labs/hive/pkg/types"
)

// SecurityPreamble is appended to every worker system prompt. It keeps the
// model's suggested side effects inside the safety policy the runner
// enforces anyway.
const SecurityPreamble = `Safety rules for any shell commands you propose:
- Put commands in fenced code blocks (` + "```bash" + `), one command per line.
- Use only simple commands: file operations (ls, cat, mkdir, touch, cp, mv),
  text processing (echo, grep, sed, awk), and development tools (python3,
  node, git, curl).
- Never use sudo, eval, exec, command substitution, or pipes into a shell.
- Keep all file paths inside the working directory. Never write to system
  locations such as /etc or /var.
- If a requested action would violate these rules, explain why instead of
  proposing the command.`

// RolePreamble returns the persona line a worker prefixes its prompts with.
func RolePreamble(role types.Role) string {
	switch role {
	case types.RoleAnalyst:
		return "You are an analyst. You research, summarize and report. Structure your answers with findings first, supporting detail after."
	case types.RoleDataScientist:
		return "You are a data scientist. You work with datasets, statistics and models. Show the steps of any calculation you perform."
	case types.RoleArchitect:
		return "You are a software architect. You design systems, interfaces and data models. Justify structural decisions briefly."
	case types.RoleSubCoordinator:
		return "You are a team lead. You break work into small, independent steps that one person can finish."
	case types.RoleCoordinator:
		return "You are a project coordinator. You plan, decompose and track work across a team."
	default:
		return "You are a software developer. You implement tasks precisely and completely, producing code or file content ready to use."
	}
}

// roleKeywords maps task vocabulary to the role best suited for it. First
// match wins; checks run in declaration order.
var roleKeywords = []struct {
	role  types.Role
	words []string
}{
	{types.RoleDataScientist, []string{"data", "dataset", "statistic", "analytics", "model training", "machine learning", "ml "}},
	{types.RoleAnalyst, []string{"analyze", "analyse", "research", "report", "investigate", "review", "summarize"}},
	{types.RoleArchitect, []string{"design", "architecture", "schema", "structure", "interface", "api design"}},
	{types.RoleDeveloper, []string{"implement", "create", "build", "develop", "code", "fix", "write", "script"}},
}

// InferRole guesses the role a task calls for from its wording. Tasks with
// no recognizable vocabulary default to developer.
func InferRole(task string) types.Role {
	lower := strings.ToLower(task)
	for _, rk := range roleKeywords {
		for _, w := range rk.words {
			if strings.Contains(lower, w) {
				return rk.role
			}
		}
	}
	return types.RoleDeveloper
}
