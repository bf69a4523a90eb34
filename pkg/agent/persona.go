// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import "github.com/auditengine/engine/pkg/llm"

// Persona names one specialized angle the analysis phase runs the
// shared ReAct harness under — its own system prompt and sampling
// temperature, but the same tool set and termination semantics as any
// other agent loop invocation. Running several narrow personas (code
// quality, security, ...) over the same tree surfaces findings a single
// undifferentiated analysis agent tends to miss; all of them write to
// the same Finding struct every other phase uses.
type Persona struct {
	Name         string
	SystemPrompt string
	Temperature  *float64
}

// DefaultPersonas returns the stock set of analysis-phase personas. A
// deployment can replace or extend this list from its own config.
func DefaultPersonas() []Persona {
	codeQualityTemp := 0.3
	securityTemp := 0.1
	return []Persona{
		{
			Name: "security",
			SystemPrompt: "You are a security auditor. Examine the provided code for " +
				"vulnerabilities (injection, auth bypass, insecure deserialization, " +
				"SSRF, path traversal, secrets in source, and similar). For each " +
				"finding, report vuln_type, severity, exact file/line location, a " +
				"description, and — where applicable — a source/sink dataflow pair. " +
				"Use the available tools to read and search the codebase before " +
				"reporting anything; never guess at a location you have not read.",
			Temperature: &securityTemp,
		},
		{
			Name: "code-quality",
			SystemPrompt: "You are a code quality reviewer. Examine the provided code for " +
				"maintainability and correctness issues: unclear naming, missing error " +
				"handling, duplicated logic, overly complex functions, and likely bugs. " +
				"Report each issue with a severity, file/line location, description, " +
				"and a concrete fix suggestion. Use the available tools to confirm a " +
				"location before reporting it.",
			Temperature: &codeQualityTemp,
		},
	}
}

// ToolDefinitionsFor returns the tool set a persona runs with. Every
// persona currently gets the full tool set: defs is returned unchanged
// and the persona is not inspected.
func ToolDefinitionsFor(_ Persona, defs []llm.ToolDefinition) []llm.ToolDefinition {
	return defs
}
