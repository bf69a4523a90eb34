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

// Package scantool implements the pattern/static scanner tools:
// pattern_match, dataflow_analysis, semgrep_scan, bandit_scan,
// gitleaks_scan, kunlun_scan, npm_audit, safety_check, osv_scanner. Each
// external scanner wraps a subprocess whose JSON output is heterogeneous;
// itchyny/gojq normalizes every shape down to the same partial-Finding
// record before it reaches the agent loop.
package scantool

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/itchyny/gojq"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// PartialFinding is the normalized shape every scanner wrapper produces;
// the analysis agent fills in the remaining Finding fields (task ID,
// verification status) before this becomes a model.Finding.
type PartialFinding struct {
	FilePath    string  `json:"file_path"`
	LineStart   int     `json:"line_start"`
	LineEnd     int     `json:"line_end"`
	VulnType    string  `json:"vuln_type"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	CodeSnippet string  `json:"code_snippet"`
	Rule        string  `json:"rule,omitempty"`
}

// processScanner runs an external command over a target path and
// extracts PartialFindings from its JSON stdout using a jq program
// specific to that scanner's own output schema.
type processScanner struct {
	binary   string
	argsFunc func(targetPath string) []string
	jqQuery  *gojq.Query
}

func newProcessScanner(binary, jqProgram string, argsFunc func(string) []string) (*processScanner, error) {
	q, err := gojq.Parse(jqProgram)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindConfiguration, "invalid jq normalization program for "+binary, err)
	}
	return &processScanner{binary: binary, argsFunc: argsFunc, jqQuery: q}, nil
}

func (s *processScanner) run(ctx context.Context, targetPath string) ([]PartialFinding, error) {
	cmd := exec.CommandContext(ctx, s.binary, s.argsFunc(targetPath)...)
	cmd.Dir = targetPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Scanners like semgrep/bandit exit non-zero when findings exist;
	// only a missing binary or a malformed invocation is a tool error.
	runErr := cmd.Run()
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return nil, engineerrors.Wrap(engineerrors.KindToolError, "failed to run "+s.binary, runErr)
		}
	}

	if stdout.Len() == 0 {
		return nil, nil
	}

	var parsed any
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindToolError, s.binary+" produced non-JSON output", err)
	}

	iter := s.jqQuery.RunWithContext(ctx, parsed)
	var findings []PartialFinding
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, engineerrors.Wrap(engineerrors.KindToolError, s.binary+" normalization failed", err)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		var pf PartialFinding
		if err := json.Unmarshal(raw, &pf); err != nil {
			continue
		}
		findings = append(findings, pf)
	}
	return findings, nil
}
