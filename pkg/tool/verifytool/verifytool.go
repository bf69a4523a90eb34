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

// Package verifytool implements the verification-phase tools:
// sandbox_execute, which runs a short, resource-bounded subprocess
// to reproduce a suspected vulnerability (a PoC script, a crafted
// request against a local harness), and validate_vulnerability, which
// records the verification agent's confirmed/rejected verdict for one
// finding as a stable proof record rather than free text.
package verifytool

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"

	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/tool/filetool"
)

// SandboxExecuteTool runs a command with the project root (or a
// sandbox-checked working_dir) as its working directory, under a hard
// wall-clock timeout and a stdout cap. It does not restrict the
// command's network access, privileges, or the paths it writes to.
type SandboxExecuteTool struct {
	sandbox    filetool.SandboxConfig
	timeout    time.Duration
	maxOutput  int
}

func NewSandboxExecuteTool(sandbox filetool.SandboxConfig, timeout time.Duration, maxOutput int) *SandboxExecuteTool {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxOutput <= 0 {
		maxOutput = 64 * 1024
	}
	return &SandboxExecuteTool{sandbox: sandbox, timeout: timeout, maxOutput: maxOutput}
}

func (t *SandboxExecuteTool) Name() string        { return "sandbox_execute" }
func (t *SandboxExecuteTool) ResourceKey() string { return "sandbox" }
func (t *SandboxExecuteTool) Description() string {
	return "Run a short command inside the sandboxed project directory to reproduce a suspected vulnerability, with a hard timeout."
}
func (t *SandboxExecuteTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":    map[string]any{"type": "string", "description": "the binary to run"},
			"args":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"working_dir": map[string]any{"type": "string", "description": "relative to the project root, defaults to root"},
		},
		"required": []string{"command"},
	}
}

func (t *SandboxExecuteTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, engineerrors.New(engineerrors.KindValidation, "command parameter is required")
	}
	var cmdArgs []string
	if rawArgs, ok := args["args"].([]any); ok {
		for _, a := range rawArgs {
			if s, ok := a.(string); ok {
				cmdArgs = append(cmdArgs, s)
			}
		}
	}

	workDir := t.sandbox.ProjectRoot
	if wd, _ := args["working_dir"].(string); wd != "" {
		resolved, err := t.sandbox.Resolve(wd)
		if err != nil {
			return nil, err
		}
		workDir = resolved
	}

	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, command, cmdArgs...)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	timedOut := execCtx.Err() == context.DeadlineExceeded

	out := stdout.Bytes()
	truncated := false
	if len(out) > t.maxOutput {
		out = out[:t.maxOutput]
		truncated = true
	}

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil && !timedOut {
		return nil, engineerrors.Wrap(engineerrors.KindToolError, "failed to start sandboxed command", runErr)
	}

	return map[string]any{
		"status":    "ok",
		"exit_code": exitCode,
		"timed_out": timedOut,
		"stdout":    string(out),
		"stderr":    stderr.String(),
		"truncated": truncated,
	}, nil
}

// ValidateVulnerabilityTool lets the verification agent record its
// verdict on one finding as a structured object rather than free text.
// The verdict only appears in the tool result; nothing turns it into
// StateDiff.NewVerifiedFindings / NewFalsePositives.
type ValidateVulnerabilityTool struct{}

func NewValidateVulnerabilityTool() *ValidateVulnerabilityTool { return &ValidateVulnerabilityTool{} }

func (t *ValidateVulnerabilityTool) Name() string        { return "validate_vulnerability" }
func (t *ValidateVulnerabilityTool) ResourceKey() string { return "" }
func (t *ValidateVulnerabilityTool) Description() string {
	return "Record a confirmed or rejected verdict for one finding, with the evidence that supports it."
}
func (t *ValidateVulnerabilityTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"finding_id": map[string]any{"type": "string"},
			"verdict":    map[string]any{"type": "string", "enum": []string{"confirmed", "rejected", "needs-review"}},
			"evidence":   map[string]any{"type": "string"},
			"poc":        map[string]any{"type": "string"},
		},
		"required": []string{"finding_id", "verdict"},
	}
}

func (t *ValidateVulnerabilityTool) Invoke(_ context.Context, args map[string]any) (any, error) {
	findingID, _ := args["finding_id"].(string)
	verdict, _ := args["verdict"].(string)
	if findingID == "" || verdict == "" {
		return nil, engineerrors.New(engineerrors.KindValidation, "finding_id and verdict are required")
	}
	evidence, _ := args["evidence"].(string)
	poc, _ := args["poc"].(string)

	switch verdict {
	case "confirmed", "rejected", "needs-review":
	default:
		return nil, engineerrors.New(engineerrors.KindValidation, "verdict must be confirmed, rejected, or needs-review")
	}

	return map[string]any{
		"status":     "ok",
		"finding_id": findingID,
		"verdict":    verdict,
		"evidence":   evidence,
		"poc":        poc,
	}, nil
}
