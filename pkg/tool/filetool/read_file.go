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

package filetool

import (
	"context"
	"fmt"
	"os"
	"strings"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// ReadFileTool reads a bounded range of a sandboxed file, with optional
// line numbers.
type ReadFileTool struct {
	sandbox SandboxConfig
}

func NewReadFileTool(sandbox SandboxConfig) *ReadFileTool {
	return &ReadFileTool{sandbox: sandbox}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) ResourceKey() string { return "fs" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file with optional line numbers and range selection."
}

func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":         map[string]any{"type": "string", "description": "file path relative to the project root"},
			"start_line":   map[string]any{"type": "integer"},
			"end_line":     map[string]any{"type": "integer"},
			"line_numbers": map[string]any{"type": "boolean", "default": true},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	relPath, _ := args["path"].(string)
	if relPath == "" {
		return nil, engineerrors.New(engineerrors.KindValidation, "path parameter is required")
	}
	if !t.sandbox.ExtensionAllowed(relPath) {
		return nil, engineerrors.New(engineerrors.KindValidation, "file extension not allowed")
	}

	abs, err := t.sandbox.Resolve(relPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindToolError, "stat failed", err)
	}
	if t.sandbox.MaxFileSize > 0 && info.Size() > t.sandbox.MaxFileSize {
		return nil, engineerrors.New(engineerrors.KindValidation, fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), t.sandbox.MaxFileSize))
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindToolError, "read failed", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	total := len(lines)

	startLine := 1
	if v, ok := args["start_line"].(float64); ok && int(v) >= 1 {
		startLine = int(v)
	}
	endLine := total
	if v, ok := args["end_line"].(float64); ok && int(v) < total {
		endLine = int(v)
	}
	if startLine > endLine {
		return nil, engineerrors.New(engineerrors.KindValidation, "start_line exceeds end_line")
	}

	showLineNumbers := true
	if v, ok := args["line_numbers"].(bool); ok {
		showLineNumbers = v
	}

	var b strings.Builder
	for i := startLine - 1; i < endLine && i < total; i++ {
		if showLineNumbers {
			fmt.Fprintf(&b, "%6d| %s\n", i+1, lines[i])
		} else {
			fmt.Fprintf(&b, "%s\n", lines[i])
		}
	}

	return map[string]any{
		"path":        relPath,
		"total_lines": total,
		"start_line":  startLine,
		"end_line":    endLine,
		"content":     b.String(),
	}, nil
}
