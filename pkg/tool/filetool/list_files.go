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
	"io/fs"
	"path/filepath"
	"strings"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// ListFilesTool walks a sandboxed directory, skipping blocked dirs, and
// returns relative paths, for the recon phase's tree discovery.
type ListFilesTool struct {
	sandbox SandboxConfig
}

func NewListFilesTool(sandbox SandboxConfig) *ListFilesTool {
	return &ListFilesTool{sandbox: sandbox}
}

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) ResourceKey() string { return "fs" }

func (t *ListFilesTool) Description() string {
	return "List files under a directory within the project, recursively, skipping blocked directories."
}

func (t *ListFilesTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string", "description": "directory relative to the project root, defaults to root"},
			"max_files": map[string]any{"type": "integer", "default": 2000},
		},
	}
}

func (t *ListFilesTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	relDir, _ := args["path"].(string)
	if relDir == "" {
		relDir = "."
	}
	maxFiles := 2000
	if v, ok := args["max_files"].(float64); ok && v > 0 {
		maxFiles = int(v)
	}

	abs, err := t.sandbox.Resolve(relDir)
	if err != nil {
		return nil, err
	}

	var out []string
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(t.sandbox.ProjectRoot, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			for _, blocked := range t.sandbox.BlockedDirs {
				if name == blocked {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !t.sandbox.ExtensionAllowed(rel) {
			return nil
		}
		out = append(out, filepath.ToSlash(rel))
		if len(out) >= maxFiles {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr != fs.SkipAll {
		return nil, engineerrors.Wrap(engineerrors.KindToolError, "walk failed", walkErr)
	}

	return map[string]any{
		"root":       strings.TrimPrefix(relDir, "./"),
		"files":      out,
		"count":      len(out),
		"truncated":  len(out) >= maxFiles,
	}, nil
}
