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
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// SearchCodeTool is a regex grep over the sandboxed project tree, with
// context lines.
type SearchCodeTool struct {
	sandbox      SandboxConfig
	maxResults   int
	contextLines int
}

func NewSearchCodeTool(sandbox SandboxConfig) *SearchCodeTool {
	return &SearchCodeTool{sandbox: sandbox, maxResults: 1000, contextLines: 2}
}

func (t *SearchCodeTool) Name() string        { return "search_code" }
func (t *SearchCodeTool) ResourceKey() string { return "fs" }

func (t *SearchCodeTool) Description() string {
	return "Search for a regular expression pattern across files under the project root, with surrounding context lines."
}

func (t *SearchCodeTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string"},
			"path":    map[string]any{"type": "string", "description": "subdirectory to restrict the search to"},
		},
		"required": []string{"pattern"},
	}
}

type searchMatch struct {
	Path    string   `json:"path"`
	Line    int      `json:"line"`
	Text    string   `json:"text"`
	Context []string `json:"context"`
}

func (t *SearchCodeTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return nil, engineerrors.New(engineerrors.KindValidation, "pattern parameter is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindValidation, "invalid regular expression", err)
	}

	relDir, _ := args["path"].(string)
	if relDir == "" {
		relDir = "."
	}
	abs, err := t.sandbox.Resolve(relDir)
	if err != nil {
		return nil, err
	}

	var matches []searchMatch
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil || ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			for _, blocked := range t.sandbox.BlockedDirs {
				if d.Name() == blocked {
					return fs.SkipDir
				}
			}
			return nil
		}
		rel, relErr := filepath.Rel(t.sandbox.ProjectRoot, path)
		if relErr != nil || !t.sandbox.ExtensionAllowed(rel) {
			return nil
		}
		if len(matches) >= t.maxResults {
			return fs.SkipAll
		}

		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		var lines []string
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}

		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			lo := i - t.contextLines
			if lo < 0 {
				lo = 0
			}
			hi := i + t.contextLines + 1
			if hi > len(lines) {
				hi = len(lines)
			}
			matches = append(matches, searchMatch{
				Path:    filepath.ToSlash(rel),
				Line:    i + 1,
				Text:    line,
				Context: append([]string{}, lines[lo:hi]...),
			})
			if len(matches) >= t.maxResults {
				return fs.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != fs.SkipAll {
		return nil, engineerrors.Wrap(engineerrors.KindToolError, "search failed", walkErr)
	}

	return map[string]any{
		"matches": matches,
		"count":   len(matches),
	}, nil
}
