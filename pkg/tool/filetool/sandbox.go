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

// Package filetool implements the filesystem tools list_files,
// read_file, and search_code: sandboxed to the project root, enforcing
// allowed extensions, blocked directories, max file size, max path
// depth, and symlink containment.
package filetool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// SandboxConfig bounds every filesystem tool's view of the project.
type SandboxConfig struct {
	ProjectRoot      string
	AllowedExtensions []string // empty = all extensions allowed
	BlockedDirs      []string // e.g. ".git", "node_modules", "vendor"
	MaxFileSize      int64
	MaxPathDepth     int
}

func DefaultSandboxConfig(root string) SandboxConfig {
	return SandboxConfig{
		ProjectRoot:  root,
		BlockedDirs:  []string{".git", "node_modules", "vendor", ".venv", "__pycache__", "dist", "build"},
		MaxFileSize:  10 * 1024 * 1024,
		MaxPathDepth: 32,
	}
}

// Resolve validates a caller-supplied relative path against the sandbox
// rules and returns the absolute path to operate on. It rejects absolute
// paths, traversal outside the root, blocked directories, excessive
// depth, and symlink escapes.
func (c SandboxConfig) Resolve(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", engineerrors.New(engineerrors.KindValidation, "absolute paths not allowed, use paths relative to the project root")
	}

	cleaned := filepath.Clean(relPath)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", engineerrors.New(engineerrors.KindValidation, "directory traversal outside project root not allowed")
	}

	depth := len(strings.Split(cleaned, string(filepath.Separator)))
	if c.MaxPathDepth > 0 && depth > c.MaxPathDepth {
		return "", engineerrors.New(engineerrors.KindValidation, fmt.Sprintf("path depth %d exceeds max %d", depth, c.MaxPathDepth))
	}

	for _, seg := range strings.Split(cleaned, string(filepath.Separator)) {
		for _, blocked := range c.BlockedDirs {
			if seg == blocked {
				return "", engineerrors.New(engineerrors.KindValidation, fmt.Sprintf("path enters blocked directory %q", blocked))
			}
		}
	}

	abs := filepath.Join(c.ProjectRoot, cleaned)
	rootAbs, err := filepath.Abs(c.ProjectRoot)
	if err != nil {
		return "", engineerrors.Wrap(engineerrors.KindInternal, "resolving project root", err)
	}
	absResolved, err := filepath.Abs(abs)
	if err != nil {
		return "", engineerrors.Wrap(engineerrors.KindInternal, "resolving path", err)
	}
	if !strings.HasPrefix(absResolved, rootAbs+string(filepath.Separator)) && absResolved != rootAbs {
		return "", engineerrors.New(engineerrors.KindValidation, "resolved path escapes project root")
	}

	// A symlink inside the root may still point outside it; resolve the
	// real path and re-check containment rather than trusting the clean,
	// unresolved one. rootAbs itself is resolved too, since the root
	// directory can sit behind a symlink (e.g. a system temp dir) without
	// that being an escape. A target that doesn't exist yet (e.g. a write
	// destination) has nothing to resolve, which is not an escape.
	rootReal := rootAbs
	if r, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootReal = r
	}
	if real, err := filepath.EvalSymlinks(absResolved); err == nil {
		if real != rootReal && !strings.HasPrefix(real, rootReal+string(filepath.Separator)) {
			return "", engineerrors.New(engineerrors.KindValidation, "resolved path escapes project root via symlink")
		}
	} else if !os.IsNotExist(err) {
		return "", engineerrors.Wrap(engineerrors.KindInternal, "resolving symlinks", err)
	}

	return absResolved, nil
}

// ExtensionAllowed reports whether path's extension is in the allowlist,
// or true if no allowlist is configured.
func (c SandboxConfig) ExtensionAllowed(path string) bool {
	if len(c.AllowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range c.AllowedExtensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}
