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

package repo

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// GitSource shallow-clones a remote into destDir. The audit only ever
// reads the working tree at one commit, so history is not fetched.
type GitSource struct {
	URL        string
	Branch     string
	SSHKeyPath string
}

func (s *GitSource) Kind() Kind { return KindGit }

func (s *GitSource) Acquire(ctx context.Context, destDir string) (string, error) {
	if destDir == "" {
		return "", engineerrors.New(engineerrors.KindValidation, "git acquisition requires a destination directory")
	}
	if err := os.RemoveAll(destDir); err != nil {
		return "", engineerrors.Wrap(engineerrors.KindRepository, "clean clone destination", err)
	}

	args := []string{"clone", "--depth", "1", "--single-branch"}
	if s.Branch != "" {
		args = append(args, "--branch", s.Branch)
	}
	args = append(args, s.URL, destDir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if s.SSHKeyPath != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf(
			"GIT_SSH_COMMAND=ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new", s.SSHKeyPath))
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", engineerrors.Wrap(engineerrors.KindCancelled, "git clone interrupted", ctx.Err())
		}
		msg := "git clone failed"
		if stderr.Len() > 0 {
			msg = fmt.Sprintf("git clone failed: %s", firstLine(stderr.String()))
		}
		return "", engineerrors.Wrap(engineerrors.KindRepository, msg, err)
	}
	return destDir, nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
