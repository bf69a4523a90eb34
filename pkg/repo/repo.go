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

// Package repo acquires the repository under audit. A local checkout, a
// git remote (https or ssh), and a zip archive are three acquisition
// paths feeding the same downstream sandbox; everything past Acquire
// operates on a plain directory and never knows which path produced it.
package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// Kind names one acquisition path.
type Kind string

const (
	KindLocal Kind = "local"
	KindGit   Kind = "git"
	KindZip   Kind = "zip"
)

// Source materializes a repository into a local directory the sandbox
// can be rooted at. Acquire is idempotent per destination: calling it
// twice with the same destDir re-fetches into a clean directory.
type Source interface {
	Kind() Kind
	// Acquire fetches the repository and returns the directory to use
	// as the project root. For a local source this is the checkout
	// itself and destDir is unused; git and zip sources populate
	// destDir and return it.
	Acquire(ctx context.Context, destDir string) (string, error)
}

// Options carries the cross-source acquisition knobs. Zero values mean
// "default": clone the remote's default branch, no deploy key.
type Options struct {
	// Branch pins a git clone to a named branch; ignored by other kinds.
	Branch string
	// SSHKeyPath points at a private deploy key used for ssh remotes;
	// ignored for https remotes and other kinds.
	SSHKeyPath string
}

// Resolve maps a user-supplied reference onto a Source: an existing
// directory is used in place, a *.zip path is extracted, and anything
// shaped like a git remote is cloned. References that match none of
// those fail with a validation error rather than guessing.
func Resolve(ref string, opts Options) (Source, error) {
	if ref == "" {
		return nil, engineerrors.New(engineerrors.KindValidation, "empty repository reference")
	}
	if looksLikeGitRemote(ref) {
		return &GitSource{URL: ref, Branch: opts.Branch, SSHKeyPath: opts.SSHKeyPath}, nil
	}
	info, err := os.Stat(ref)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindValidation, "repository reference is neither a path nor a git remote", err)
	}
	if info.IsDir() {
		return &LocalSource{Path: ref}, nil
	}
	if strings.EqualFold(filepath.Ext(ref), ".zip") {
		return &ZipSource{Path: ref}, nil
	}
	return nil, engineerrors.New(engineerrors.KindValidation, "repository reference must be a directory, a .zip archive, or a git remote")
}

func looksLikeGitRemote(ref string) bool {
	switch {
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"),
		strings.HasPrefix(ref, "ssh://"), strings.HasPrefix(ref, "git://"),
		strings.HasPrefix(ref, "git@"):
		return true
	}
	return false
}

