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
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// Extraction caps. An uploaded archive is untrusted input; these bound
// a zip bomb before the per-file sandbox limits ever see it.
const (
	zipMaxFiles     = 50_000
	zipMaxFileBytes = 100 * 1024 * 1024
	zipMaxTotal     = 2 * 1024 * 1024 * 1024
)

// ZipSource extracts an uploaded archive into destDir. Entry names are
// containment-checked against destDir (zip-slip) and symlink entries
// are skipped. When the archive wraps everything in a single top-level
// directory (the GitHub/GitLab export convention), that directory is
// returned as the root.
type ZipSource struct {
	Path string
}

func (s *ZipSource) Kind() Kind { return KindZip }

func (s *ZipSource) Acquire(ctx context.Context, destDir string) (string, error) {
	if destDir == "" {
		return "", engineerrors.New(engineerrors.KindValidation, "zip acquisition requires a destination directory")
	}
	r, err := zip.OpenReader(s.Path)
	if err != nil {
		return "", engineerrors.Wrap(engineerrors.KindRepository, "open archive", err)
	}
	defer r.Close()

	if err := os.RemoveAll(destDir); err != nil {
		return "", engineerrors.Wrap(engineerrors.KindRepository, "clean extraction destination", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", engineerrors.Wrap(engineerrors.KindRepository, "create extraction destination", err)
	}

	if len(r.File) > zipMaxFiles {
		return "", engineerrors.New(engineerrors.KindRepository, "archive exceeds the file-count limit")
	}

	var total int64
	for _, f := range r.File {
		if ctx.Err() != nil {
			return "", engineerrors.Wrap(engineerrors.KindCancelled, "extraction interrupted", ctx.Err())
		}
		target, ok := containedPath(destDir, f.Name)
		if !ok {
			return "", engineerrors.New(engineerrors.KindRepository, "archive entry escapes the extraction root: "+f.Name)
		}
		mode := f.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			continue
		case f.FileInfo().IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", engineerrors.Wrap(engineerrors.KindRepository, "create directory "+f.Name, err)
			}
			continue
		}
		if int64(f.UncompressedSize64) > zipMaxFileBytes {
			return "", engineerrors.New(engineerrors.KindRepository, "archive entry exceeds the per-file size limit: "+f.Name)
		}
		total += int64(f.UncompressedSize64)
		if total > zipMaxTotal {
			return "", engineerrors.New(engineerrors.KindRepository, "archive exceeds the total extracted-size limit")
		}
		if err := extractOne(f, target); err != nil {
			return "", err
		}
	}

	return singleTopLevelDir(destDir), nil
}

// containedPath joins an archive entry name under root, rejecting names
// that clean to an absolute path or climb outside the root.
func containedPath(root, name string) (string, bool) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(root, cleaned), true
}

func extractOne(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return engineerrors.Wrap(engineerrors.KindRepository, "create parent directory for "+f.Name, err)
	}
	src, err := f.Open()
	if err != nil {
		return engineerrors.Wrap(engineerrors.KindRepository, "open archive entry "+f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return engineerrors.Wrap(engineerrors.KindRepository, "create "+f.Name, err)
	}
	defer dst.Close()

	// LimitReader backstops a lying UncompressedSize64 header.
	if _, err := io.Copy(dst, io.LimitReader(src, zipMaxFileBytes+1)); err != nil {
		return engineerrors.Wrap(engineerrors.KindRepository, "extract "+f.Name, err)
	}
	return nil
}

// singleTopLevelDir descends into dir when it contains exactly one
// subdirectory and nothing else.
func singleTopLevelDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}
