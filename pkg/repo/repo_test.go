package repo

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

func TestResolve_DirectoryBecomesLocalSource(t *testing.T) {
	dir := t.TempDir()
	src, err := Resolve(dir, Options{})
	require.NoError(t, err)
	require.Equal(t, KindLocal, src.Kind())
}

func TestResolve_GitRemoteShapes(t *testing.T) {
	for _, ref := range []string{
		"https://github.com/acme/app.git",
		"git@github.com:acme/app.git",
		"ssh://git@internal.example/app.git",
	} {
		src, err := Resolve(ref, Options{Branch: "main"})
		require.NoError(t, err, ref)
		require.Equal(t, KindGit, src.Kind(), ref)
	}
}

func TestResolve_ZipFileBecomesZipSource(t *testing.T) {
	path := writeZip(t, map[string]string{"main.py": "print('hi')"})
	src, err := Resolve(path, Options{})
	require.NoError(t, err)
	require.Equal(t, KindZip, src.Kind())
}

func TestResolve_RejectsMissingReference(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope"), Options{})
	require.Error(t, err)
	require.Equal(t, engineerrors.KindValidation, engineerrors.KindOf(err))
}

func TestLocalSource_AcquireReturnsAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	src := &LocalSource{Path: dir}
	root, err := src.Acquire(context.Background(), "")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(root))
}

func TestLocalSource_AcquireRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(f, []byte("package main"), 0o644))
	_, err := (&LocalSource{Path: f}).Acquire(context.Background(), "")
	require.Error(t, err)
}

func TestZipSource_AcquireExtractsTree(t *testing.T) {
	path := writeZip(t, map[string]string{
		"app/main.py":     "print('hi')",
		"app/lib/util.py": "x = 1",
	})
	dest := filepath.Join(t.TempDir(), "work")

	root, err := (&ZipSource{Path: path}).Acquire(context.Background(), dest)
	require.NoError(t, err)

	// Single wrapping top-level directory is unwrapped.
	require.Equal(t, filepath.Join(dest, "app"), root)
	data, err := os.ReadFile(filepath.Join(root, "lib", "util.py"))
	require.NoError(t, err)
	require.Equal(t, "x = 1", string(data))
}

func TestZipSource_AcquireFlatArchiveKeepsDest(t *testing.T) {
	path := writeZip(t, map[string]string{
		"main.py":  "print('hi')",
		"setup.py": "pass",
	})
	dest := filepath.Join(t.TempDir(), "work")

	root, err := (&ZipSource{Path: path}).Acquire(context.Background(), dest)
	require.NoError(t, err)
	require.Equal(t, dest, root)
}

func TestZipSource_AcquireRejectsSlipEntry(t *testing.T) {
	path := writeZip(t, map[string]string{"../evil.sh": "rm -rf /"})
	dest := filepath.Join(t.TempDir(), "work")

	_, err := (&ZipSource{Path: path}).Acquire(context.Background(), dest)
	require.Error(t, err)
	require.Equal(t, engineerrors.KindRepository, engineerrors.KindOf(err))
	require.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil.sh"))
}

func TestGitSource_AcquireRequiresDest(t *testing.T) {
	_, err := (&GitSource{URL: "https://example.com/app.git"}).Acquire(context.Background(), "")
	require.Error(t, err)
	require.Equal(t, engineerrors.KindValidation, engineerrors.KindOf(err))
}

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}
