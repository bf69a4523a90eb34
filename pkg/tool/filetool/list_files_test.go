package filetool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListFilesTool_ListsFilesRecursivelySkippingBlockedDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "util.go"), []byte("package pkg"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "left-pad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "left-pad", "index.js"), []byte("x"), 0o644))

	tl := NewListFilesTool(DefaultSandboxConfig(root))
	out, err := tl.Invoke(context.Background(), map[string]any{})
	require.NoError(t, err)
	res := out.(map[string]any)
	files := res["files"].([]string)
	require.Contains(t, files, "main.go")
	require.Contains(t, files, "pkg/util.go")
	require.NotContains(t, files, "node_modules/left-pad/index.js")
}

func TestListFilesTool_RespectsMaxFilesAndMarksTruncated(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "f"+string(rune('a'+i))+".go"), []byte("x"), 0o644))
	}
	tl := NewListFilesTool(DefaultSandboxConfig(root))
	out, err := tl.Invoke(context.Background(), map[string]any{"max_files": float64(3)})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.Len(t, res["files"].([]string), 3)
	require.Equal(t, true, res["truncated"])
}

func TestListFilesTool_FiltersDisallowedExtensions(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("x"), 0o644))

	sandbox := DefaultSandboxConfig(root)
	sandbox.AllowedExtensions = []string{".go"}
	tl := NewListFilesTool(sandbox)

	out, err := tl.Invoke(context.Background(), map[string]any{})
	require.NoError(t, err)
	res := out.(map[string]any)
	files := res["files"].([]string)
	require.Contains(t, files, "main.go")
	require.NotContains(t, files, "readme.md")
}
