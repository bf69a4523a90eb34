package filetool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchCodeTool_FindsMatchesWithContext(t *testing.T) {
	root := t.TempDir()
	content := "line1\nline2\nquery = \"SELECT * FROM u WHERE id=\" + id\nline4\nline5\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte(content), 0o644))

	tl := NewSearchCodeTool(DefaultSandboxConfig(root))
	out, err := tl.Invoke(context.Background(), map[string]any{"pattern": `SELECT \* FROM`})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.Equal(t, 1, res["count"])
	matches := res["matches"].([]searchMatch)
	require.Equal(t, 3, matches[0].Line)
	require.Equal(t, "main.py", matches[0].Path)
	require.Len(t, matches[0].Context, 5)
}

func TestSearchCodeTool_RejectsInvalidRegex(t *testing.T) {
	tl := NewSearchCodeTool(DefaultSandboxConfig(t.TempDir()))
	_, err := tl.Invoke(context.Background(), map[string]any{"pattern": `(unclosed`})
	require.Error(t, err)
}

func TestSearchCodeTool_RequiresPattern(t *testing.T) {
	tl := NewSearchCodeTool(DefaultSandboxConfig(t.TempDir()))
	_, err := tl.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestSearchCodeTool_SkipsBlockedDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "lib.go"), []byte("needle"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("needle"), 0o644))

	tl := NewSearchCodeTool(DefaultSandboxConfig(root))
	out, err := tl.Invoke(context.Background(), map[string]any{"pattern": "needle"})
	require.NoError(t, err)
	res := out.(map[string]any)
	matches := res["matches"].([]searchMatch)
	require.Len(t, matches, 1)
	require.Equal(t, "main.go", matches[0].Path)
}
