package filetool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadFileTool_ReturnsContentWithLineNumbers(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("a = 1\nb = 2\nc = 3\n"), 0o644))
	tl := NewReadFileTool(DefaultSandboxConfig(root))

	out, err := tl.Invoke(context.Background(), map[string]any{"path": "main.py"})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.Equal(t, 3, res["total_lines"])
	require.Contains(t, res["content"].(string), "1| a = 1")
}

func TestReadFileTool_RespectsLineRange(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("a\nb\nc\nd\ne\n"), 0o644))
	tl := NewReadFileTool(DefaultSandboxConfig(root))

	out, err := tl.Invoke(context.Background(), map[string]any{"path": "main.py", "start_line": float64(2), "end_line": float64(3)})
	require.NoError(t, err)
	res := out.(map[string]any)
	content := res["content"].(string)
	require.True(t, strings.Contains(content, "2| b"))
	require.True(t, strings.Contains(content, "3| c"))
	require.False(t, strings.Contains(content, "1| a"))
	require.False(t, strings.Contains(content, "4| d"))
}

func TestReadFileTool_RejectsMissingPath(t *testing.T) {
	tl := NewReadFileTool(DefaultSandboxConfig(t.TempDir()))
	_, err := tl.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestReadFileTool_RejectsOversizedFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte("0123456789"), 0o644))
	sandbox := DefaultSandboxConfig(root)
	sandbox.MaxFileSize = 4
	tl := NewReadFileTool(sandbox)

	_, err := tl.Invoke(context.Background(), map[string]any{"path": "big.txt"})
	require.Error(t, err)
}

func TestReadFileTool_RejectsDisallowedExtension(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.exe"), []byte("bin"), 0o644))
	sandbox := DefaultSandboxConfig(root)
	sandbox.AllowedExtensions = []string{".go"}
	tl := NewReadFileTool(sandbox)

	_, err := tl.Invoke(context.Background(), map[string]any{"path": "app.exe"})
	require.Error(t, err)
}

func TestReadFileTool_RejectsTraversalOutsideRoot(t *testing.T) {
	root := t.TempDir()
	tl := NewReadFileTool(DefaultSandboxConfig(root))
	_, err := tl.Invoke(context.Background(), map[string]any{"path": "../../etc/passwd"})
	require.Error(t, err)
}
