package verifytool

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/tool/filetool"
)

func TestSandboxExecuteTool_RunsCommandAndCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix-only command")
	}
	root := t.TempDir()
	tl := NewSandboxExecuteTool(filetool.DefaultSandboxConfig(root), time.Second, 1024)

	out, err := tl.Invoke(context.Background(), map[string]any{"command": "echo", "args": []any{"pwned"}})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.Equal(t, 0, res["exit_code"])
	require.Contains(t, res["stdout"].(string), "pwned")
	require.False(t, res["timed_out"].(bool))
}

func TestSandboxExecuteTool_RequiresCommand(t *testing.T) {
	tl := NewSandboxExecuteTool(filetool.DefaultSandboxConfig(t.TempDir()), time.Second, 1024)
	_, err := tl.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestSandboxExecuteTool_TimesOutLongRunningCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix-only command")
	}
	root := t.TempDir()
	tl := NewSandboxExecuteTool(filetool.DefaultSandboxConfig(root), 50*time.Millisecond, 1024)

	out, err := tl.Invoke(context.Background(), map[string]any{"command": "sleep", "args": []any{"5"}})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.True(t, res["timed_out"].(bool))
}

func TestSandboxExecuteTool_TruncatesOversizedOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix-only command")
	}
	root := t.TempDir()
	tl := NewSandboxExecuteTool(filetool.DefaultSandboxConfig(root), time.Second, 4)

	out, err := tl.Invoke(context.Background(), map[string]any{"command": "echo", "args": []any{"0123456789"}})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.True(t, res["truncated"].(bool))
	require.Len(t, res["stdout"].(string), 4)
}

func TestSandboxExecuteTool_RejectsWorkingDirOutsideRoot(t *testing.T) {
	root := t.TempDir()
	tl := NewSandboxExecuteTool(filetool.DefaultSandboxConfig(root), time.Second, 1024)
	_, err := tl.Invoke(context.Background(), map[string]any{"command": "echo", "working_dir": "../../etc"})
	require.Error(t, err)
}

func TestSandboxExecuteTool_WorkingDirDefaultsToProjectRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix-only command")
	}
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "marker.txt"), []byte("x"), 0o644))
	tl := NewSandboxExecuteTool(filetool.DefaultSandboxConfig(root), time.Second, 1024)

	out, err := tl.Invoke(context.Background(), map[string]any{"command": "ls"})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.Contains(t, res["stdout"].(string), "marker.txt")
}

func TestValidateVulnerabilityTool_RecordsConfirmedVerdict(t *testing.T) {
	tl := NewValidateVulnerabilityTool()
	out, err := tl.Invoke(context.Background(), map[string]any{
		"finding_id": "f-1",
		"verdict":    "confirmed",
		"evidence":   "reproduced with curl",
		"poc":        "curl -d \"id=1 OR 1=1\" http://target/query",
	})
	require.NoError(t, err)
	res := out.(map[string]any)
	require.Equal(t, "f-1", res["finding_id"])
	require.Equal(t, "confirmed", res["verdict"])
}

func TestValidateVulnerabilityTool_RejectsUnknownVerdict(t *testing.T) {
	tl := NewValidateVulnerabilityTool()
	_, err := tl.Invoke(context.Background(), map[string]any{"finding_id": "f-1", "verdict": "maybe"})
	require.Error(t, err)
}

func TestValidateVulnerabilityTool_RequiresFindingIDAndVerdict(t *testing.T) {
	tl := NewValidateVulnerabilityTool()
	_, err := tl.Invoke(context.Background(), map[string]any{"verdict": "rejected"})
	require.Error(t, err)

	_, err = tl.Invoke(context.Background(), map[string]any{"finding_id": "f-1"})
	require.Error(t, err)
}
