package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_PassesValidation(t *testing.T) {
	r := NewRegistryFromConfig(Default())
	require.NoError(t, r.validate.Struct(*r.base))
}

func TestToolSettings_FallsBackToDefault(t *testing.T) {
	cfg := Default()
	settings := cfg.ToolSettings("search_code")
	require.Equal(t, cfg.Tool["default"].TimeoutSeconds, settings.TimeoutSeconds)
	require.True(t, settings.IsEnabled())
}

func TestToolSettings_OverrideWinsOverDefault(t *testing.T) {
	cfg := Default()
	disabled := false
	cfg.Tool["semgrep"] = ToolConfig{Enabled: &disabled, TimeoutSeconds: 120, MaxRetries: 5}

	settings := cfg.ToolSettings("semgrep")
	require.Equal(t, 120, settings.TimeoutSeconds)
	require.Equal(t, 5, settings.MaxRetries)
	require.False(t, settings.IsEnabled())
	// rate_per_second wasn't overridden, so it falls back to the default entry.
	require.Equal(t, cfg.Tool["default"].RatePerSecond, settings.RatePerSecond)
}

func TestSnapshotForTask_OverridesDoNotLeakAcrossSnapshots(t *testing.T) {
	r := NewRegistryFromConfig(Default())

	a := r.SnapshotForTask(map[string]any{"resource.max_total_findings": 50})
	b := r.SnapshotForTask(nil)

	require.Equal(t, 50, a.Resource.MaxTotalFindings)
	require.Equal(t, Default().Resource.MaxTotalFindings, b.Resource.MaxTotalFindings)
}

func TestSnapshotForTask_AgentPhaseOverrideIsIsolated(t *testing.T) {
	r := NewRegistryFromConfig(Default())

	snap := r.SnapshotForTask(map[string]any{"agent.analysis.max_iterations": 3})
	require.Equal(t, 3, snap.Agent["analysis"].MaxIterations)

	// the registry's own base config must be untouched by the override.
	require.NotEqual(t, 3, r.base.Agent["analysis"].MaxIterations)
}

func TestSnapshotForTask_UnknownOverrideKeyIsIgnored(t *testing.T) {
	r := NewRegistryFromConfig(Default())
	require.NotPanics(t, func() {
		snap := r.SnapshotForTask(map[string]any{"nonsense.key": 1})
		require.Equal(t, Default().Resource.MaxTotalFindings, snap.Resource.MaxTotalFindings)
	})
}

func TestToRateLimitRule_DefaultsWhenRateIsZero(t *testing.T) {
	cfg := Default()
	cfg.Tool["think"] = ToolConfig{RatePerSecond: 0}
	rule := cfg.ToRateLimitRule("think")
	require.Equal(t, int64(5), rule.Capacity)
	require.Equal(t, 5.0, rule.RefillPerSecond)
}

func TestToRateLimitRule_UsesConfiguredRate(t *testing.T) {
	cfg := Default()
	cfg.Tool["osv_scanner"] = ToolConfig{RatePerSecond: 2}
	rule := cfg.ToRateLimitRule("osv_scanner")
	require.Equal(t, int64(2), rule.Capacity)
	require.Equal(t, 2.0, rule.RefillPerSecond)
}

func TestToCircuitSettings_MapsSecondsToDuration(t *testing.T) {
	cfg := Default()
	cfg.Circuit.RecoveryTimeoutSeconds = 45
	settings := cfg.ToCircuitSettings()
	require.Equal(t, cfg.Circuit.FailureThreshold, settings.FailureThreshold)
	require.Equal(t, 45e9, float64(settings.RecoveryTimeout))
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resource:\n  max_total_findings: 250\n"), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 250, r.base.Resource.MaxTotalFindings)
	// untouched keys still carry the stock defaults.
	require.Equal(t, Default().Resource.MaxFilesPerScan, r.base.Resource.MaxFilesPerScan)
}

func TestLoad_EnvironmentOverlayWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resource:\n  max_total_findings: 250\n"), 0o644))

	t.Setenv("AGENT_RESOURCE_MAX_TOTAL_FINDINGS", "999")
	r, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 999, r.base.Resource.MaxTotalFindings)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
