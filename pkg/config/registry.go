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

// Package config implements a layered configuration registry (YAML
// file, then AGENT_<KEY> environment overlay) exposing the exact key
// table the engine's components read from (llm.*, agent.*, tool.*,
// circuit.*, resource.*, checkpoint.*, event.*, security.*, fallback.*),
// with snapshot_for_task producing an immutable per-task copy so
// concurrent tasks never observe each other's overrides.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/auditengine/engine/pkg/checkpoint"
	"github.com/auditengine/engine/pkg/circuitbreaker"
	"github.com/auditengine/engine/pkg/config/provider"
	"github.com/auditengine/engine/pkg/observability"
	"github.com/auditengine/engine/pkg/ratelimit"
)

// PhaseAgentConfig is one agent.{orchestrator,recon,analysis,verification}
// entry: its loop budget and wall-clock timeout.
type PhaseAgentConfig struct {
	MaxIterations  int `yaml:"max_iterations" validate:"gt=0"`
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gt=0"`
}

// ToolConfig is one tool's override of the tool.* defaults.
type ToolConfig struct {
	Enabled        *bool   `yaml:"enabled"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"gte=0"`
	MaxRetries     int     `yaml:"max_retries" validate:"gte=0"`
	RatePerSecond  float64 `yaml:"rate_per_second" validate:"gte=0"`
	FallbackTool   string  `yaml:"fallback_tool"`
}

// IsEnabled defaults to true when unset.
func (t ToolConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

// CircuitConfig holds the circuit breaker parameters.
type CircuitConfig struct {
	FailureThreshold       uint32 `yaml:"failure_threshold" validate:"gt=0"`
	RecoveryTimeoutSeconds int    `yaml:"recovery_timeout_seconds" validate:"gt=0"`
	HalfOpenMaxCalls       uint32 `yaml:"half_open_max_calls" validate:"gt=0"`
}

// ResourceConfig holds the hard stops under the resource.* keys.
type ResourceConfig struct {
	MaxFileSizeBytes    int64 `yaml:"max_file_size_bytes" validate:"gt=0"`
	MaxFilesPerScan      int   `yaml:"max_files_per_scan" validate:"gt=0"`
	MaxFindingsPerAgent  int   `yaml:"max_findings_per_agent" validate:"gt=0"`
	MaxTotalFindings     int   `yaml:"max_total_findings" validate:"gt=0"`
	MaxContextMessages   int   `yaml:"max_context_messages" validate:"gt=0"`
	MaxToolOutputLength  int   `yaml:"max_tool_output_length" validate:"gt=0"`
	MaxConcurrentTasks   int   `yaml:"max_concurrent_tasks" validate:"gt=0"`
}

// CheckpointConfig holds the checkpoint.* policy keys.
type CheckpointConfig struct {
	Enabled           bool `yaml:"enabled"`
	IntervalIterations int `yaml:"interval_iterations" validate:"gte=0"`
	OnPhaseComplete   bool `yaml:"on_phase_complete"`
	MaxPerTask        int  `yaml:"max_per_task" validate:"gte=0"`
}

// EventConfig holds the event.* policy keys.
type EventConfig struct {
	QueueMaxSize               int `yaml:"queue_max_size" validate:"gt=0"`
	BatchSize                  int `yaml:"batch_size" validate:"gt=0"`
	SSEHeartbeatIntervalSeconds int `yaml:"sse_heartbeat_interval_seconds" validate:"gt=0"`
}

// SecurityConfig holds the filesystem sandbox keys.
type SecurityConfig struct {
	AllowedFileExtensions []string `yaml:"allowed_file_extensions"`
	BlockedDirectories    []string `yaml:"blocked_directories"`
	MaxPathDepth          int      `yaml:"max_path_depth" validate:"gt=0"`
}

// FallbackConfig holds the graceful-degradation flags.
type FallbackConfig struct {
	ContinueOnToolFailure    bool `yaml:"continue_on_tool_failure"`
	ContinueOnPartialResults bool `yaml:"continue_on_partial_results"`
}

// LLMCallConfig holds the llm.* retry/timeout/streaming keys, distinct
// from per-provider LLMConfig (llm.go) which names model/credentials.
type LLMCallConfig struct {
	MaxRetries      int     `yaml:"max_retries" validate:"gte=0"`
	RetryBaseDelayMS int    `yaml:"retry_base_delay_ms" validate:"gte=0"`
	RetryMaxDelayMS  int    `yaml:"retry_max_delay_ms" validate:"gte=0"`
	TimeoutSeconds   int     `yaml:"timeout_seconds" validate:"gt=0"`
	StreamEnabled    bool    `yaml:"stream_enabled"`
}

// Config is the engine-wide configuration tree. A Config value is
// always a fully-resolved, defaulted snapshot — never a
// partially-loaded working copy.
type Config struct {
	LLM      LLMCallConfig               `yaml:"llm"`
	Providers map[string]*LLMConfig      `yaml:"providers"`
	Agent    map[string]PhaseAgentConfig `yaml:"agent"`
	Tool     map[string]ToolConfig       `yaml:"tool"`
	Circuit  CircuitConfig               `yaml:"circuit"`
	Resource ResourceConfig              `yaml:"resource"`
	Checkpoint CheckpointConfig          `yaml:"checkpoint"`
	Event    EventConfig                 `yaml:"event"`
	Security SecurityConfig              `yaml:"security"`
	Fallback FallbackConfig              `yaml:"fallback"`
	Observability observability.Config   `yaml:"observability"`
	Logger   LoggerConfig                `yaml:"logger"`
}

// Default returns a Config with stock values for every recognized key,
// so a deployment only has to override what it cares about.
func Default() *Config {
	return &Config{
		LLM: LLMCallConfig{MaxRetries: 3, RetryBaseDelayMS: 500, RetryMaxDelayMS: 8000, TimeoutSeconds: 60, StreamEnabled: true},
		Providers: map[string]*LLMConfig{},
		Agent: map[string]PhaseAgentConfig{
			"orchestrator":  {MaxIterations: 20, TimeoutSeconds: 1800},
			"recon":         {MaxIterations: 10, TimeoutSeconds: 300},
			"analysis":      {MaxIterations: 15, TimeoutSeconds: 600},
			"verification":  {MaxIterations: 10, TimeoutSeconds: 600},
		},
		Tool: map[string]ToolConfig{
			"default": {TimeoutSeconds: 30, MaxRetries: 2, RatePerSecond: 5},
		},
		Circuit: CircuitConfig{FailureThreshold: 5, RecoveryTimeoutSeconds: 30, HalfOpenMaxCalls: 1},
		Resource: ResourceConfig{
			MaxFileSizeBytes:    10 * 1024 * 1024,
			MaxFilesPerScan:     5000,
			MaxFindingsPerAgent: 100,
			MaxTotalFindings:    1000,
			MaxContextMessages:  20,
			MaxToolOutputLength: 32 * 1024,
			MaxConcurrentTasks:  4,
		},
		Checkpoint: CheckpointConfig{Enabled: true, IntervalIterations: 5, OnPhaseComplete: true, MaxPerTask: 3},
		Event:      EventConfig{QueueMaxSize: 256, BatchSize: 20, SSEHeartbeatIntervalSeconds: 15},
		Security: SecurityConfig{
			BlockedDirectories: []string{".git", "node_modules", "vendor", ".venv", "__pycache__", "dist", "build"},
			MaxPathDepth:       32,
		},
		Fallback: FallbackConfig{ContinueOnToolFailure: true, ContinueOnPartialResults: true},
		Observability: observability.Config{
			Tracing: observability.TracingConfig{Enabled: false, Exporter: "stdout"},
			Metrics: observability.MetricsConfig{Enabled: false},
		},
		Logger: LoggerConfig{Level: "info", Format: "simple"},
	}
}

// ToolSettings resolves tool name's effective config: its own override
// merged over the "default" entry, so tool.<name>.* overrides the
// tool.timeout_seconds/max_retries defaults.
func (c *Config) ToolSettings(name string) ToolConfig {
	out := c.Tool["default"]
	if override, ok := c.Tool[name]; ok {
		if override.Enabled != nil {
			out.Enabled = override.Enabled
		}
		if override.TimeoutSeconds > 0 {
			out.TimeoutSeconds = override.TimeoutSeconds
		}
		if override.MaxRetries > 0 {
			out.MaxRetries = override.MaxRetries
		}
		if override.RatePerSecond > 0 {
			out.RatePerSecond = override.RatePerSecond
		}
		if override.FallbackTool != "" {
			out.FallbackTool = override.FallbackTool
		}
	}
	return out
}

// Registry loads Config from a YAML file with an AGENT_* environment
// overlay, and hands out per-task immutable snapshots.
type Registry struct {
	mu       sync.RWMutex
	base     *Config
	validate *validator.Validate
	path     string
}

// Load reads path (if non-empty) as YAML over the stock defaults, then
// overlays AGENT_<UPPER_SNAKE> environment variables (e.g.
// AGENT_RESOURCE_MAX_TOTAL_FINDINGS maps to
// resource.max_total_findings), and validates the result.
func Load(path string) (*Registry, error) {
	k := koanf.New(".")
	cfg := Default()

	if err := k.Load(confmap.Provider(structToMap(cfg), "."), nil); err != nil {
		return nil, fmt.Errorf("config: seed defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(envProvider(k.Keys()), nil); err != nil {
		return nil, fmt.Errorf("config: load environment overlay: %w", err)
	}

	var out Config
	if err := decodeConfig(k.Raw(), &out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	out.Observability.SetDefaults()
	if err := out.Observability.Validate(); err != nil {
		return nil, fmt.Errorf("config: observability: %w", err)
	}

	out.Logger.SetDefaults()
	if err := out.Logger.Validate(); err != nil {
		return nil, fmt.Errorf("config: logger: %w", err)
	}

	r := &Registry{base: &out, validate: validator.New(), path: path}
	if err := r.validate.Struct(out); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return r, nil
}

// Watch reloads the registry's base Config whenever the file it was
// loaded from changes on disk, so a long-running worker picks up new
// budgets/timeouts without a restart; in-flight tasks keep the snapshot
// they already took (SnapshotForTask copies by value), only tasks picked
// up after the reload observe the new base. Returns immediately if the
// registry wasn't loaded from a file. The returned stop func releases
// the underlying fsnotify watch.
func (r *Registry) Watch(ctx context.Context, onReload func(error)) (stop func(), err error) {
	if r.path == "" {
		return func() {}, nil
	}
	p, err := provider.New(provider.ProviderConfig{Type: provider.TypeFile, Path: r.path})
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", r.path, err)
	}
	changes, err := p.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", r.path, err)
	}
	go func() {
		for range changes {
			reloaded, rerr := Load(r.path)
			if rerr != nil {
				if onReload != nil {
					onReload(fmt.Errorf("config: reload %s: %w", r.path, rerr))
				}
				continue
			}
			r.mu.Lock()
			r.base = reloaded.base
			r.mu.Unlock()
			if onReload != nil {
				onReload(nil)
			}
		}
	}()
	return func() { _ = p.Close() }, nil
}

// NewRegistryFromConfig builds a Registry directly from an
// already-constructed Config, for tests and in-process callers that
// don't load from a file.
func NewRegistryFromConfig(cfg *Config) *Registry {
	return &Registry{base: cfg, validate: validator.New()}
}

// envProvider builds a koanf Provider sourcing AGENT_<KEY> environment
// variables, transforming AGENT_RESOURCE_MAX_TOTAL_FINDINGS into
// resource.max_total_findings. A variable is matched against the
// already-loaded keys first, so underscores inside a key name survive;
// an unmatched variable has every underscore read as a dot.
func envProvider(known []string) koanf.Provider {
	return confmap.Provider(envAsMap(known), ".")
}

func envAsMap(known []string) map[string]any {
	byEnv := make(map[string]string, len(known))
	for _, name := range known {
		byEnv["AGENT_"+strings.ToUpper(strings.ReplaceAll(name, ".", "_"))] = name
	}
	out := map[string]any{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		if !strings.HasPrefix(key, "AGENT_") {
			continue
		}
		dotted, ok := byEnv[key]
		if !ok {
			dotted = strings.ToLower(strings.TrimPrefix(key, "AGENT_"))
			dotted = strings.ReplaceAll(dotted, "_", ".")
		}
		out[dotted] = parseValue(val)
	}
	return out
}

// structToMap round-trips cfg through YAML to get a plain map koanf's
// confmap provider can seed, reusing the same yaml tags the file loader
// matches against rather than hand-writing a reflection walk.
func structToMap(cfg *Config) map[string]any {
	raw, err := yamlv3.Marshal(cfg)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := yamlv3.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// decodeConfig decodes a raw koanf map into Config via mapstructure:
// "yaml" tag names, weakly-typed input so
// env-overlay strings coerce into ints/durations, and hooks for
// comma-separated lists (security.allowed_file_extensions from an env
// override) and duration strings.
func decodeConfig(input map[string]any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	return decoder.Decode(input)
}

// SnapshotForTask returns an immutable value-copy Config, applying any
// task-scoped overrides on top of the registry's base. Returning a value
// (not a pointer into the registry) means concurrent tasks can never
// observe each other's overrides.
func (r *Registry) SnapshotForTask(overrides map[string]any) Config {
	r.mu.RLock()
	base := r.base
	r.mu.RUnlock()

	snap := *base
	snap.Agent = copyAgentMap(base.Agent)
	snap.Tool = copyToolMap(base.Tool)

	for key, val := range overrides {
		applyOverride(&snap, key, val)
	}
	return snap
}

func copyAgentMap(m map[string]PhaseAgentConfig) map[string]PhaseAgentConfig {
	out := make(map[string]PhaseAgentConfig, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyToolMap(m map[string]ToolConfig) map[string]ToolConfig {
	out := make(map[string]ToolConfig, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// applyOverride supports the common per-task overrides
// (resource.max_total_findings, agent.<phase>.max_iterations); anything
// else is ignored rather than erroring, since ConfigOverrides on a Task
// is free-form.
func applyOverride(cfg *Config, key string, val any) {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) < 2 {
		return
	}
	switch parts[0] {
	case "resource":
		switch parts[1] {
		case "max_total_findings":
			if n, ok := toInt(val); ok {
				cfg.Resource.MaxTotalFindings = n
			}
		case "max_context_messages":
			if n, ok := toInt(val); ok {
				cfg.Resource.MaxContextMessages = n
			}
		}
	case "agent":
		if len(parts) == 3 && parts[2] == "max_iterations" {
			if n, ok := toInt(val); ok {
				phase := cfg.Agent[parts[1]]
				phase.MaxIterations = n
				cfg.Agent[parts[1]] = phase
			}
		}
	}
}

// ToCircuitSettings adapts the circuit.* keys to circuitbreaker.Settings.
func (c Config) ToCircuitSettings() circuitbreaker.Settings {
	return circuitbreaker.Settings{
		FailureThreshold: c.Circuit.FailureThreshold,
		RecoveryTimeout:  time.Duration(c.Circuit.RecoveryTimeoutSeconds) * time.Second,
		HalfOpenMaxCalls: c.Circuit.HalfOpenMaxCalls,
	}
}

// ToRateLimitRule adapts one tool's effective rate_per_second into a
// token-bucket ratelimit.Rule, sizing the burst
// capacity at one second's worth of tokens.
func (c Config) ToRateLimitRule(toolName string) ratelimit.Rule {
	t := c.ToolSettings(toolName)
	rate := t.RatePerSecond
	if rate <= 0 {
		rate = 5
	}
	capacity := int64(rate)
	if capacity < 1 {
		capacity = 1
	}
	return ratelimit.Rule{Capacity: capacity, RefillPerSecond: rate}
}

// ToCheckpointConfig adapts checkpoint.* into checkpoint.Config.
func (c Config) ToCheckpointConfig() *checkpoint.Config {
	return &checkpoint.Config{
		Enabled:            c.Checkpoint.Enabled,
		IntervalIterations: c.Checkpoint.IntervalIterations,
		OnPhaseComplete:    c.Checkpoint.OnPhaseComplete,
		AfterTools:         true,
		MaxPerTask:         c.Checkpoint.MaxPerTask,
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
