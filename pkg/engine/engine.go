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

// Package engine is the composition root: it wires together the
// config, rate limiting, circuit breaking, the LLM pool, tools, the
// agent builder, the orchestrator, checkpointing, and the event bus —
// into one runnable Engine, and drives a bounded pool of worker
// goroutines pulling tasks off a TaskStore.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/auditengine/engine/pkg/agent"
	"github.com/auditengine/engine/pkg/checkpoint"
	"github.com/auditengine/engine/pkg/circuitbreaker"
	"github.com/auditengine/engine/pkg/config"
	"github.com/auditengine/engine/pkg/eventbus"
	"github.com/auditengine/engine/pkg/llm"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/orchestrator"
	"github.com/auditengine/engine/pkg/ports"
	"github.com/auditengine/engine/pkg/ratelimit"
	"github.com/auditengine/engine/pkg/tool"
	"github.com/auditengine/engine/pkg/tool/filetool"
	"github.com/auditengine/engine/pkg/tool/llmtool"
	"github.com/auditengine/engine/pkg/tool/orchtool"
	"github.com/auditengine/engine/pkg/tool/scantool"
	"github.com/auditengine/engine/pkg/tool/verifytool"
)

// Stores bundles the ports implementations the engine is constructed
// with; callers choose memstore for a single-node run or pgstore (+
// rediscache/blobstore) for a production deployment.
type Stores struct {
	Tasks       ports.TaskStore
	Findings    ports.FindingStore
	Events      ports.EventStore
	Checkpoints ports.CheckpointStore
	Cache       ports.Cache
	Clock       ports.Clock
	Logger      ports.Logger
}

// Engine owns one Registry snapshot's worth of wiring and the worker
// pool that drives tasks through it.
type Engine struct {
	cfg    *config.Registry
	stores Stores
	bus    *eventbus.Bus
	sem    *semaphore.Weighted
}

// New builds an Engine from a loaded config.Registry and a set of
// storage ports. It does not start any goroutines; call Run to drive
// tasks.
func New(cfg *config.Registry, stores Stores) *Engine {
	snap := cfg.SnapshotForTask(nil)
	return &Engine{
		cfg:    cfg,
		stores: stores,
		bus:    eventbus.New(stores.Events, stores.Clock),
		sem:    semaphore.NewWeighted(int64(snap.Resource.MaxConcurrentTasks)),
	}
}

// Bus exposes the shared event bus so an HTTP/SSE layer (cmd/auditengine's
// --sse-addr server) can Subscribe to a task's stream.
func (e *Engine) Bus() *eventbus.Bus { return e.bus }

// Run drives taskIDs to completion with bounded concurrency
// (resource.max_concurrent_tasks), returning once every task has
// reached a terminal phase or ctx is cancelled. Each task gets its own
// Orchestrator, checkpoint manager, rate limiter, and circuit breaker
// registry — none of that per-task state is shared across tasks,
// only the event bus and backing stores are.
func (e *Engine) Run(ctx context.Context, taskIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range taskIDs {
		taskID := id
		if err := e.sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer e.sem.Release(1)
			return e.runOne(gctx, taskID)
		})
	}
	return g.Wait()
}

func (e *Engine) runOne(ctx context.Context, taskID string) error {
	task, err := e.stores.Tasks.Load(ctx, taskID)
	if err != nil {
		return fmt.Errorf("engine: load task %s: %w", taskID, err)
	}

	lease, err := e.stores.Tasks.AcquireLock(ctx, taskID)
	if err != nil {
		if err == ports.ErrBusy {
			return nil
		}
		return fmt.Errorf("engine: acquire lock %s: %w", taskID, err)
	}
	defer e.stores.Tasks.ReleaseLock(ctx, lease)

	_ = e.stores.Tasks.UpdateStatus(ctx, taskID, model.StatusRunning)

	snap := e.cfg.SnapshotForTask(task.ConfigOverrides)
	orch, state, deadline, err := e.buildOrchestrator(ctx, task, snap)
	if err != nil {
		_ = e.stores.Tasks.UpdateStatus(ctx, taskID, model.StatusFailed)
		return err
	}

	// The persistence batcher and SSE heartbeat run for exactly as long
	// as the task does; the batcher's final flush happens before the
	// terminal status is written, so a consumer observing the status
	// change can rely on the durable event history being complete.
	streamCtx, stopStream := context.WithCancel(ctx)
	batcher := eventbus.NewBatcher(e.bus, e.stores.Events, eventbus.BatcherConfig{
		FlushInterval: time.Second,
		MaxBatch:      snap.Event.BatchSize,
	}, e.stores.Logger)
	drainEvents := batcher.Start(streamCtx, taskID)
	var streams sync.WaitGroup
	streams.Add(1)
	go func() {
		defer streams.Done()
		drainEvents()
	}()
	go e.bus.Heartbeat(streamCtx, taskID, time.Duration(snap.Event.SSEHeartbeatIntervalSeconds)*time.Second)

	runErr := orch.RunTask(ctx, taskID, state, deadline)
	stopStream()
	streams.Wait()

	status := model.StatusSucceeded
	if runErr != nil {
		status = model.StatusFailed
	}
	if ctx.Err() != nil {
		status = model.StatusCancelled
	}
	if err := e.stores.Tasks.UpdateStatus(ctx, taskID, status); err != nil && e.stores.Logger != nil {
		e.stores.Logger.Warn("failed to update task status", "task_id", taskID, "error", err)
	}
	return runErr
}

// buildOrchestrator wires one task's worth of machinery: rate limiter,
// circuit breaker registry, LLM pool (+ cache), tool registry and
// executor, agent builder, checkpoint manager, and finally the
// Orchestrator itself — then seeds the initial AuditState from the
// task row.
func (e *Engine) buildOrchestrator(ctx context.Context, task *model.Task, snap config.Config) (*orchestrator.Orchestrator, *model.AuditState, time.Time, error) {
	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	for name := range snap.Tool {
		limiter.Configure(name, snap.ToRateLimitRule(name))
	}

	breakers := circuitbreaker.NewRegistry(snap.ToCircuitSettings(), e.stores.Logger, nil)

	pools, primary, err := e.buildLLMPools(ctx, snap, limiter, breakers)
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	var gen llm.Generator = pools[0]
	if len(pools) > 1 {
		gen = llm.NewFallbackPool(pools...)
	}
	cached := llm.NewCachedPool(gen, e.stores.Cache, primary.Model, 10*time.Minute)

	sandbox := filetool.DefaultSandboxConfig(task.ProjectRef)
	sandbox.AllowedExtensions = snap.Security.AllowedFileExtensions
	if len(snap.Security.BlockedDirectories) > 0 {
		sandbox.BlockedDirs = snap.Security.BlockedDirectories
	}
	sandbox.MaxFileSize = snap.Resource.MaxFileSizeBytes
	if snap.Security.MaxPathDepth > 0 {
		sandbox.MaxPathDepth = snap.Security.MaxPathDepth
	}

	registry := tool.NewRegistry()
	registry.Register(filetool.NewListFilesTool(sandbox))
	registry.Register(filetool.NewReadFileTool(sandbox))
	registry.Register(filetool.NewSearchCodeTool(sandbox))
	registry.Register(scantool.NewPatternMatchTool(task.ProjectRef))
	registry.Register(scantool.NewDataflowAnalysisTool(task.ProjectRef))
	registry.Register(scantool.NewSemgrepTool(task.ProjectRef))
	registry.Register(scantool.NewBanditTool(task.ProjectRef))
	registry.Register(scantool.NewGitleaksTool(task.ProjectRef))
	registry.Register(scantool.NewKunlunTool(task.ProjectRef))
	registry.Register(scantool.NewNpmAuditTool(task.ProjectRef))
	registry.Register(scantool.NewSafetyCheckTool(task.ProjectRef))
	registry.Register(scantool.NewOSVScannerTool(task.ProjectRef))
	registry.Register(llmtool.NewThinkTool())
	registry.Register(llmtool.NewReflectTool(cached, "llm:reflect", 60*time.Second))
	registry.Register(llmtool.NewChatTool(cached, "llm:chat", 60*time.Second))
	registry.Register(orchtool.NewFinishTool())
	registry.Register(verifytool.NewSandboxExecuteTool(sandbox, 30*time.Second, snap.Resource.MaxToolOutputLength))
	registry.Register(verifytool.NewValidateVulnerabilityTool())

	toolConfigs := map[string]tool.Config{}
	for _, def := range registry.Definitions() {
		ts := snap.ToolSettings(def.Name)
		toolConfigs[def.Name] = tool.Config{
			Disabled:       !ts.IsEnabled(),
			Timeout:        time.Duration(ts.TimeoutSeconds) * time.Second,
			MaxRetries:     ts.MaxRetries,
			FallbackTool:   ts.FallbackTool,
			MaxOutputBytes: snap.Resource.MaxToolOutputLength,
		}
	}

	executor := tool.NewExecutor(registry, limiter, breakers, toolConfigs, e.bus, e.stores.Clock, e.stores.Logger)

	toolDefs := make([]llm.ToolDefinition, 0, len(registry.Definitions()))
	for _, def := range registry.Definitions() {
		toolDefs = append(toolDefs, llm.ToolDefinition{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}

	checkpointMgr := checkpoint.NewManager(checkpointConfigWithDefaults(snap), e.stores.Checkpoints, e.stores.Clock)
	cpAdapter := &checkpointAdapter{mgr: checkpointMgr}

	builder := agent.Builder{
		LLM:        cached,
		Executor:   executor,
		Tools:      toolDefs,
		Events:     e.bus,
		Checkpoint: cpAdapter,
		Clock:      e.stores.Clock,
	}

	phaseConfigs := map[model.Phase]agent.Config{
		model.PhaseRecon:        phaseAgentConfig(snap, "recon"),
		model.PhaseAnalysis:     phaseAgentConfig(snap, "analysis"),
		model.PhaseVerification: phaseAgentConfig(snap, "verification"),
		model.PhaseReport:       phaseAgentConfig(snap, "orchestrator"),
	}
	phaseTimeout := map[model.Phase]time.Duration{
		model.PhaseRecon:        time.Duration(snap.Agent["recon"].TimeoutSeconds) * time.Second,
		model.PhaseAnalysis:     time.Duration(snap.Agent["analysis"].TimeoutSeconds) * time.Second,
		model.PhaseVerification: time.Duration(snap.Agent["verification"].TimeoutSeconds) * time.Second,
		model.PhaseReport:       time.Duration(snap.Agent["orchestrator"].TimeoutSeconds) * time.Second,
	}

	orch := orchestrator.NewOrchestrator(orchestrator.Orchestrator{
		Builder:      builder,
		Checkpoint:   checkpointMgr,
		Events:       e.bus,
		Tasks:        e.stores.Tasks,
		Findings:     e.stores.Findings,
		Clock:        e.stores.Clock,
		Logger:       e.stores.Logger,
		PhaseConfigs: phaseConfigs,
		PhaseTimeout: phaseTimeout,
		Partial:      orchestrator.ContinueOnPartialResults(snap.Fallback.ContinueOnPartialResults),
	})
	cpAdapter.orch = orch

	state := &model.AuditState{
		ProjectRoot:        task.ProjectRef,
		CurrentPhase:       model.PhaseInit,
		MaxContextMessages: snap.Resource.MaxContextMessages,
		MaxTotalFindings:   snap.Resource.MaxTotalFindings,
		MaxIterations:      snap.Agent["orchestrator"].MaxIterations,
	}

	deadline := time.Now().Add(time.Duration(snap.Agent["orchestrator"].TimeoutSeconds) * time.Second)
	return orch, state, deadline, nil
}

func phaseAgentConfig(snap config.Config, phase string) agent.Config {
	pc := snap.Agent[phase]
	cfg := agent.Config{
		MaxIterations:         pc.MaxIterations,
		MaxContextMessages:    snap.Resource.MaxContextMessages,
		ContinueOnToolFailure: snap.Fallback.ContinueOnToolFailure,
	}
	if snap.Checkpoint.Enabled {
		cfg.CheckpointEveryN = snap.Checkpoint.IntervalIterations
	}
	return cfg
}

// buildLLMPools constructs one llm.Pool per configured provider, each
// with its own concurrency bound, rate-limit bucket, and circuit
// breaker key, in fallback priority order (the "default" entry first,
// the rest sorted by name). A provider whose client cannot be
// constructed is skipped with a warning so a misconfigured fallback
// never blocks the primary; zero constructible providers fails the
// task. It also returns the primary provider's resolved config, whose
// model name keys the response cache.
func (e *Engine) buildLLMPools(ctx context.Context, snap config.Config, limiter *ratelimit.Limiter, breakers *circuitbreaker.Registry) ([]*llm.Pool, config.LLMConfig, error) {
	names := providerOrder(snap)
	if len(names) == 0 {
		// No providers section: boot the stock anthropic client against
		// ANTHROPIC_API_KEY.
		snap.Providers = map[string]*config.LLMConfig{"default": {Provider: config.LLMProviderAnthropic}}
		names = []string{"default"}
	}

	var primary config.LLMConfig
	pools := make([]*llm.Pool, 0, len(names))
	for _, name := range names {
		pc := *snap.Providers[name]
		pc.SetDefaults()
		if len(pools) == 0 {
			primary = pc
		}
		provider, err := llm.New(ctx, pc)
		if err != nil {
			if e.stores.Logger != nil {
				e.stores.Logger.Warn("skipping llm provider", "name", name, "error", err)
			}
			continue
		}
		key := "llm:" + name
		limiter.Configure(key, ratelimit.Rule{
			Capacity:        int64(pc.MaxRequestsPerMinute),
			RefillPerSecond: float64(pc.MaxRequestsPerMinute) / 60.0,
		})
		pools = append(pools, llm.NewPool(provider, int64(pc.MaxConnections), limiter, breakers, key))
	}
	if len(pools) == 0 {
		return nil, primary, fmt.Errorf("engine: no usable llm providers configured")
	}
	return pools, primary, nil
}

// providerOrder returns the fallback priority of the configured
// provider entries: "default" first, then the rest sorted by name.
func providerOrder(snap config.Config) []string {
	names := make([]string, 0, len(snap.Providers))
	for name, c := range snap.Providers {
		if c != nil && name != "default" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if c, ok := snap.Providers["default"]; ok && c != nil {
		names = append([]string{"default"}, names...)
	}
	return names
}

func checkpointConfigWithDefaults(snap config.Config) *checkpoint.Config {
	cfg := snap.ToCheckpointConfig()
	cfg.SetDefaults()
	return cfg
}

// checkpointAdapter satisfies agent.CheckpointRequester: a sub-agent
// loop only knows taskID/phase/iteration, so RequestCheckpoint looks up
// the task's live AuditState through the orchestrator (set once the
// Orchestrator it belongs to is constructed) before asking Manager to
// persist it. The orchestrator's own phase-boundary checkpoints bypass
// this path entirely and call Manager.Save directly.
type checkpointAdapter struct {
	mgr  *checkpoint.Manager
	orch *orchestrator.Orchestrator
}

func (c *checkpointAdapter) RequestCheckpoint(ctx context.Context, taskID string, phase model.Phase, iteration int) {
	if !c.mgr.ShouldCheckpointAtIteration(iteration) || c.orch == nil {
		return
	}
	state := c.orch.CurrentState(taskID)
	if state == nil {
		return
	}
	allFindings := append(append(append([]model.Finding{}, state.OpenFindings...), state.VerifiedFindings...), state.FalsePositives...)
	_ = c.mgr.Save(ctx, taskID, model.TriggerIteration, *state, allFindings)
}
