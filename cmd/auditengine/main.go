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

// Command auditengine runs automated security/quality audits against a
// repository: a local checkout, a zip archive, or a git remote.
//
// Usage:
//
//	auditengine audit --project ./some/repo --config audit.yaml
//	auditengine audit --project https://github.com/acme/app.git --branch main
//	auditengine version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/auditengine/engine/pkg/config"
	"github.com/auditengine/engine/pkg/engine"
	"github.com/auditengine/engine/pkg/eventbus"
	"github.com/auditengine/engine/pkg/logger"
	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/observability"
	"github.com/auditengine/engine/pkg/ports"
	"github.com/auditengine/engine/pkg/ports/memstore"
	"github.com/auditengine/engine/pkg/repo"
	"github.com/auditengine/engine/pkg/report"
)

// CLI defines the command-line interface.
type CLI struct {
	Audit   AuditCmd   `cmd:"" help:"Run an audit against a project directory, zip archive, or git remote."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides the config file and LOG_LEVEL."`
	LogFormat string `help:"Log format (simple, verbose). Overrides the config file and LOG_FORMAT."`

	registry *config.Registry
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("auditengine version %s\n", version)
	return nil
}

// AuditCmd runs a single audit task to completion against an in-memory
// store, then prints its Markdown report to stdout. It is the one-shot
// entrypoint; a long-running deployment would instead submit tasks to a
// shared engine.Engine over pgstore/rediscache (out of scope here).
type AuditCmd struct {
	Project string `required:"" help:"Repository to audit: a local directory, a .zip archive, or a git remote URL."`
	Branch  string `help:"Branch to clone when --project is a git remote."`
	SSHKey  string `help:"Private deploy key for ssh git remotes." type:"path"`
	Output  string `help:"Write the Markdown report here instead of stdout." type:"path"`
	SSEAddr string `help:"If set, serve the task's live event stream as SSE on this address (e.g. :8090) while the audit runs."`
}

func (c *AuditCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	registry := cli.registry
	if cli.Config != "" {
		stopWatch, werr := registry.Watch(ctx, func(err error) {
			if err != nil {
				slog.Warn("config reload failed", "error", err)
				return
			}
			slog.Info("config reloaded", "path", cli.Config)
		})
		if werr != nil {
			return fmt.Errorf("watch config: %w", werr)
		}
		defer stopWatch()
	}

	obsCfg := registry.SnapshotForTask(nil).Observability
	obsMgr, err := observability.NewManager(ctx, &obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() { _ = obsMgr.Shutdown(context.Background()) }()
	if obsMgr.MetricsEnabled() {
		observability.SetGlobalMetrics(obsMgr.Metrics())
		go serveMetrics(obsMgr)
	}

	taskID := uuid.NewString()

	src, err := repo.Resolve(c.Project, repo.Options{Branch: c.Branch, SSHKeyPath: c.SSHKey})
	if err != nil {
		return fmt.Errorf("resolve project: %w", err)
	}
	workDir := filepath.Join(os.TempDir(), "auditengine", taskID)
	projectRoot, err := src.Acquire(ctx, workDir)
	if err != nil {
		return fmt.Errorf("acquire project: %w", err)
	}
	if src.Kind() != repo.KindLocal {
		slog.Info("acquired repository", "kind", string(src.Kind()), "root", projectRoot)
		defer os.RemoveAll(workDir)
	}

	store := memstore.New()
	store.Seed(&model.Task{
		ID:         taskID,
		ProjectRef: projectRoot,
		Status:     model.StatusPending,
		CreatedAt:  time.Now(),
	})

	eng := engine.New(registry, engine.Stores{
		Tasks:       store,
		Findings:    store,
		Events:      store,
		Checkpoints: store,
		Cache:       store,
		Clock:       ports.SystemClock{},
		Logger:      logger.NewAdapter(nil),
	})

	if c.SSEAddr != "" {
		srv := newSSEServer(c.SSEAddr, eng.Bus(), obsMgr)
		go func() {
			slog.Info("eventbus: serving SSE", "addr", c.SSEAddr, "task_id", taskID)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("sse server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := eng.Run(ctx, []string{taskID}); err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	task, err := store.Load(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load completed task: %w", err)
	}
	findings, err := store.ListForTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("list findings: %w", err)
	}

	doc := report.Render(task, findings)
	if c.Output == "" {
		fmt.Println(doc)
		return nil
	}
	return os.WriteFile(c.Output, []byte(doc), 0644)
}

// serveMetrics exposes the Prometheus handler on the configured endpoint
// for as long as the process runs; a production deployment would instead
// mount obsMgr.MetricsHandler() on its shared HTTP surface instead.
func serveMetrics(obsMgr *observability.Manager) {
	mux := http.NewServeMux()
	mux.Handle(obsMgr.MetricsEndpoint(), obsMgr.MetricsHandler())
	addr := ":9090"
	slog.Info("observability: serving metrics", "addr", addr, "path", obsMgr.MetricsEndpoint())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "error", err)
	}
}

// newSSEServer builds the one HTTP surface this core owns: a chi router
// serving the event bus's per-task SSE stream (pkg/eventbus/sse.go),
// wrapped in the tracing/metrics middleware so stream connections show up
// in the same observability pipeline as everything else.
func newSSEServer(addr string, bus *eventbus.Bus, obsMgr *observability.Manager) *http.Server {
	r := chi.NewRouter()
	r.Use(observability.HTTPMiddleware(obsMgr.Tracer(), obsMgr.Metrics()))
	bus.Routes(r)
	return &http.Server{Addr: addr, Handler: r}
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("auditengine"),
		kong.Description("Automated repository security and quality audits"),
		kong.UsageOnError(),
	)

	registry, err := config.Load(cli.Config)
	ctx.FatalIfErrorf(err)
	cli.registry = registry

	logCfg := registry.SnapshotForTask(nil).Logger
	logLevel := firstNonEmpty(cli.LogLevel, os.Getenv("LOG_LEVEL"), logCfg.Level)
	logFormat := firstNonEmpty(cli.LogFormat, os.Getenv("LOG_FORMAT"), logCfg.Format)
	logFile := firstNonEmpty(os.Getenv("LOG_FILE"), logCfg.File)

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	output := os.Stderr
	if logFile != "" {
		f, cleanup, ferr := logger.OpenLogFile(logFile)
		if ferr != nil {
			ctx.FatalIfErrorf(fmt.Errorf("open log file %s: %w", logFile, ferr))
		}
		defer cleanup()
		output = f
	}
	logger.Init(level, output, logFormat)

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

// firstNonEmpty returns the first non-empty value in the logger's
// documented priority order: CLI flag, environment variable, config file.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
