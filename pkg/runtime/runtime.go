// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime assembles the directive execution stack: caches, queue,
// catalog, audit trail, telemetry and the interpreter. A process normally
// holds one Runtime, accessible through the GetExecutor singleton.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jllopis/dirigo/pkg/audit"
	"github.com/jllopis/dirigo/pkg/cache"
	"github.com/jllopis/dirigo/pkg/catalog"
	"github.com/jllopis/dirigo/pkg/config"
	"github.com/jllopis/dirigo/pkg/directive"
	"github.com/jllopis/dirigo/pkg/interpreter"
	"github.com/jllopis/dirigo/pkg/opqueue"
	"github.com/jllopis/dirigo/pkg/ops"
	"github.com/jllopis/dirigo/pkg/sandbox"
	"github.com/jllopis/dirigo/pkg/telemetry"
)

// Version is stamped into telemetry resources.
const Version = "0.1.0"

// defaultOpCacheTTL bounds implicitly cached operation results.
const defaultOpCacheTTL = 5 * time.Minute

// Runtime owns the long-lived pieces shared by directive executions.
type Runtime struct {
	cfg         *config.Config
	executor    *interpreter.Executor
	opCache     *cache.TTLCache
	promptCache *cache.TTLCache
	dirCache    *cache.TTLCache
	queue       *opqueue.Queue
	auditor     audit.Store
	db          *sql.DB
	logger      *slog.Logger
	metrics     *telemetry.ExecutionMetrics

	telemetryShutdown telemetry.ShutdownFunc
}

// CacheStats reports both cache snapshots.
type CacheStats struct {
	Operations cache.Stats `json:"operations"`
	Prompts    cache.Stats `json:"prompts"`
}

// New builds a runtime from configuration. A nil cfg loads defaults.
func New(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		loaded, err := config.Load("")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	r := &Runtime{
		cfg:         cfg,
		opCache:     cache.NewTTL(defaultOpCacheTTL),
		promptCache: cache.NewTTL(cfg.Prompts.TTL()),
		dirCache:    cache.NewTTL(defaultOpCacheTTL),
		logger:      logger,
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitWithConfig("dirigo", Version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.Endpoint,
			OTLPInsecure: true,
		})
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		r.telemetryShutdown = shutdown
	}

	metrics, err := telemetry.NewExecutionMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	r.metrics = metrics

	queue, err := opqueue.New(
		opqueue.WithMaxConcurrency(cfg.Queue.MaxConcurrency),
		opqueue.WithMaxQueueSize(cfg.Queue.MaxQueueSize),
		opqueue.WithTaskTimeout(cfg.Queue.TaskTimeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("init queue: %w", err)
	}
	r.queue = queue

	var cat catalog.Catalog
	if cfg.Catalog.Path != "" {
		dirCat, err := catalog.LoadDir(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		cat = dirCat
	} else {
		cat = &catalog.Static{}
	}

	if cfg.Audit.Enabled {
		switch cfg.Audit.Driver {
		case "sqlite":
			db, err := sql.Open("sqlite", cfg.Audit.DSN)
			if err != nil {
				return nil, fmt.Errorf("open audit db: %w", err)
			}
			store, err := audit.NewSQLiteStore(db)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("init audit store: %w", err)
			}
			r.db = db
			r.auditor = store
		default:
			r.auditor = audit.NewMemoryStore()
		}
	}

	env := &ops.Env{
		Catalog:        cat,
		OpCache:        r.opCache,
		Queue:          queue,
		PromptCacheTTL: cfg.Prompts.TTL(),
	}
	if cfg.Prompts.CacheEnabled {
		env.PromptCache = r.promptCache
	}

	execOpts := []interpreter.Option{
		interpreter.WithLimits(cfg.Sandbox.Limits()),
		interpreter.WithLogger(logger),
		interpreter.WithDirectiveCache(r.dirCache, defaultOpCacheTTL),
		interpreter.WithMetrics(metrics),
	}
	if r.auditor != nil {
		execOpts = append(execOpts, interpreter.WithAudit(r.auditor))
	}
	r.executor = interpreter.New(env, execOpts...)

	logger.Info("runtime ready",
		slog.String("mode", cfg.Mode),
		slog.Int("queue_concurrency", cfg.Queue.MaxConcurrency))
	return r, nil
}

// ExecuteDirective runs one directive against projectPath.
func (r *Runtime) ExecuteDirective(ctx context.Context, d *directive.Directive, projectPath string) sandbox.ExecutionResult {
	result := r.executor.Execute(ctx, d, projectPath)
	r.metrics.RecordQueueDepth(ctx, int64(r.queue.Stats().QueueLength))
	return result
}

// Config returns the runtime configuration.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// ApplyConfig applies the reloadable subset of a new configuration to the
// running runtime. Only sandbox limits take effect without a restart; queue
// sizing, catalog path and audit wiring are fixed at construction.
func (r *Runtime) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	limits := cfg.Sandbox.Limits()
	r.executor.SetLimits(limits)
	r.logger.Info("configuration applied",
		slog.Duration("sandbox_timeout", limits.Timeout),
		slog.Int64("fs_operations_limit", limits.FSOperationsLimit))
}

// Audit returns the configured audit store, or nil when auditing is off.
func (r *Runtime) Audit() audit.Store {
	return r.auditor
}

// QueueStats returns the operation queue snapshot.
func (r *Runtime) QueueStats() opqueue.QueueStats {
	return r.queue.Stats()
}

// CacheStats returns snapshots of the operation and prompt caches.
func (r *Runtime) CacheStats() CacheStats {
	return CacheStats{
		Operations: r.opCache.Stats(),
		Prompts:    r.promptCache.Stats(),
	}
}

// ClearCaches empties all caches, including the full-directive cache.
func (r *Runtime) ClearCaches() {
	r.opCache.Purge()
	r.promptCache.Purge()
	r.dirCache.Purge()
}

// Close drains the queue and releases held resources. Safe to call once.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := r.queue.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.telemetryShutdown != nil {
		if err := r.telemetryShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("runtime close errors: %v", errs)
	}
	return nil
}

var (
	singletonMu sync.Mutex
	singleton   *Runtime
)

// GetExecutor returns the process-wide runtime, creating it on first call.
// Configuration is honored only by the call that creates the singleton;
// later calls before a reset ignore new config.
func GetExecutor(cfg *config.Config) (*Runtime, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return singleton, nil
	}
	r, err := New(cfg)
	if err != nil {
		return nil, err
	}
	singleton = r
	return singleton, nil
}

// ResetExecutor closes and discards the singleton so the next GetExecutor
// call builds a fresh runtime. Intended for tests and reconfiguration.
func ResetExecutor() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := singleton.Close(ctx); err != nil {
			slog.Default().Warn("runtime close on reset", slog.String("error", err.Error()))
		}
		singleton = nil
	}
}
