// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads runtime configuration merged over defaults, then an
// optional YAML file, then DIRIGO_ environment variables. Overrides are
// nested-partial: setting sandbox.timeout does not erase unrelated prompts
// or fallback defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/dirigo/pkg/sandbox"
)

// Execution modes.
const (
	ModeDirective = "directive"
	ModeHybrid    = "hybrid"
	ModeLegacy    = "legacy"
	ModeFallback  = "fallback"
)

type Config struct {
	Mode      string          `koanf:"mode"`
	Log       LogConfig       `koanf:"log"`
	Sandbox   SandboxConfig   `koanf:"sandbox"`
	Prompts   PromptsConfig   `koanf:"prompts"`
	Fallback  FallbackConfig  `koanf:"fallback"`
	Queue     QueueConfig     `koanf:"queue"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Audit     AuditConfig     `koanf:"audit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type SandboxConfig struct {
	Enabled           bool  `koanf:"enabled"`
	Timeout           int   `koanf:"timeout"` // milliseconds
	MemoryLimit       int64 `koanf:"memory_limit"`
	FSOperationsLimit int64 `koanf:"fs_operations_limit"`
	NetworkAllowed    bool  `koanf:"network_allowed"`
}

type PromptsConfig struct {
	LazyLoading  bool `koanf:"lazy_loading"`
	CacheEnabled bool `koanf:"cache_enabled"`
	CacheTTL     int  `koanf:"cache_ttl"` // seconds
}

type FallbackConfig struct {
	Enabled    bool   `koanf:"enabled"`
	APIKey     string `koanf:"api_key"`
	Model      string `koanf:"model"`
	MaxRetries int    `koanf:"max_retries"`
}

type QueueConfig struct {
	MaxConcurrency   int `koanf:"max_concurrency"`
	MaxQueueSize     int `koanf:"max_queue_size"`
	OperationTimeout int `koanf:"operation_timeout"` // milliseconds
}

type CatalogConfig struct {
	Path string `koanf:"path"`
}

type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Driver  string `koanf:"driver"` // memory, sqlite
	DSN     string `koanf:"dsn"`
}

type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Exporter string `koanf:"exporter"` // stdout, otlp
	Endpoint string `koanf:"endpoint"`
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("mode", ModeDirective)
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("sandbox.enabled", true)
	k.Set("sandbox.timeout", 30_000)
	k.Set("sandbox.memory_limit", int64(256*1024*1024))
	k.Set("sandbox.fs_operations_limit", int64(1000))
	k.Set("sandbox.network_allowed", false)

	k.Set("prompts.lazy_loading", true)
	k.Set("prompts.cache_enabled", true)
	k.Set("prompts.cache_ttl", 300)

	k.Set("fallback.enabled", false)
	k.Set("fallback.max_retries", 2)

	k.Set("queue.max_concurrency", 4)
	k.Set("queue.max_queue_size", 64)
	k.Set("queue.operation_timeout", 30_000)

	k.Set("catalog.path", "")

	k.Set("audit.enabled", false)
	k.Set("audit.driver", "memory")

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (DIRIGO_SANDBOX_MEMORY_LIMIT -> sandbox.memory_limit).
	// Only the first underscore becomes a separator so multi-word keys
	// survive the mapping.
	if err := k.Load(env.Provider("DIRIGO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "DIRIGO_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDirective, ModeHybrid, ModeLegacy, ModeFallback:
	default:
		return fmt.Errorf("unknown execution mode %q", c.Mode)
	}
	switch c.Audit.Driver {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown audit driver %q", c.Audit.Driver)
	}
	switch c.Telemetry.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown telemetry exporter %q", c.Telemetry.Exporter)
	}
	return nil
}

// Limits converts the sandbox section into execution limits.
func (c SandboxConfig) Limits() sandbox.Limits {
	return sandbox.Limits{
		Timeout:           time.Duration(c.Timeout) * time.Millisecond,
		MemoryLimitBytes:  c.MemoryLimit,
		FSOperationsLimit: c.FSOperationsLimit,
		NetworkAllowed:    c.NetworkAllowed,
	}
}

// TaskTimeout returns the per-task timeout for the operation queue.
func (c QueueConfig) TaskTimeout() time.Duration {
	return time.Duration(c.OperationTimeout) * time.Millisecond
}

// TTL returns the prompt cache TTL.
func (c PromptsConfig) TTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}
