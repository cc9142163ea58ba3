// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	writeFile(t, path, `
server:
  port: 9000
storage:
  in_memory: true
  gc_interval: 1m
logging:
  level: debug
tracing:
  exporter: stdout
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, time.Minute, cfg.Storage.GCInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)
	// Untouched keys keep their defaults.
	assert.Equal(t, 4, cfg.Notify.Workers)
	assert.Equal(t, "prometheus", cfg.Metrics.Exporter)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "7070")
	t.Setenv(EnvDataDir, "/var/lib/planner")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvOTLPEndpoint, "collector:4317")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/var/lib/planner", cfg.Storage.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		writeFile(t, path, "server: [")
		_, err := Load(path)
		assert.Error(t, err)
	})
	t.Run("bad env port", func(t *testing.T) {
		t.Setenv(EnvPort, "http")
		_, err := Load("")
		assert.ErrorContains(t, err, EnvPort)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"in memory needs no path", func(c *Config) { c.Storage.Path = ""; c.Storage.InMemory = true }, ""},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"workers", func(c *Config) { c.Notify.Workers = 0 }, "notify.workers"},
		{"tracing exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, "tracing.exporter"},
		{"otlp endpoint", func(c *Config) { c.Tracing.Exporter = "otlp"; c.Tracing.Endpoint = "" }, "tracing.endpoint"},
		{"metrics exporter", func(c *Config) { c.Metrics.Exporter = "statsd" }, "metrics.exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	writeFile(t, path, "storage:\n  in_memory: true\nlogging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "storage:\n  in_memory: true\nlogging:\n  level: debug\n")

	select {
	case cfg := <-changes:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestWatch_InvalidFileKeepsWatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	writeFile(t, path, "storage:\n  in_memory: true\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Config, 4)
	go func() { _ = Watch(ctx, path, nil, func(c Config) { changes <- c }) }()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, "logging:\n  level: loud\n")
	select {
	case <-changes:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(500 * time.Millisecond):
	}

	writeFile(t, path, "storage:\n  in_memory: true\nlogging:\n  level: error\n")
	select {
	case cfg := <-changes:
		assert.Equal(t, "error", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
