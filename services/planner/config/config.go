// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the planner server configuration.
//
// Sources, lowest precedence first: built-in defaults, a YAML file, then
// environment variables. Watch re-reads the file when it changes so the
// server can apply settings that are safe to change live (log level).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvPort         = "PLANNER_PORT"
	EnvDataDir      = "PLANNER_DATA_DIR"
	EnvLogLevel     = "PLANNER_LOG_LEVEL"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Notify  NotifyConfig  `yaml:"notify"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port  int  `yaml:"port"`
	Debug bool `yaml:"debug"`
}

// StorageConfig configures the Badger database.
type StorageConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Dir, when set, receives a JSON log file alongside stderr.
	Dir string `yaml:"dir"`

	// JSON forces JSON on stderr even when it is a terminal.
	JSON bool `yaml:"json"`
}

// NotifyConfig configures the notification dispatcher.
type NotifyConfig struct {
	Workers       int     `yaml:"workers"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	// Exporter is none, otlp or stdout.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`
}

// MetricsConfig selects the otel metric exporter. The Prometheus
// collectors on /metrics are always on.
type MetricsConfig struct {
	// Exporter is none, prometheus or stdout.
	Exporter string `yaml:"exporter"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8090},
		Storage: StorageConfig{
			Path:       "./data/planner",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		Notify: NotifyConfig{
			Workers:       4,
			RatePerSecond: 50,
			Burst:         10,
		},
		Tracing: TracingConfig{
			Exporter: "none",
			Endpoint: "localhost:4317",
		},
		Metrics: MetricsConfig{Exporter: "prometheus"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.Storage.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		c.Tracing.Endpoint = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !c.Storage.InMemory && strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required unless storage.in_memory is set"))
	}
	if c.Storage.GCInterval < 0 {
		errs = append(errs, errors.New("storage.gc_interval cannot be negative"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Notify.Workers < 1 {
		errs = append(errs, errors.New("notify.workers must be at least 1"))
	}
	if c.Notify.RatePerSecond < 0 || c.Notify.Burst < 0 {
		errs = append(errs, errors.New("notify.rate_per_second and notify.burst cannot be negative"))
	}
	switch c.Tracing.Exporter {
	case "none", "otlp", "stdout":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q must be none, otlp or stdout", c.Tracing.Exporter))
	}
	if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required for the otlp exporter"))
	}
	switch c.Metrics.Exporter {
	case "none", "prometheus", "stdout":
	default:
		errs = append(errs, fmt.Errorf("metrics.exporter %q must be none, prometheus or stdout", c.Metrics.Exporter))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q must be debug, info, warn or error", s)
	}
}
