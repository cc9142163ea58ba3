// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianPlanner/pkg/extensions"
	"github.com/AleutianAI/AleutianPlanner/pkg/logging"
	"github.com/AleutianAI/AleutianPlanner/pkg/ux"
	"github.com/AleutianAI/AleutianPlanner/services/planner"
	"github.com/AleutianAI/AleutianPlanner/services/planner/config"
	"github.com/AleutianAI/AleutianPlanner/services/planner/observability"
	pbadger "github.com/AleutianAI/AleutianPlanner/services/planner/storage/badger"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if ephemeral {
		cfg.Storage.InMemory = true
	}
	if debugFlag {
		cfg.Server.Debug = true
	}

	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "planner",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	log := logger.Slog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Init(ctx, observability.TelemetryConfig{
		ServiceName:    "planner",
		ServiceVersion: planner.ServiceVersion,
		TraceExporter:  cfg.Tracing.Exporter,
		MetricExporter: cfg.Metrics.Exporter,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Registerer:     prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	dbCfg := pbadger.DefaultConfig()
	dbCfg.Path = cfg.Storage.Path
	dbCfg.InMemory = cfg.Storage.InMemory
	dbCfg.SyncWrites = cfg.Storage.SyncWrites
	dbCfg.GCInterval = cfg.Storage.GCInterval
	dbCfg.Logger = log.With("component", "badger")
	db, err := pbadger.OpenDB(dbCfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing storage failed", slog.String("error", err.Error()))
		}
	}()

	metrics := observability.Default()
	svcCfg := planner.DefaultServiceConfig()
	svcCfg.NotifyWorkers = cfg.Notify.Workers
	svcCfg.NotifyRate = cfg.Notify.RatePerSecond
	svcCfg.NotifyBurst = cfg.Notify.Burst
	svcCfg.Metrics = metrics
	svcCfg.Logger = log
	svcCfg.Extensions = extensions.DefaultOptions().WithAudit(extensions.NewMemoryAuditLogger(0))
	svc := planner.NewService(db, svcCfg)
	defer svc.Close()

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("planner"))
	router.Use(metrics.GinMiddleware())
	if cfg.Server.Debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	planner.RegisterRoutes(&router.RouterGroup, planner.NewHandlers(svc))

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, log, func(next config.Config) {
				lvl, err := config.ParseLevel(next.Logging.Level)
				if err != nil {
					return
				}
				if lvl != logger.Level() {
					logger.SetLevel(lvl)
					log.Info("log level changed", slog.String("level", lvl.String()))
				}
			})
			if err != nil {
				log.Warn("config watcher not started", slog.String("error", err.Error()))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if banner := ux.NewPrinter(os.Stderr, ux.DetectLevel(os.Stderr)); banner.Level() != ux.LevelMachine {
		banner.Box("Planner "+planner.ServiceVersion, serveSummary(cfg))
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("planner listening",
			slog.Int("port", cfg.Server.Port),
			slog.String("version", planner.ServiceVersion),
			slog.Bool("in_memory", cfg.Storage.InMemory),
			slog.String("data_dir", cfg.Storage.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func serveSummary(cfg config.Config) string {
	data := cfg.Storage.Path
	if cfg.Storage.InMemory {
		data = "in-memory"
	}
	return fmt.Sprintf("API      http://localhost:%d/v1\nEvents   ws://localhost:%d/v1/events/ws\nMetrics  http://localhost:%d/metrics\nData     %s",
		cfg.Server.Port, cfg.Server.Port, cfg.Server.Port, data)
}
