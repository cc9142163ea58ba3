// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner is the HTTP service in front of the task hierarchy and
// dependency graph managers.
//
// The managers own every invariant; this package wires them together,
// binds requests, resolves the actor and maps coded errors to HTTP
// responses.
package planner

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianPlanner/pkg/extensions"
	"github.com/AleutianAI/AleutianPlanner/services/planner/deps"
	"github.com/AleutianAI/AleutianPlanner/services/planner/events"
	"github.com/AleutianAI/AleutianPlanner/services/planner/graph"
	"github.com/AleutianAI/AleutianPlanner/services/planner/ids"
	"github.com/AleutianAI/AleutianPlanner/services/planner/notify"
	"github.com/AleutianAI/AleutianPlanner/services/planner/observability"
	pbadger "github.com/AleutianAI/AleutianPlanner/services/planner/storage/badger"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
	"github.com/AleutianAI/AleutianPlanner/services/planner/tasks"
	"github.com/AleutianAI/AleutianPlanner/services/planner/workflow"
)

// ServiceVersion is the planner service version.
const ServiceVersion = "0.1.0"

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Notifier receives notifications. Default: a LogNotifier on Logger.
	Notifier notify.Notifier

	// NotifyWorkers bounds concurrent notification deliveries.
	NotifyWorkers int

	// NotifyRate and NotifyBurst throttle deliveries. Zero rate disables
	// throttling.
	NotifyRate  float64
	NotifyBurst int

	// EventBuffer is how many recent events the emitter keeps.
	EventBuffer int

	// Metrics records operation outcomes. Nil disables metrics.
	Metrics *observability.Metrics

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger

	// Extensions carries injectable hooks. A nil AuditLogger falls back
	// to extensions.DefaultOptions.
	Extensions extensions.ServiceOptions
}

// DefaultServiceConfig returns the configuration used by tests and by the
// server when nothing is overridden.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NotifyWorkers: 4,
		NotifyRate:    50,
		NotifyBurst:   10,
		EventBuffer:   1000,
	}
}

// Service holds the wired planner components.
type Service struct {
	Store      *store.Store
	Tasks      *tasks.Manager
	Catalog    *tasks.Catalog
	Deps       *deps.Manager
	Emitter    *events.Emitter
	Dispatcher *notify.Dispatcher
	Metrics    *observability.Metrics
	Audit      extensions.AuditLogger

	logger *slog.Logger
}

// NewService wires the managers over db.
func NewService(db *pbadger.DB, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{Logger: logger.With("component", "notify")}
	}

	st := store.New(db)
	gen := ids.NewGenerator()
	metrics := cfg.Metrics

	checker := graph.NewChecker(func(kind graph.Kind, visited int, cycle bool) {
		metrics.ObserveCycleCheck(kind.String(), visited, cycle)
	})
	emitter := events.NewEmitter(
		events.WithBufferSize(cfg.EventBuffer),
		events.WithLogger(logger.With("component", "events")),
		events.WithMetrics(metrics),
	)
	dispatcherOpts := []notify.Option{
		notify.WithLogger(logger.With("component", "notify")),
		notify.WithMetrics(metrics),
		notify.WithWorkers(cfg.NotifyWorkers),
	}
	if cfg.NotifyRate > 0 {
		dispatcherOpts = append(dispatcherOpts, notify.WithRate(cfg.NotifyRate, cfg.NotifyBurst))
	}
	dispatcher := notify.NewDispatcher(notifier, dispatcherOpts...)

	audit := cfg.Extensions.AuditLogger
	if audit == nil {
		audit = extensions.DefaultOptions().AuditLogger
	}
	subscribeAudit(emitter, audit, logger.With("component", "audit"))

	taskOpts := []tasks.Option{
		tasks.WithChecker(checker),
		tasks.WithRecorder(workflow.NewRecorder(gen)),
		tasks.WithDispatcher(dispatcher),
		tasks.WithPublisher(emitter),
		tasks.WithMetrics(metrics),
		tasks.WithIDs(gen),
		tasks.WithLogger(logger.With("component", "tasks")),
	}

	return &Service{
		Store:   st,
		Tasks:   tasks.NewManager(st, taskOpts...),
		Catalog: tasks.NewCatalog(st, taskOpts...),
		Deps: deps.NewManager(st,
			deps.WithChecker(checker),
			deps.WithPublisher(emitter),
			deps.WithMetrics(metrics),
			deps.WithIDs(gen),
			deps.WithLogger(logger.With("component", "deps")),
		),
		Emitter:    emitter,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Audit:      audit,
		logger:     logger,
	}
}

// Close waits for in-flight notification batches and flushes the audit
// logger. The database is owned by the caller.
func (s *Service) Close() {
	s.Dispatcher.Wait()
	if err := s.Audit.Flush(context.Background()); err != nil {
		s.logger.Warn("audit flush failed", slog.String("error", err.Error()))
	}
}
