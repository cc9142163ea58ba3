// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics, tracing bootstrap and
// trace-aware logging for the planner.
//
// # Description
//
// Prometheus metrics cover:
//   - Mutation outcomes by operation and error code
//   - Cycle check walk sizes by graph kind
//   - Notification delivery outcomes
//   - Domain events emitted and websocket subscribers
//   - HTTP request latency by route
//
// Operation latency is additionally recorded through the OpenTelemetry
// metric API so it reaches whichever meter provider Init installs.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Metrics method is safe on a nil receiver.
package observability

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for planner metrics
const plannerSubsystem = "planner"

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeDropped = "dropped"
)

// Metrics holds the planner's Prometheus collectors.
//
// # Fields
//
//   - OperationsTotal: mutations and reads by operation and outcome
//   - RejectionsTotal: failed operations by operation and error code
//   - CycleCheckVisited: nodes touched per cycle check, by kind
//   - CycleChecksTotal: cycle checks by kind and verdict
//   - NotificationsTotal: notification attempts by kind and outcome
//   - EventsTotal: domain events emitted by type
//   - HTTPRequestDuration: request latency by method, route and status
//   - WebsocketClients: connected event stream subscribers
type Metrics struct {
	OperationsTotal     *prometheus.CounterVec
	RejectionsTotal     *prometheus.CounterVec
	CycleCheckVisited   *prometheus.HistogramVec
	CycleChecksTotal    *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	EventsTotal         *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	WebsocketClients    prometheus.Gauge

	opDuration otelmetric.Float64Histogram
}

// NewMetrics creates and registers all collectors on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Tests pass prometheus.NewRegistry().
//
// # Limitations
//
//   - Panics if the same collectors are registered on reg twice.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: plannerSubsystem,
				Name:      "operations_total",
				Help:      "Planner operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		RejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: plannerSubsystem,
				Name:      "rejections_total",
				Help:      "Failed planner operations by operation and error code",
			},
			[]string{"operation", "code"},
		),

		CycleCheckVisited: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: plannerSubsystem,
				Name:      "cycle_check_visited_nodes",
				Help:      "Distinct nodes visited per cycle check",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000, 5000},
			},
			[]string{"kind"},
		),

		CycleChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: plannerSubsystem,
				Name:      "cycle_checks_total",
				Help:      "Cycle checks by graph kind and verdict",
			},
			[]string{"kind", "cycle"},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: plannerSubsystem,
				Name:      "notifications_total",
				Help:      "Notification attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: plannerSubsystem,
				Name:      "events_total",
				Help:      "Domain events emitted by type",
			},
			[]string{"type"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: plannerSubsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method, route and status",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),

		WebsocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: plannerSubsystem,
				Name:      "websocket_clients",
				Help:      "Connected event stream subscribers",
			},
		),
	}

	hist, err := otel.Meter("aleutian.planner").Float64Histogram(
		"planner.operation.duration",
		otelmetric.WithDescription("Planner operation latency"),
		otelmetric.WithUnit("s"),
	)
	if err == nil {
		m.opDuration = hist
	}
	return m
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the process-wide Metrics registered on the default
// Prometheus registry.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// RecordOperation counts one finished operation. A coded error is counted
// under its code; any other error under INTERNAL_ERROR.
//
// # Inputs
//
//   - ctx: Used for the OpenTelemetry histogram record.
//   - operation: Stable name, e.g. "task.move".
//   - start: When the operation began.
//   - err: The operation's result.
func (m *Metrics) RecordOperation(ctx context.Context, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
		code := string(model.CodeOf(err))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			code = "CANCELLED"
		}
		m.RejectionsTotal.WithLabelValues(operation, code).Inc()
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()

	if m.opDuration != nil {
		m.opDuration.Record(ctx, time.Since(start).Seconds(),
			otelmetric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("outcome", outcome),
			),
		)
	}
}

// ObserveCycleCheck records one cycle check walk.
func (m *Metrics) ObserveCycleCheck(kind string, visited int, cycle bool) {
	if m == nil {
		return
	}
	m.CycleCheckVisited.WithLabelValues(kind).Observe(float64(visited))
	m.CycleChecksTotal.WithLabelValues(kind, strconv.FormatBool(cycle)).Inc()
}

// RecordNotification counts one notification attempt.
func (m *Metrics) RecordNotification(kind, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordEvent counts one emitted domain event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

// WebsocketConnected increments the subscriber gauge.
func (m *Metrics) WebsocketConnected() {
	if m == nil {
		return
	}
	m.WebsocketClients.Inc()
}

// WebsocketDisconnected decrements the subscriber gauge.
func (m *Metrics) WebsocketDisconnected() {
	if m == nil {
		return
	}
	m.WebsocketClients.Dec()
}

// GinMiddleware records request latency labelled by the matched route
// template, so /v1/tasks/:id is one series regardless of ID.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
