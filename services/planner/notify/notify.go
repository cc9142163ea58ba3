// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify fans out user notifications after a mutation commits.
//
// # Description
//
// Delivery is best-effort. A failed or slow Notifier never changes the
// result of the mutation that triggered it: the Dispatcher runs after the
// transaction has committed, logs failures at Warn and moves on.
//
// # Thread Safety
//
// Dispatcher, LogNotifier and MemoryNotifier are safe for concurrent use.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianPlanner/services/planner/observability"
)

// Kind classifies a notification.
type Kind string

const (
	// KindTaskAssigned tells a user they were added to a task.
	KindTaskAssigned Kind = "TASK_ASSIGNED"
	// KindStatusChange tells an assignee a task moved to another stage.
	KindStatusChange Kind = "STATUS_CHANGE"
)

// Reference entity types.
const (
	RefTask = "task"
)

// Notifier delivers one notification to one user.
type Notifier interface {
	Notify(ctx context.Context, recipientUserID string, kind Kind, title, refEntityType, refEntityID string) error
}

// Message is one pending notification.
type Message struct {
	Recipient     string
	Kind          Kind
	Title         string
	RefEntityType string
	RefEntityID   string
}

// ForRecipients builds one message per distinct recipient, skipping empty
// IDs and the acting user.
func ForRecipients(recipients []string, actor string, kind Kind, title, refEntityType, refEntityID string) []Message {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]Message, 0, len(recipients))
	for _, r := range recipients {
		if r == "" || r == actor {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, Message{
			Recipient:     r,
			Kind:          kind,
			Title:         title,
			RefEntityType: refEntityType,
			RefEntityID:   refEntityID,
		})
	}
	return out
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher delivers messages asynchronously with bounded concurrency and
// a global rate limit.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
	limiter  *rate.Limiter
	workers  int
	timeout  time.Duration

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithWorkers bounds concurrent Notify calls per batch. Default: 4.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRate limits Notify calls across all batches. perSecond <= 0 disables
// the limit.
func WithRate(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTimeout bounds one batch. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// NewDispatcher returns a Dispatcher delivering through n.
func NewDispatcher(n Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier: n,
		logger:   slog.Default(),
		workers:  4,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers msgs in the background and returns immediately.
//
// The batch keeps the values of ctx (trace, request id) but not its
// cancellation, so a finished HTTP request does not abort delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []Message) {
	if d == nil || d.notifier == nil || len(msgs) == 0 {
		return
	}
	batch := append([]Message(nil), msgs...)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.deliver(bctx, batch)
	}()
}

// deliver sends a batch and waits for it. Errors are logged, never
// returned.
func (d *Dispatcher) deliver(ctx context.Context, msgs []Message) {
	logger := observability.LoggerWithTrace(ctx, d.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, msg := range msgs {
		g.Go(func() error {
			if d.limiter != nil {
				if err := d.limiter.Wait(gctx); err != nil {
					d.metrics.RecordNotification(string(msg.Kind), observability.OutcomeDropped)
					logger.Warn("notification dropped",
						slog.String("recipient", msg.Recipient),
						slog.String("kind", string(msg.Kind)),
						slog.String("error", err.Error()))
					return nil
				}
			}
			err := d.notify(gctx, msg)
			if err != nil {
				d.metrics.RecordNotification(string(msg.Kind), observability.OutcomeError)
				logger.Warn("notification failed",
					slog.String("recipient", msg.Recipient),
					slog.String("kind", string(msg.Kind)),
					slog.String("ref_id", msg.RefEntityID),
					slog.String("error", err.Error()))
				return nil
			}
			d.metrics.RecordNotification(string(msg.Kind), observability.OutcomeOK)
			return nil
		})
	}
	_ = g.Wait()
}

// notify calls the notifier and reports a panic as an error.
func (d *Dispatcher) notify(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return d.notifier.Notify(ctx, msg.Recipient, msg.Kind, msg.Title, msg.RefEntityType, msg.RefEntityID)
}

// Wait blocks until every dispatched batch has finished. Used at shutdown
// and by tests.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// =============================================================================
// Notifiers
// =============================================================================

// LogNotifier writes notifications to a logger. It is the default
// collaborator when no delivery backend is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, recipientUserID string, kind Kind, title, refEntityType, refEntityID string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		slog.String("recipient", recipientUserID),
		slog.String("kind", string(kind)),
		slog.String("title", title),
		slog.String("ref_type", refEntityType),
		slog.String("ref_id", refEntityID))
	return nil
}

// MemoryNotifier records every call. Err, when set, is returned from every
// Notify after recording.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

// Notify implements Notifier.
func (n *MemoryNotifier) Notify(_ context.Context, recipientUserID string, kind Kind, title, refEntityType, refEntityID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Message{
		Recipient:     recipientUserID,
		Kind:          kind,
		Title:         title,
		RefEntityType: refEntityType,
		RefEntityID:   refEntityID,
	})
	return n.Err
}

// Sent returns a copy of the recorded messages.
func (n *MemoryNotifier) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.sent...)
}

// Reset clears the recorded messages.
func (n *MemoryNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}
