// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// DefaultQueryLimit caps Query results when the filter sets no limit.
const DefaultQueryLimit = 100

// ErrMissingField is returned by Log when a required field is empty.
var ErrMissingField = errors.New("audit event requires event type and user ID")

// AuditEvent records one change made by a user.
type AuditEvent struct {
	// EventType categorizes the event, e.g. "task.moved".
	EventType string `json:"event_type"`

	// Timestamp is when the change happened, in UTC.
	// If zero, implementations set it to time.Now().UTC().
	Timestamp time.Time `json:"timestamp"`

	// UserID identifies who made the change.
	UserID string `json:"user_id"`

	// Action is the verb: "create", "update", "move", "delete", ...
	Action string `json:"action"`

	// ResourceType is "task" or "dependency".
	ResourceType string `json:"resource_type"`

	// ResourceID is the changed entity, empty for batch changes.
	ResourceID string `json:"resource_id,omitempty"`

	// ProjectID scopes the change.
	ProjectID string `json:"project_id,omitempty"`

	// Outcome is OutcomeSuccess or OutcomeFailure.
	Outcome string `json:"outcome"`

	// Metadata holds event-specific details such as "request_id",
	// "trace_id" or "task_ids".
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects events in Query. Zero fields match everything.
type AuditFilter struct {
	EventTypes   []string
	UserID       string
	ProjectID    string
	ResourceType string
	ResourceID   string

	// StartTime is inclusive, EndTime exclusive.
	StartTime time.Time
	EndTime   time.Time

	// Limit caps the result. Zero means DefaultQueryLimit.
	Limit int

	// Offset skips that many matches (for pagination).
	Offset int
}

// AuditLogger records and retrieves audit events.
//
// Implementations must be safe for concurrent use and should return from
// Log quickly; it runs on the publishing goroutine.
type AuditLogger interface {
	// Log records one event. It sets Timestamp when zero and rejects events
	// without EventType or UserID.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists anything buffered. Call before shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Query always returns an empty slice.
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// MemoryAuditLogger keeps the most recent events in a bounded ring.
//
// Thread Safety: MemoryAuditLogger is safe for concurrent use.
type MemoryAuditLogger struct {
	mu       sync.RWMutex
	events   []AuditEvent
	next     int
	full     bool
	capacity int
	now      func() time.Time
}

// NewMemoryAuditLogger returns a logger holding at most capacity events.
// A non-positive capacity defaults to 10000.
func NewMemoryAuditLogger(capacity int) *MemoryAuditLogger {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryAuditLogger{
		events:   make([]AuditEvent, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Log stores event, evicting the oldest when full.
func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.EventType == "" || event.UserID == "" {
		return ErrMissingField
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = event
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	return nil
}

// Query returns matching events, newest first.
func (l *MemoryAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	count := l.next
	if l.full {
		count = l.capacity
	}
	out := []AuditEvent{}
	skipped := 0
	for i := 0; i < count && len(out) < limit; i++ {
		idx := (l.next - 1 - i + l.capacity) % l.capacity
		ev := l.events[idx]
		if !filter.matches(&ev) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Flush is a no-op; events live in memory only.
func (l *MemoryAuditLogger) Flush(ctx context.Context) error {
	return nil
}

func (f *AuditFilter) matches(ev *AuditEvent) bool {
	switch {
	case len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, ev.EventType):
		return false
	case f.UserID != "" && ev.UserID != f.UserID:
		return false
	case f.ProjectID != "" && ev.ProjectID != f.ProjectID:
		return false
	case f.ResourceType != "" && ev.ResourceType != f.ResourceType:
		return false
	case f.ResourceID != "" && ev.ResourceID != f.ResourceID:
		return false
	case !f.StartTime.IsZero() && ev.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && !ev.Timestamp.Before(f.EndTime):
		return false
	}
	return true
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
