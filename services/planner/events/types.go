// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events carries domain events out of the planner managers.
//
// Events are published only after the mutating transaction commits, so a
// subscriber never observes a change that was rolled back. Delivery to
// subscribers is synchronous and best-effort; the websocket stream in
// stream.go drops clients that cannot keep up.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeTaskCreated is emitted after a task is created.
	TypeTaskCreated Type = "task.created"

	// TypeTaskUpdated is emitted after a partial task update.
	TypeTaskUpdated Type = "task.updated"

	// TypeTaskMoved is emitted after a task is re-parented.
	TypeTaskMoved Type = "task.moved"

	// TypeTaskBulkUpdated is emitted once per bulk update, carrying every
	// affected task ID.
	TypeTaskBulkUpdated Type = "task.bulk_updated"

	// TypeTaskDeleted is emitted after a soft delete.
	TypeTaskDeleted Type = "task.deleted"

	// TypeTaskAssigneesChanged is emitted after the assignee set is replaced.
	TypeTaskAssigneesChanged Type = "task.assignees_changed"

	// TypeDependencyCreated is emitted after an edge is inserted.
	TypeDependencyCreated Type = "dependency.created"

	// TypeDependencyUpdated is emitted after an edge's type or lag changes.
	TypeDependencyUpdated Type = "dependency.updated"

	// TypeDependencyDeleted is emitted after an edge is removed.
	TypeDependencyDeleted Type = "dependency.deleted"
)

// Event is one domain event.
//
// Thread Safety:
//
//	Event structs should be treated as immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// ProjectID scopes the event, empty when not project-bound.
	ProjectID string `json:"project_id,omitempty"`

	// Actor is the user whose request caused the event.
	Actor string `json:"actor"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Data is one of the typed data structs below.
	Data any `json:"data,omitempty"`

	// Metadata contains trace and request context.
	Metadata *EventMetadata `json:"metadata,omitempty"`
}

// EventMetadata contains typed additional context for events.
type EventMetadata struct {
	// TraceID links the event to a distributed trace.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID links the event to a specific span.
	SpanID string `json:"span_id,omitempty"`

	// RequestID is the HTTP request that caused the event.
	RequestID string `json:"request_id,omitempty"`
}

// Publisher accepts events from managers. Emitter and MockEmitter
// implement it.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// TaskData is the data for task.created and task.updated.
type TaskData struct {
	Task *model.TaskDetail `json:"task"`

	// Fields lists the JSON names of the fields an update touched.
	Fields []string `json:"fields,omitempty"`
}

// TaskMovedData is the data for task.moved.
type TaskMovedData struct {
	TaskID       string  `json:"task_id"`
	FromParentID *string `json:"from_parent_id"`
	ToParentID   *string `json:"to_parent_id"`
	Position     int     `json:"position"`
}

// TaskBulkUpdatedData is the data for task.bulk_updated.
type TaskBulkUpdatedData struct {
	TaskIDs []string `json:"task_ids"`
	Fields  []string `json:"fields"`
}

// TaskDeletedData is the data for task.deleted.
type TaskDeletedData struct {
	TaskID string `json:"task_id"`
}

// AssigneesChangedData is the data for task.assignees_changed.
type AssigneesChangedData struct {
	TaskID  string   `json:"task_id"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// DependencyData is the data for dependency.created, dependency.updated
// and dependency.deleted.
type DependencyData struct {
	Edge model.DependencyEdge `json:"edge"`
}
