// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianPlanner/pkg/extensions"
	"github.com/AleutianAI/AleutianPlanner/services/planner/events"
)

// subscribeAudit records every committed domain event with the audit
// logger. Audit failures are logged and never surface to the caller.
func subscribeAudit(emitter *events.Emitter, audit extensions.AuditLogger, logger *slog.Logger) string {
	return emitter.Subscribe(func(ev *events.Event) {
		if err := audit.Log(context.Background(), auditEventFrom(ev)); err != nil {
			logger.Warn("audit log failed",
				slog.String("event_type", string(ev.Type)),
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()))
		}
	})
}

// auditEventFrom flattens a domain event into an audit record. The event
// type "task.deleted" becomes resource type "task" and action "deleted".
func auditEventFrom(ev *events.Event) extensions.AuditEvent {
	resourceType, action, _ := strings.Cut(string(ev.Type), ".")
	out := extensions.AuditEvent{
		EventType:    string(ev.Type),
		Timestamp:    ev.Timestamp,
		UserID:       ev.Actor,
		Action:       action,
		ResourceType: resourceType,
		ProjectID:    ev.ProjectID,
		Outcome:      extensions.OutcomeSuccess,
		Metadata:     map[string]any{"event_id": ev.ID},
	}
	if ev.Metadata != nil {
		if ev.Metadata.RequestID != "" {
			out.Metadata["request_id"] = ev.Metadata.RequestID
		}
		if ev.Metadata.TraceID != "" {
			out.Metadata["trace_id"] = ev.Metadata.TraceID
		}
	}

	switch d := ev.Data.(type) {
	case events.TaskData:
		if d.Task != nil {
			out.ResourceID = d.Task.ID
		}
		if len(d.Fields) > 0 {
			out.Metadata["fields"] = d.Fields
		}
	case events.TaskMovedData:
		out.ResourceID = d.TaskID
		out.Metadata["to_parent_id"] = d.ToParentID
	case events.TaskBulkUpdatedData:
		out.Metadata["task_ids"] = d.TaskIDs
		out.Metadata["fields"] = d.Fields
	case events.TaskDeletedData:
		out.ResourceID = d.TaskID
	case events.AssigneesChangedData:
		out.ResourceID = d.TaskID
		out.Metadata["added"] = d.Added
		out.Metadata["removed"] = d.Removed
	case events.DependencyData:
		out.ResourceID = d.Edge.ID
		out.Metadata["predecessor_task_id"] = d.Edge.PredecessorTaskID
		out.Metadata["successor_task_id"] = d.Edge.SuccessorTaskID
	}
	return out
}
