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
	"github.com/AleutianAI/AleutianPlanner/pkg/extensions"
	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Code is the stable error code, e.g. CIRCULAR_DEPENDENCY.
	Code string `json:"code"`

	// Retryable tells the caller whether repeating the same request may
	// succeed.
	Retryable bool `json:"retryable"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// BulkUpdateRequest is the body of POST /v1/tasks/bulk.
type BulkUpdateRequest struct {
	TaskIDs []string        `json:"task_ids"`
	Patch   model.TaskPatch `json:"patch"`
}

// SetAssigneesRequest is the body of PUT /v1/tasks/:id/assignees.
type SetAssigneesRequest struct {
	Assignees []string `json:"assignees"`
}

// TaskListResponse wraps a list of tasks.
type TaskListResponse struct {
	Tasks []*model.Task `json:"tasks"`
}

// TaskDetailListResponse wraps a list of hydrated tasks.
type TaskDetailListResponse struct {
	Tasks []*model.TaskDetail `json:"tasks"`
}

// HistoryResponse wraps a task's stage history.
type HistoryResponse struct {
	Entries []model.StatusHistoryEntry `json:"entries"`
}

// DependencyListResponse wraps a list of dependency edges.
type DependencyListResponse struct {
	Dependencies []*model.DependencyEdge `json:"dependencies"`
}

// StageListResponse wraps a project's stages.
type StageListResponse struct {
	Stages []*model.Stage `json:"stages"`
}

// AuditListResponse wraps audit records, newest first.
type AuditListResponse struct {
	Events []extensions.AuditEvent `json:"events"`
}
