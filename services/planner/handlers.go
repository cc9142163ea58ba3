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
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianPlanner/pkg/extensions"
	"github.com/AleutianAI/AleutianPlanner/services/planner/events"
	"github.com/AleutianAI/AleutianPlanner/services/planner/middleware"
	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
	"github.com/AleutianAI/AleutianPlanner/services/planner/observability"
)

// Handlers contains the HTTP handlers for the planner API.
type Handlers struct {
	svc    *Service
	stream *events.Stream
	logger *slog.Logger
}

// NewHandlers creates handlers over svc.
//
// Inputs:
//
//	svc - The wired service. Must not be nil.
//	opts - Options for the websocket event stream.
//
// Outputs:
//
//	*Handlers - The configured handlers.
func NewHandlers(svc *Service, opts ...events.StreamOption) *Handlers {
	logger := svc.logger
	if logger == nil {
		logger = slog.Default()
	}
	streamOpts := append([]events.StreamOption{
		events.WithStreamLogger(logger.With("component", "stream")),
		events.WithStreamMetrics(svc.Metrics),
	}, opts...)
	return &Handlers{
		svc:    svc,
		stream: events.NewStream(svc.Emitter, streamOpts...),
		logger: logger,
	}
}

// requestLogger returns a logger carrying the request ID, handler name and
// trace context.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return observability.LoggerWithTrace(c.Request.Context(), h.logger).With(
		"request_id", middleware.RequestIDFrom(c),
		"handler", handler,
	)
}

// writeError maps err to its HTTP status and error body. Errors without a
// domain code are logged and reported as a generic internal error.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	code := model.CodeOf(err)
	msg := err.Error()
	if code == model.CodeInternal {
		logger.Error("request failed", slog.String("error", err.Error()))
		msg = "internal error"
	} else {
		logger.Info("request rejected",
			slog.String("code", string(code)),
			slog.String("error", msg))
	}
	c.JSON(code.HTTPStatus(), ErrorResponse{
		Error:     msg,
		Code:      string(code),
		Retryable: code.Kind().Retryable(),
	})
}

// bindJSON decodes the request body into req. An empty body is an error.
func bindJSON(c *gin.Context, logger *slog.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is empty")
		}
		logger.Info("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  string(model.CodeInvalidInput),
		})
		return false
	}
	return true
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// =============================================================================
// Catalog
// =============================================================================

// HandleCreateWorkspace handles POST /v1/workspaces.
//
// Request Body:
//
//	{"name": "Acme"}
//
// Response:
//
//	201 Created: model.Workspace
//	400 Bad Request: INVALID_INPUT
func (h *Handlers) HandleCreateWorkspace(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateWorkspace")

	var req model.CreateWorkspaceInput
	if !bindJSON(c, logger, &req) {
		return
	}
	ws, err := h.svc.Catalog.CreateWorkspace(c.Request.Context(), req, middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, ws)
}

// HandleArchiveWorkspace handles POST /v1/workspaces/:id/archive.
//
// Response:
//
//	200 OK: model.Workspace
//	404 Not Found: WORKSPACE_NOT_FOUND
func (h *Handlers) HandleArchiveWorkspace(c *gin.Context) {
	logger := h.requestLogger(c, "HandleArchiveWorkspace")

	ws, err := h.svc.Catalog.ArchiveWorkspace(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

// HandleCreateProject handles POST /v1/projects.
//
// Request Body:
//
//	{"workspace_id": "...", "name": "Launch"}
//
// Response:
//
//	201 Created: model.Project
//	404 Not Found: WORKSPACE_NOT_FOUND
//	409 Conflict: WORKSPACE_ARCHIVED
func (h *Handlers) HandleCreateProject(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateProject")

	var req model.CreateProjectInput
	if !bindJSON(c, logger, &req) {
		return
	}
	p, err := h.svc.Catalog.CreateProject(c.Request.Context(), req, middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// HandleArchiveProject handles POST /v1/projects/:id/archive.
func (h *Handlers) HandleArchiveProject(c *gin.Context) {
	logger := h.requestLogger(c, "HandleArchiveProject")

	p, err := h.svc.Catalog.ArchiveProject(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// HandleCreateStage handles POST /v1/projects/:id/stages.
//
// Request Body:
//
//	{"name": "In Review", "position": 2, "is_terminal": false}
//
// Response:
//
//	201 Created: model.Stage
//	404 Not Found: PROJECT_NOT_FOUND
//	409 Conflict: PROJECT_ARCHIVED
func (h *Handlers) HandleCreateStage(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateStage")

	var req model.CreateStageInput
	if !bindJSON(c, logger, &req) {
		return
	}
	s, err := h.svc.Catalog.CreateStage(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// HandleListStages handles GET /v1/projects/:id/stages.
func (h *Handlers) HandleListStages(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListStages")

	stages, err := h.svc.Catalog.ListStages(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, StageListResponse{Stages: stages})
}

// HandleListProjectTasks handles GET /v1/projects/:id/tasks.
//
// Response:
//
//	200 OK: {"tasks": [model.Task, ...]} every live task, flat
//	404 Not Found: PROJECT_NOT_FOUND
func (h *Handlers) HandleListProjectTasks(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListProjectTasks")

	tasks, err := h.svc.Tasks.ListProjectTasks(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, TaskListResponse{Tasks: tasks})
}

// =============================================================================
// Tasks
// =============================================================================

// HandleCreateTask handles POST /v1/tasks.
//
// Request Body:
//
//	{
//	  "project_id": "...",
//	  "parent_task_id": null,
//	  "title": "Write launch post",
//	  "stage_id": "...",
//	  "importance": "HIGH",
//	  "assignees": ["u1", "u2"]
//	}
//
// Response:
//
//	201 Created: model.TaskDetail
//	404 Not Found: PROJECT_NOT_FOUND, TASK_NOT_FOUND (parent), STAGE_NOT_FOUND
//	409 Conflict: PROJECT_ARCHIVED, WORKSPACE_ARCHIVED
//	422 Unprocessable Entity: PARENT_PROJECT_MISMATCH
func (h *Handlers) HandleCreateTask(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateTask")

	var req model.CreateTaskInput
	if !bindJSON(c, logger, &req) {
		return
	}
	task, err := h.svc.Tasks.Create(c.Request.Context(), req, middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Debug("task created", slog.String("task_id", task.ID))
	c.JSON(http.StatusCreated, task)
}

// HandleGetTask handles GET /v1/tasks/:id.
func (h *Handlers) HandleGetTask(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetTask")

	task, err := h.svc.Tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// HandleUpdateTask handles PATCH /v1/tasks/:id.
//
// Description:
//
//	Applies a partial update. Absent fields are untouched; "stage_id": null
//	clears the stage and "parent_task_id": null detaches the task to the
//	project root.
//
// Response:
//
//	200 OK: model.TaskDetail
//	404 Not Found: TASK_NOT_FOUND, STAGE_NOT_FOUND
//	422 Unprocessable Entity: TASK_CIRCULAR_PARENT
func (h *Handlers) HandleUpdateTask(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUpdateTask")

	var req model.TaskPatch
	if !bindJSON(c, logger, &req) {
		return
	}
	task, err := h.svc.Tasks.Update(c.Request.Context(), c.Param("id"), req, middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// HandleDeleteTask handles DELETE /v1/tasks/:id.
//
// Response:
//
//	204 No Content
//	404 Not Found: TASK_NOT_FOUND, including a second delete
func (h *Handlers) HandleDeleteTask(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDeleteTask")

	if err := h.svc.Tasks.SoftDelete(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c)); err != nil {
		writeError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleMoveTask handles POST /v1/tasks/:id/move.
//
// Request Body:
//
//	{"parent_task_id": "..." | null, "position": 0}
//
// Response:
//
//	200 OK: model.TaskDetail
//	404 Not Found: TASK_NOT_FOUND
//	422 Unprocessable Entity: TASK_CIRCULAR_PARENT, PARENT_PROJECT_MISMATCH
func (h *Handlers) HandleMoveTask(c *gin.Context) {
	logger := h.requestLogger(c, "HandleMoveTask")

	var req model.MoveInput
	if !bindJSON(c, logger, &req) {
		return
	}
	task, err := h.svc.Tasks.Move(c.Request.Context(), c.Param("id"), req, middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// HandleListChildren handles GET /v1/tasks/:id/children.
func (h *Handlers) HandleListChildren(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListChildren")

	children, err := h.svc.Tasks.ListChildren(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, TaskListResponse{Tasks: children})
}

// HandleSetAssignees handles PUT /v1/tasks/:id/assignees.
//
// Request Body:
//
//	{"assignees": ["u1", "u3"]}
//
// Response:
//
//	200 OK: model.TaskDetail
func (h *Handlers) HandleSetAssignees(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSetAssignees")

	var req SetAssigneesRequest
	if !bindJSON(c, logger, &req) {
		return
	}
	task, err := h.svc.Tasks.SetAssignees(c.Request.Context(), c.Param("id"), req.Assignees, middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// HandleListHistory handles GET /v1/tasks/:id/history.
func (h *Handlers) HandleListHistory(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListHistory")

	entries, err := h.svc.Tasks.ListHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if entries == nil {
		entries = []model.StatusHistoryEntry{}
	}
	c.JSON(http.StatusOK, HistoryResponse{Entries: entries})
}

// HandleBulkUpdate handles POST /v1/tasks/bulk.
//
// Description:
//
//	Applies one patch to many tasks atomically. Unknown or deleted IDs are
//	skipped; any other failure rolls back the whole batch.
//
// Request Body:
//
//	{"task_ids": ["...", "..."], "patch": {"stage_id": "..."}}
//
// Response:
//
//	200 OK: {"tasks": [model.TaskDetail, ...]}
func (h *Handlers) HandleBulkUpdate(c *gin.Context) {
	logger := h.requestLogger(c, "HandleBulkUpdate")

	var req BulkUpdateRequest
	if !bindJSON(c, logger, &req) {
		return
	}
	updated, err := h.svc.Tasks.BulkUpdate(c.Request.Context(), req.TaskIDs, req.Patch, middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Debug("bulk update applied",
		slog.Int("requested", len(req.TaskIDs)),
		slog.Int("updated", len(updated)))
	c.JSON(http.StatusOK, TaskDetailListResponse{Tasks: updated})
}

// =============================================================================
// Dependencies
// =============================================================================

// HandleListDependencies handles GET /v1/tasks/:id/dependencies.
//
// Query Parameters:
//
//	direction - "predecessor", "successor" or empty for both
func (h *Handlers) HandleListDependencies(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListDependencies")

	direction := model.Direction(c.Query("direction"))
	edges, err := h.svc.Deps.List(c.Request.Context(), c.Param("id"), direction)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, DependencyListResponse{Dependencies: edges})
}

// HandleCreateDependency handles POST /v1/dependencies.
//
// Request Body:
//
//	{
//	  "predecessor_task_id": "...",
//	  "successor_task_id": "...",
//	  "dep_type": "FS",
//	  "lag_minutes": 0
//	}
//
// Response:
//
//	201 Created: model.DependencyEdge
//	400 Bad Request: SELF_DEPENDENCY, CIRCULAR_DEPENDENCY
//	404 Not Found: PREDECESSOR_NOT_FOUND, SUCCESSOR_NOT_FOUND
//	409 Conflict: DEPENDENCY_EXISTS
func (h *Handlers) HandleCreateDependency(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateDependency")

	var req model.CreateDependencyInput
	if !bindJSON(c, logger, &req) {
		return
	}
	edge, err := h.svc.Deps.Create(c.Request.Context(), req, middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, edge)
}

// HandleUpdateDependency handles PATCH /v1/dependencies/:id.
//
// Request Body:
//
//	{"dep_type": "SS", "lag_minutes": 30}
func (h *Handlers) HandleUpdateDependency(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUpdateDependency")

	var req model.DependencyPatch
	if !bindJSON(c, logger, &req) {
		return
	}
	edge, err := h.svc.Deps.Update(c.Request.Context(), c.Param("id"), req, middleware.ActorFrom(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, edge)
}

// HandleDeleteDependency handles DELETE /v1/dependencies/:id.
func (h *Handlers) HandleDeleteDependency(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDeleteDependency")

	if err := h.svc.Deps.Delete(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c)); err != nil {
		writeError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// maxAuditLimit caps the page size of GET /v1/audit.
const maxAuditLimit = 1000

// HandleListAudit handles GET /v1/audit.
//
// Query Parameters:
//
//	user_id, project_id, resource_type, resource_id - exact matches
//	event_type - comma-separated event types
//	since, until - RFC 3339 timestamps (inclusive, exclusive)
//	limit - page size, default 100, max 1000
//	offset - matches to skip
//
// Response:
//
//	200 OK: {"events": [extensions.AuditEvent, ...]} newest first
//	400 Bad Request: INVALID_INPUT
func (h *Handlers) HandleListAudit(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListAudit")

	filter, err := parseAuditFilter(c)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	found, err := h.svc.Audit.Query(c.Request.Context(), filter)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, AuditListResponse{Events: found})
}

func parseAuditFilter(c *gin.Context) (extensions.AuditFilter, error) {
	filter := extensions.AuditFilter{
		UserID:       c.Query("user_id"),
		ProjectID:    c.Query("project_id"),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
	}
	for _, t := range strings.Split(c.Query("event_type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.EventTypes = append(filter.EventTypes, t)
		}
	}

	var err error
	if filter.StartTime, err = queryTime(c, "since"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = queryTime(c, "until"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		return filter, err
	}
	if filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func queryTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, model.InvalidInput("%s must be an RFC 3339 timestamp", key)
	}
	return t, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, model.InvalidInput("%s must be a non-negative integer", key)
	}
	return n, nil
}

// HandleEvents handles GET /v1/events/ws.
func (h *Handlers) HandleEvents(c *gin.Context) {
	h.stream.Handler()(c)
}
