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
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianPlanner/services/planner/middleware"
)

// RegisterRoutes registers all planner routes with the router.
//
// Description:
//
//	Registers /health and the /v1 API on rg. Every /v1 request gets a
//	request ID and, when the X-Actor-ID header is present, an actor.
//	Mutating routes reject requests without an actor with 401.
//
// Inputs:
//
//	rg - Gin router group (typically the engine's root group)
//	handlers - The handlers instance
//
// Catalog Endpoints:
//
//	POST /v1/workspaces - Create a workspace
//	POST /v1/workspaces/:id/archive - Archive a workspace
//	POST /v1/projects - Create a project
//	POST /v1/projects/:id/archive - Archive a project
//	POST /v1/projects/:id/stages - Create a stage
//	GET  /v1/projects/:id/stages - List a project's stages
//	GET  /v1/projects/:id/tasks - List a project's live tasks
//
// Task Endpoints:
//
//	POST   /v1/tasks - Create a task
//	POST   /v1/tasks/bulk - Apply one patch to many tasks
//	GET    /v1/tasks/:id - Get a task
//	PATCH  /v1/tasks/:id - Partially update a task
//	DELETE /v1/tasks/:id - Soft-delete a task
//	POST   /v1/tasks/:id/move - Re-parent a task
//	GET    /v1/tasks/:id/children - List live children
//	PUT    /v1/tasks/:id/assignees - Replace the assignee set
//	GET    /v1/tasks/:id/history - Stage transition history
//	GET    /v1/tasks/:id/dependencies - List dependency edges
//
// Dependency Endpoints:
//
//	POST   /v1/dependencies - Create an edge
//	PATCH  /v1/dependencies/:id - Change type or lag
//	DELETE /v1/dependencies/:id - Remove an edge
//
// Event Endpoints:
//
//	GET /v1/events/ws - Websocket event feed
//	GET /v1/audit - Query the audit trail
//
// Example:
//
//	svc := planner.NewService(db, planner.DefaultServiceConfig())
//	handlers := planner.NewHandlers(svc)
//	planner.RegisterRoutes(&router.RouterGroup, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.GET("/health", handlers.HandleHealth)

	v1 := rg.Group("/v1", middleware.RequestID(), middleware.Actor())
	write := middleware.RequireActor()

	workspaces := v1.Group("/workspaces")
	{
		workspaces.POST("", write, handlers.HandleCreateWorkspace)
		workspaces.POST("/:id/archive", write, handlers.HandleArchiveWorkspace)
	}

	projects := v1.Group("/projects")
	{
		projects.POST("", write, handlers.HandleCreateProject)
		projects.POST("/:id/archive", write, handlers.HandleArchiveProject)
		projects.POST("/:id/stages", write, handlers.HandleCreateStage)
		projects.GET("/:id/stages", handlers.HandleListStages)
		projects.GET("/:id/tasks", handlers.HandleListProjectTasks)
	}

	tasks := v1.Group("/tasks")
	{
		tasks.POST("", write, handlers.HandleCreateTask)
		tasks.POST("/bulk", write, handlers.HandleBulkUpdate)
		tasks.GET("/:id", handlers.HandleGetTask)
		tasks.PATCH("/:id", write, handlers.HandleUpdateTask)
		tasks.DELETE("/:id", write, handlers.HandleDeleteTask)
		tasks.POST("/:id/move", write, handlers.HandleMoveTask)
		tasks.GET("/:id/children", handlers.HandleListChildren)
		tasks.PUT("/:id/assignees", write, handlers.HandleSetAssignees)
		tasks.GET("/:id/history", handlers.HandleListHistory)
		tasks.GET("/:id/dependencies", handlers.HandleListDependencies)
	}

	dependencies := v1.Group("/dependencies")
	{
		dependencies.POST("", write, handlers.HandleCreateDependency)
		dependencies.PATCH("/:id", write, handlers.HandleUpdateDependency)
		dependencies.DELETE("/:id", write, handlers.HandleDeleteDependency)
	}

	v1.GET("/events/ws", handlers.HandleEvents)
	v1.GET("/audit", handlers.HandleListAudit)
}
