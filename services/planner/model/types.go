// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the planner's domain types.
//
// Tasks form a forest through the nullable ParentTaskID self-reference and a
// directed acyclic graph through DependencyEdge rows. Both relations are
// stored as data keyed by ID; nothing in this package holds pointers between
// tasks, so the in-memory representation can never contain a reference cycle.
package model

import "time"

// =============================================================================
// Enumerations
// =============================================================================

// Importance ranks a task within its project.
type Importance string

const (
	ImportanceLow      Importance = "LOW"
	ImportanceNormal   Importance = "NORMAL"
	ImportanceHigh     Importance = "HIGH"
	ImportanceCritical Importance = "CRITICAL"
)

// Valid reports whether i is one of the four known importance levels.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceNormal, ImportanceHigh, ImportanceCritical:
		return true
	}
	return false
}

// DepType is the scheduling relation carried by a dependency edge.
type DepType string

const (
	// DepFinishToStart: the successor starts after the predecessor finishes.
	DepFinishToStart DepType = "FS"
	// DepStartToStart: the successor starts after the predecessor starts.
	DepStartToStart DepType = "SS"
	// DepFinishToFinish: the successor finishes after the predecessor finishes.
	DepFinishToFinish DepType = "FF"
	// DepStartToFinish: the successor finishes after the predecessor starts.
	DepStartToFinish DepType = "SF"
)

// Valid reports whether d is one of FS, SS, FF or SF.
func (d DepType) Valid() bool {
	switch d {
	case DepFinishToStart, DepStartToStart, DepFinishToFinish, DepStartToFinish:
		return true
	}
	return false
}

// Direction selects which side of a task's dependency edges to list.
type Direction string

const (
	// DirectionBoth lists every edge touching the task.
	DirectionBoth Direction = ""
	// DirectionPredecessor lists edges where the task is the successor
	// ("what must happen before me").
	DirectionPredecessor Direction = "predecessor"
	// DirectionSuccessor lists edges where the task is the predecessor
	// ("what depends on me").
	DirectionSuccessor Direction = "successor"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionBoth, DirectionPredecessor, DirectionSuccessor:
		return true
	}
	return false
}

// =============================================================================
// Catalog entities
// =============================================================================

// Workspace groups projects.
type Workspace struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// Archived reports whether the workspace has been archived.
func (w *Workspace) Archived() bool { return w.ArchivedAt != nil }

// Project owns tasks and a workflow of stages.
type Project struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id,omitempty"`
	Name        string     `json:"name"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// Archived reports whether the project has been archived.
func (p *Project) Archived() bool { return p.ArchivedAt != nil }

// Stage is one step of a project's workflow.
type Stage struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name"`
	Position   int       `json:"position"`
	IsTerminal bool      `json:"is_terminal"`
	CreatedAt  time.Time `json:"created_at"`
}

// =============================================================================
// Task graph entities
// =============================================================================

// Task is a node in both the parent/child forest and the dependency graph.
type Task struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	ParentTaskID *string    `json:"parent_task_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	StageID      *string    `json:"stage_id"`
	Importance   Importance `json:"importance"`
	Position     int        `json:"position"`
	StartAt      *time.Time `json:"start_at,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the task carries a soft-delete marker.
func (t *Task) Deleted() bool { return t.DeletedAt != nil }

// Assignment links a user to a task.
type Assignment struct {
	TaskID     string    `json:"task_id"`
	UserID     string    `json:"user_id"`
	AssignedBy string    `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}

// TaskDetail is a task hydrated with its assignees and current stage.
type TaskDetail struct {
	Task
	Assignees []Assignment `json:"assignees"`
	Stage     *Stage       `json:"stage,omitempty"`
}

// DependencyEdge orders two tasks. The pair (PredecessorTaskID,
// SuccessorTaskID) is unique and the two IDs always differ.
type DependencyEdge struct {
	ID                string    `json:"id"`
	PredecessorTaskID string    `json:"predecessor_task_id"`
	SuccessorTaskID   string    `json:"successor_task_id"`
	DepType           DepType   `json:"dep_type"`
	LagMinutes        int       `json:"lag_minutes"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StatusHistoryEntry records one observed stage change. Entries are never
// modified after they are written.
type StatusHistoryEntry struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	FromStageID *string   `json:"from_stage_id"`
	ToStageID   string    `json:"to_stage_id"`
	ChangedBy   string    `json:"changed_by"`
	ChangedAt   time.Time `json:"changed_at"`
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string { return &s }

// SameRef reports whether two nullable IDs are equal. Two nils are equal.
func SameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
