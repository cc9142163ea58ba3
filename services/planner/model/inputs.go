// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxTitleLength bounds task, project, workspace and stage names.
const MaxTitleLength = 500

// =============================================================================
// Shared Validator Instance
// =============================================================================

// inputValidate is the validator instance for planner inputs.
// Initialized in init() with the enum validators.
var inputValidate *validator.Validate

func init() {
	inputValidate = validator.New()

	_ = inputValidate.RegisterValidation("importance", func(fl validator.FieldLevel) bool {
		return Importance(fl.Field().String()).Valid()
	})
	_ = inputValidate.RegisterValidation("deptype", func(fl validator.FieldLevel) bool {
		return DepType(fl.Field().String()).Valid()
	})
}

// Validate checks v's struct tags and converts failures to INVALID_INPUT.
func Validate(v any) error {
	err := inputValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Wrap(CodeInvalidInput, err, "invalid input")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return InvalidInput("invalid fields: %s", strings.Join(fields, ", "))
}

// =============================================================================
// Catalog inputs
// =============================================================================

// CreateWorkspaceInput describes a new workspace.
type CreateWorkspaceInput struct {
	Name string `json:"name" validate:"required,max=500"`
}

// CreateProjectInput describes a new project. WorkspaceID is optional.
type CreateProjectInput struct {
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name" validate:"required,max=500"`
}

// CreateStageInput describes a new workflow stage.
type CreateStageInput struct {
	Name       string `json:"name" validate:"required,max=500"`
	Position   int    `json:"position" validate:"gte=0"`
	IsTerminal bool   `json:"is_terminal"`
}

// =============================================================================
// Task inputs
// =============================================================================

// CreateTaskInput describes a new task. Importance defaults to NORMAL and
// Position to 0.
type CreateTaskInput struct {
	ProjectID    string     `json:"project_id" validate:"required"`
	ParentTaskID *string    `json:"parent_task_id"`
	Title        string     `json:"title" validate:"required,max=500"`
	Description  string     `json:"description" validate:"max=20000"`
	StageID      *string    `json:"stage_id"`
	Importance   Importance `json:"importance" validate:"omitempty,importance"`
	Position     int        `json:"position"`
	StartAt      *time.Time `json:"start_at"`
	DueAt        *time.Time `json:"due_at"`
	Assignees    []string   `json:"assignees" validate:"omitempty,dive,required"`
}

// TaskPatch is a partial task update. Absent fields are left untouched; a
// present null clears the field where clearing is meaningful.
type TaskPatch struct {
	Title        Optional[string]     `json:"title,omitzero"`
	Description  Optional[string]     `json:"description,omitzero"`
	StageID      Optional[string]     `json:"stage_id,omitzero"`
	ParentTaskID Optional[string]     `json:"parent_task_id,omitzero"`
	Importance   Optional[Importance] `json:"importance,omitzero"`
	Position     Optional[int]        `json:"position,omitzero"`
	StartAt      Optional[time.Time]  `json:"start_at,omitzero"`
	DueAt        Optional[time.Time]  `json:"due_at,omitzero"`
}

// Empty reports whether the patch carries no fields.
func (p TaskPatch) Empty() bool {
	return !p.Title.Set && !p.Description.Set && !p.StageID.Set && !p.ParentTaskID.Set &&
		!p.Importance.Set && !p.Position.Set && !p.StartAt.Set && !p.DueAt.Set
}

// Validate rejects values that can never be applied: a null or blank title,
// a null or unknown importance, a null position.
func (p TaskPatch) Validate() error {
	if p.Title.Set {
		if p.Title.Value == nil || strings.TrimSpace(*p.Title.Value) == "" {
			return InvalidInput("title cannot be empty")
		}
		if len(*p.Title.Value) > MaxTitleLength {
			return InvalidInput("title exceeds %d characters", MaxTitleLength)
		}
	}
	if p.Importance.Set && (p.Importance.Value == nil || !p.Importance.Value.Valid()) {
		return InvalidInput("importance must be one of LOW, NORMAL, HIGH, CRITICAL")
	}
	if p.Position.Set && p.Position.Value == nil {
		return InvalidInput("position cannot be null")
	}
	return nil
}

// Apply copies every scalar field present in p onto t. StageID and
// ParentTaskID are not applied here; they need graph checks and are handled
// by the hierarchy manager.
func (p TaskPatch) Apply(t *Task) {
	if p.Title.Set && p.Title.Value != nil {
		t.Title = *p.Title.Value
	}
	if p.Description.Set {
		if p.Description.Value == nil {
			t.Description = ""
		} else {
			t.Description = *p.Description.Value
		}
	}
	if p.Importance.Set && p.Importance.Value != nil {
		t.Importance = *p.Importance.Value
	}
	if p.Position.Set && p.Position.Value != nil {
		t.Position = *p.Position.Value
	}
	if p.StartAt.Set {
		t.StartAt = p.StartAt.Value
	}
	if p.DueAt.Set {
		t.DueAt = p.DueAt.Value
	}
}

// MoveInput re-parents a task. A nil ParentTaskID detaches it to the root.
type MoveInput struct {
	ParentTaskID *string `json:"parent_task_id"`
	Position     int     `json:"position"`
}

// =============================================================================
// Dependency inputs
// =============================================================================

// CreateDependencyInput describes a new edge. DepType defaults to FS.
type CreateDependencyInput struct {
	PredecessorTaskID string  `json:"predecessor_task_id" validate:"required"`
	SuccessorTaskID   string  `json:"successor_task_id" validate:"required"`
	DepType           DepType `json:"dep_type" validate:"omitempty,deptype"`
	LagMinutes        int     `json:"lag_minutes"`
}

// DependencyPatch changes an edge's type or lag. Direction is immutable.
type DependencyPatch struct {
	DepType    Optional[DepType] `json:"dep_type,omitzero"`
	LagMinutes Optional[int]     `json:"lag_minutes,omitzero"`
}

// Validate rejects null or unknown values.
func (p DependencyPatch) Validate() error {
	if p.DepType.Set && (p.DepType.Value == nil || !p.DepType.Value.Valid()) {
		return InvalidInput("dep_type must be one of FS, SS, FF, SF")
	}
	if p.LagMinutes.Set && p.LagMinutes.Value == nil {
		return InvalidInput("lag_minutes cannot be null")
	}
	return nil
}
