// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tasks owns the task forest: creation, re-parenting, partial and
// bulk updates, soft delete, assignees and stage history. It also holds the
// Catalog of workspaces, projects and stages that tasks hang off.
//
// Every mutation runs in one serializable store transaction: validation,
// the parent cycle check, the row writes and any history entries commit
// together or not at all. Notifications and domain events go out only
// after the commit and never change the result.
package tasks

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianPlanner/pkg/validation"
	"github.com/AleutianAI/AleutianPlanner/services/planner/events"
	"github.com/AleutianAI/AleutianPlanner/services/planner/graph"
	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
	"github.com/AleutianAI/AleutianPlanner/services/planner/notify"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
)

// Manager is the task hierarchy manager.
//
// Thread Safety: Manager is safe for concurrent use. Concurrent requests
// touching the same tasks are serialized by the store; the loser of a
// conflict gets model.ErrTransactionConflict and may retry.
type Manager struct {
	options
	store *store.Store
}

// NewManager returns a Manager over st.
func NewManager(st *store.Store, opts ...Option) *Manager {
	return &Manager{options: buildOptions(opts), store: st}
}

// Create inserts a task.
//
// # Description
//
// The project must exist and not be archived, and neither may its
// workspace. An optional parent must be a live task of the same project
// and an optional stage must belong to the project. Importance defaults
// to NORMAL. Each assignee other than the actor is notified.
//
// Inputs:
//   - ctx: Request context.
//   - in: The new task.
//   - actor: The requesting user.
//
// Outputs:
//   - *model.TaskDetail: The stored task with assignees and stage.
//   - error: PROJECT_NOT_FOUND, PROJECT_ARCHIVED, WORKSPACE_ARCHIVED,
//     TASK_NOT_FOUND (parent), PARENT_PROJECT_MISMATCH, STAGE_NOT_FOUND,
//     INVALID_INPUT or TRANSACTION_CONFLICT.
func (m *Manager) Create(ctx context.Context, in model.CreateTaskInput, actor string) (detail *model.TaskDetail, err error) {
	ctx, done := m.startOp(ctx, "task.create", attribute.String("project_id", in.ProjectID))
	defer func() { done(err) }()

	if err := model.Validate(in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, model.InvalidInput("title cannot be empty")
	}
	if err := validation.ValidateUserIDs(in.Assignees); err != nil {
		return nil, model.Wrap(model.CodeInvalidInput, err, "invalid assignees")
	}

	err = m.store.Update(ctx, func(tx *store.Tx) error {
		if err := writableProject(tx, in.ProjectID); err != nil {
			return err
		}
		if in.ParentTaskID != nil {
			parent, err := liveTask(tx, *in.ParentTaskID)
			if err != nil {
				return err
			}
			if parent.ProjectID != in.ProjectID {
				return model.ErrParentProjectMismatch
			}
		}
		if in.StageID != nil {
			if _, err := projectStage(tx, in.ProjectID, *in.StageID); err != nil {
				return err
			}
		}

		now := tx.Now()
		t := &model.Task{
			ID:           m.ids.New(),
			ProjectID:    in.ProjectID,
			ParentTaskID: in.ParentTaskID,
			Title:        in.Title,
			Description:  in.Description,
			StageID:      in.StageID,
			Importance:   in.Importance,
			Position:     in.Position,
			StartAt:      in.StartAt,
			DueAt:        in.DueAt,
			CreatedBy:    actor,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if t.Importance == "" {
			t.Importance = model.ImportanceNormal
		}
		if err := tx.InsertTask(t); err != nil {
			return err
		}
		for _, userID := range uniqueIDs(in.Assignees) {
			if err := tx.PutAssignment(model.Assignment{
				TaskID: t.ID, UserID: userID, AssignedBy: actor, AssignedAt: now,
			}); err != nil {
				return err
			}
		}
		detail, err = hydrate(tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.dispatcher.Dispatch(ctx, notify.ForRecipients(assigneeIDs(detail.Assignees), actor,
		notify.KindTaskAssigned, detail.Title, notify.RefTask, detail.ID))
	m.publish(ctx, events.Event{
		Type:      events.TypeTaskCreated,
		ProjectID: detail.ProjectID,
		Actor:     actor,
		Data:      events.TaskData{Task: detail},
	})
	return detail, nil
}

// Get returns a live task with its assignees and stage.
func (m *Manager) Get(ctx context.Context, taskID string) (detail *model.TaskDetail, err error) {
	ctx, done := m.startOp(ctx, "task.get", attribute.String("task_id", taskID))
	defer func() { done(err) }()

	err = m.store.View(ctx, func(tx *store.Tx) error {
		t, err := liveTask(tx, taskID)
		if err != nil {
			return err
		}
		detail, err = hydrate(tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// Move re-parents a task and sets its sibling position.
//
// # Description
//
// A nil parent detaches the task to the project root and always succeeds.
// Otherwise the parent must be a live task of the same project and the
// parent chain above it must not contain the task.
//
// Outputs:
//   - *model.TaskDetail: The moved task.
//   - error: TASK_NOT_FOUND, PARENT_PROJECT_MISMATCH, TASK_CIRCULAR_PARENT
//     or TRANSACTION_CONFLICT.
func (m *Manager) Move(ctx context.Context, taskID string, in model.MoveInput, actor string) (detail *model.TaskDetail, err error) {
	attrs := []attribute.KeyValue{attribute.String("task_id", taskID)}
	if in.ParentTaskID != nil {
		attrs = append(attrs, attribute.String("parent_task_id", *in.ParentTaskID))
	}
	ctx, done := m.startOp(ctx, "task.move", attrs...)
	defer func() { done(err) }()

	var from *string
	err = m.store.Update(ctx, func(tx *store.Tx) error {
		t, err := liveTask(tx, taskID)
		if err != nil {
			return err
		}
		from = t.ParentTaskID
		t.UpdatedAt = tx.Now()
		if err := m.reparent(ctx, tx, t, in.ParentTaskID, in.Position); err != nil {
			return err
		}
		detail, err = hydrate(tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, events.Event{
		Type:      events.TypeTaskMoved,
		ProjectID: detail.ProjectID,
		Actor:     actor,
		Data: events.TaskMovedData{
			TaskID:       detail.ID,
			FromParentID: from,
			ToParentID:   detail.ParentTaskID,
			Position:     detail.Position,
		},
	})
	return detail, nil
}

// reparent validates newParent for t and writes the move. t is updated in
// place.
func (m *Manager) reparent(ctx context.Context, tx *store.Tx, t *model.Task, newParent *string, position int) error {
	if newParent != nil {
		parent, err := liveTask(tx, *newParent)
		if err != nil {
			return err
		}
		if parent.ProjectID != t.ProjectID {
			return model.ErrParentProjectMismatch
		}
		res, err := m.checker.WouldCreateCycle(ctx, graph.KindHierarchy, tx, t.ID, *newParent)
		if err != nil {
			return err
		}
		if res.Cycle {
			return model.Errorf(model.CodeTaskCircularParent,
				"task %s cannot be moved under %s: it is an ancestor of the new parent", t.ID, *newParent)
		}
	}
	return tx.UpdateTaskParent(t, newParent, position)
}

// stageChange is one observed transition, kept for post-commit
// notifications.
type stageChange struct {
	task      *model.TaskDetail
	stageName string
}

// Update applies a partial update to a live task.
//
// # Description
//
// Fields present in patch are applied, a present null clears the field and
// absent fields are untouched. A stage change is validated against the
// task's project and recorded in the stage history, except when the stage
// is cleared. Entering a new stage notifies every assignee but the actor.
// A parent change goes through the same checks as Move.
//
// Outputs:
//   - *model.TaskDetail: The task after the update. An empty patch returns
//     the current state without writing.
//   - error: TASK_NOT_FOUND, STAGE_NOT_FOUND, TASK_CIRCULAR_PARENT,
//     PARENT_PROJECT_MISMATCH, INVALID_INPUT or TRANSACTION_CONFLICT.
func (m *Manager) Update(ctx context.Context, taskID string, patch model.TaskPatch, actor string) (detail *model.TaskDetail, err error) {
	ctx, done := m.startOp(ctx, "task.update", attribute.String("task_id", taskID))
	defer func() { done(err) }()

	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var changed *stageChange
	err = m.store.Update(ctx, func(tx *store.Tx) error {
		t, err := liveTask(tx, taskID)
		if err != nil {
			return err
		}
		if patch.Empty() {
			detail, err = hydrate(tx, t)
			return err
		}

		stageName, moved, err := m.applyStage(tx, t, patch.StageID, actor)
		if err != nil {
			return err
		}
		patch.Apply(t)
		t.UpdatedAt = tx.Now()

		if patch.ParentTaskID.Set && !model.SameRef(t.ParentTaskID, patch.ParentTaskID.Value) {
			err = m.reparent(ctx, tx, t, patch.ParentTaskID.Value, t.Position)
		} else {
			err = tx.PutTask(t)
		}
		if err != nil {
			return err
		}
		if detail, err = hydrate(tx, t); err != nil {
			return err
		}
		if moved {
			changed = &stageChange{task: detail, stageName: stageName}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return detail, nil
	}

	if changed != nil {
		m.notifyStageChange(ctx, actor, changed)
	}
	m.publish(ctx, events.Event{
		Type:      events.TypeTaskUpdated,
		ProjectID: detail.ProjectID,
		Actor:     actor,
		Data:      events.TaskData{Task: detail, Fields: patchFields(patch)},
	})
	return detail, nil
}

// applyStage validates and applies a stage patch to t, recording history
// when the task enters a different stage. It reports the new stage's name
// and whether a transition was recorded.
func (m *Manager) applyStage(tx *store.Tx, t *model.Task, stage model.Optional[string], actor string) (string, bool, error) {
	if !stage.Set || model.SameRef(t.StageID, stage.Value) {
		return "", false, nil
	}
	if stage.Value == nil {
		t.StageID = nil
		return "", false, nil
	}
	s, err := projectStage(tx, t.ProjectID, *stage.Value)
	if err != nil {
		return "", false, err
	}
	if _, err := m.recorder.Record(tx, t.ID, t.StageID, s.ID, actor); err != nil {
		return "", false, err
	}
	t.StageID = model.StringPtr(s.ID)
	return s.Name, true, nil
}

func (m *Manager) notifyStageChange(ctx context.Context, actor string, c *stageChange) {
	title := fmt.Sprintf("%s moved to %s", c.task.Title, c.stageName)
	m.dispatcher.Dispatch(ctx, notify.ForRecipients(assigneeIDs(c.task.Assignees), actor,
		notify.KindStatusChange, title, notify.RefTask, c.task.ID))
}

// BulkUpdate applies one patch to many tasks atomically.
//
// # Description
//
// Missing and soft-deleted IDs are skipped. When the patch sets a stage,
// a history entry is written for each task whose stage differs from the
// target, compared against the state read in the same transaction. One
// task.bulk_updated event carries every updated ID.
//
// Outputs:
//   - []*model.TaskDetail: Updated tasks in request order. Empty, never
//     nil, for an empty ID list.
//   - error: The first failure; nothing is written when it is non-nil.
func (m *Manager) BulkUpdate(ctx context.Context, taskIDs []string, patch model.TaskPatch, actor string) (updated []*model.TaskDetail, err error) {
	ctx, done := m.startOp(ctx, "task.bulk_update", attribute.Int("task_count", len(taskIDs)))
	defer func() { done(err) }()

	updated = []*model.TaskDetail{}
	if len(taskIDs) == 0 {
		return updated, nil
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var changes []*stageChange
	err = m.store.Update(ctx, func(tx *store.Tx) error {
		for _, id := range uniqueIDs(taskIDs) {
			t, err := liveTask(tx, id)
			if model.CodeOf(err) == model.CodeTaskNotFound {
				continue
			}
			if err != nil {
				return err
			}

			stageName, moved, err := m.applyStage(tx, t, patch.StageID, actor)
			if err != nil {
				return fmt.Errorf("task %s: %w", id, err)
			}
			patch.Apply(t)
			t.UpdatedAt = tx.Now()

			if patch.ParentTaskID.Set && !model.SameRef(t.ParentTaskID, patch.ParentTaskID.Value) {
				err = m.reparent(ctx, tx, t, patch.ParentTaskID.Value, t.Position)
			} else {
				err = tx.PutTask(t)
			}
			if err != nil {
				return fmt.Errorf("task %s: %w", id, err)
			}

			detail, err := hydrate(tx, t)
			if err != nil {
				return err
			}
			updated = append(updated, detail)
			if moved {
				changes = append(changes, &stageChange{task: detail, stageName: stageName})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return updated, nil
	}

	for _, c := range changes {
		m.notifyStageChange(ctx, actor, c)
	}
	affected := make([]string, 0, len(updated))
	for _, d := range updated {
		affected = append(affected, d.ID)
	}
	m.publish(ctx, events.Event{
		Type:      events.TypeTaskBulkUpdated,
		ProjectID: updated[0].ProjectID,
		Actor:     actor,
		Data:      events.TaskBulkUpdatedData{TaskIDs: affected, Fields: patchFields(patch)},
	})
	return updated, nil
}

// SoftDelete marks a live task deleted. Deleting an already-deleted task
// fails with TASK_NOT_FOUND. Children and dependency edges are left as
// they are.
func (m *Manager) SoftDelete(ctx context.Context, taskID, actor string) (err error) {
	ctx, done := m.startOp(ctx, "task.delete", attribute.String("task_id", taskID))
	defer func() { done(err) }()

	var projectID string
	err = m.store.Update(ctx, func(tx *store.Tx) error {
		t, err := liveTask(tx, taskID)
		if err != nil {
			return err
		}
		now := tx.Now()
		t.DeletedAt = &now
		t.UpdatedAt = now
		projectID = t.ProjectID
		return tx.PutTask(t)
	})
	if err != nil {
		return err
	}

	m.publish(ctx, events.Event{
		Type:      events.TypeTaskDeleted,
		ProjectID: projectID,
		Actor:     actor,
		Data:      events.TaskDeletedData{TaskID: taskID},
	})
	return nil
}

// ListChildren returns the live direct children of a task ordered by
// position, ties broken by ID. The parent itself may be soft-deleted; its
// children stay reachable this way.
func (m *Manager) ListChildren(ctx context.Context, taskID string) (children []*model.Task, err error) {
	ctx, done := m.startOp(ctx, "task.list_children", attribute.String("task_id", taskID))
	defer func() { done(err) }()

	err = m.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetTask(taskID); err != nil {
			return notFound(err, model.ErrTaskNotFound)
		}
		rows, err := tx.ListChildren(taskID)
		if err != nil {
			return err
		}
		children = make([]*model.Task, 0, len(rows))
		for _, t := range rows {
			if !t.Deleted() {
				children = append(children, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByPosition(children)
	return children, nil
}

// ListProjectTasks returns every live task of a project ordered by
// position, ties broken by ID. Archived projects are readable.
func (m *Manager) ListProjectTasks(ctx context.Context, projectID string) (tasks []*model.Task, err error) {
	ctx, done := m.startOp(ctx, "task.list_project", attribute.String("project_id", projectID))
	defer func() { done(err) }()

	err = m.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetProject(projectID); err != nil {
			return notFound(err, model.ErrProjectNotFound)
		}
		rows, err := tx.ListProjectTasks(projectID)
		if err != nil {
			return err
		}
		tasks = make([]*model.Task, 0, len(rows))
		for _, t := range rows {
			if !t.Deleted() {
				tasks = append(tasks, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByPosition(tasks)
	return tasks, nil
}

// SetAssignees replaces the assignee set of a live task.
//
// Only users who were not already assigned are notified, and never the
// actor. Unchanged sets write nothing and emit no event.
func (m *Manager) SetAssignees(ctx context.Context, taskID string, userIDs []string, actor string) (detail *model.TaskDetail, err error) {
	ctx, done := m.startOp(ctx, "task.set_assignees", attribute.String("task_id", taskID))
	defer func() { done(err) }()

	if err := validation.ValidateUserIDs(userIDs); err != nil {
		return nil, model.Wrap(model.CodeInvalidInput, err, "invalid assignees")
	}

	var added, removed []string
	err = m.store.Update(ctx, func(tx *store.Tx) error {
		t, err := liveTask(tx, taskID)
		if err != nil {
			return err
		}
		current, err := tx.ListAssignments(taskID)
		if err != nil {
			return err
		}
		desired := uniqueIDs(userIDs)
		have := assigneeIDs(current)

		for _, u := range have {
			if !slices.Contains(desired, u) {
				if err := tx.DeleteAssignment(taskID, u); err != nil {
					return err
				}
				removed = append(removed, u)
			}
		}
		now := tx.Now()
		for _, u := range desired {
			if !slices.Contains(have, u) {
				if err := tx.PutAssignment(model.Assignment{
					TaskID: taskID, UserID: u, AssignedBy: actor, AssignedAt: now,
				}); err != nil {
					return err
				}
				added = append(added, u)
			}
		}
		if len(added) > 0 || len(removed) > 0 {
			t.UpdatedAt = now
			if err := tx.PutTask(t); err != nil {
				return err
			}
		}
		detail, err = hydrate(tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(added) == 0 && len(removed) == 0 {
		return detail, nil
	}

	m.dispatcher.Dispatch(ctx, notify.ForRecipients(added, actor,
		notify.KindTaskAssigned, detail.Title, notify.RefTask, detail.ID))
	m.publish(ctx, events.Event{
		Type:      events.TypeTaskAssigneesChanged,
		ProjectID: detail.ProjectID,
		Actor:     actor,
		Data: events.AssigneesChangedData{
			TaskID:  detail.ID,
			Added:   nonNil(added),
			Removed: nonNil(removed),
		},
	})
	return detail, nil
}

// ListHistory returns a task's stage transitions, oldest first. History of
// soft-deleted tasks stays readable.
func (m *Manager) ListHistory(ctx context.Context, taskID string) (entries []model.StatusHistoryEntry, err error) {
	ctx, done := m.startOp(ctx, "task.list_history", attribute.String("task_id", taskID))
	defer func() { done(err) }()

	err = m.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetTask(taskID); err != nil {
			return notFound(err, model.ErrTaskNotFound)
		}
		entries, err = tx.ListHistory(taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.StatusHistoryEntry{}
	}
	return entries, nil
}

// writableProject checks that tasks may be added to projectID.
func writableProject(tx *store.Tx, projectID string) error {
	p, err := tx.GetProject(projectID)
	if err != nil {
		return notFound(err, model.ErrProjectNotFound)
	}
	if p.Archived() {
		return model.ErrProjectArchived
	}
	if p.WorkspaceID == "" {
		return nil
	}
	w, err := tx.GetWorkspace(p.WorkspaceID)
	if err != nil {
		return notFound(err, model.ErrWorkspaceNotFound)
	}
	if w.Archived() {
		return model.ErrWorkspaceArchived
	}
	return nil
}

// patchFields lists the JSON names of the fields a patch sets.
func patchFields(p model.TaskPatch) []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(p.Title.Set, "title")
	add(p.Description.Set, "description")
	add(p.StageID.Set, "stage_id")
	add(p.ParentTaskID.Set, "parent_task_id")
	add(p.Importance.Set, "importance")
	add(p.Position.Set, "position")
	add(p.StartAt.Set, "start_at")
	add(p.DueAt.Set, "due_at")
	return fields
}

func sortByPosition(ts []*model.Task) {
	slices.SortFunc(ts, func(a, b *model.Task) int {
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// uniqueIDs drops blanks and repeats, keeping first-seen order.
func uniqueIDs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
