// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tasks

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPlanner/services/planner/events"
	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
	"github.com/AleutianAI/AleutianPlanner/services/planner/notify"
	"github.com/AleutianAI/AleutianPlanner/services/planner/observability"
	pbadger "github.com/AleutianAI/AleutianPlanner/services/planner/storage/badger"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
)

type fixture struct {
	store      *store.Store
	mgr        *Manager
	cat        *Catalog
	notifier   *notify.MemoryNotifier
	dispatcher *notify.Dispatcher
	events     *events.MockEmitter
	metrics    *observability.Metrics
	project    *model.Project
	stages     map[string]*model.Stage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := pbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		store:    store.New(db),
		notifier: &notify.MemoryNotifier{},
		events:   events.NewMockEmitter(),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		stages:   map[string]*model.Stage{},
	}
	f.dispatcher = notify.NewDispatcher(f.notifier)
	opts := []Option{
		WithDispatcher(f.dispatcher),
		WithPublisher(f.events),
		WithMetrics(f.metrics),
	}
	f.mgr = NewManager(f.store, opts...)
	f.cat = NewCatalog(f.store, opts...)

	ctx := context.Background()
	ws, err := f.cat.CreateWorkspace(ctx, model.CreateWorkspaceInput{Name: "Acme"}, "owner")
	require.NoError(t, err)
	f.project, err = f.cat.CreateProject(ctx, model.CreateProjectInput{WorkspaceID: ws.ID, Name: "Launch"}, "owner")
	require.NoError(t, err)
	for i, name := range []string{"S1", "S2", "S3"} {
		s, err := f.cat.CreateStage(ctx, f.project.ID, model.CreateStageInput{Name: name, Position: i})
		require.NoError(t, err)
		f.stages[name] = s
	}
	return f
}

func (f *fixture) stage(name string) *string {
	return model.StringPtr(f.stages[name].ID)
}

func (f *fixture) task(t *testing.T, title string, parent *string, stage *string, assignees ...string) *model.TaskDetail {
	t.Helper()
	d, err := f.mgr.Create(context.Background(), model.CreateTaskInput{
		ProjectID:    f.project.ID,
		ParentTaskID: parent,
		Title:        title,
		StageID:      stage,
		Assignees:    assignees,
	}, "creator")
	require.NoError(t, err)
	return d
}

func (f *fixture) sent(kind notify.Kind) []notify.Message {
	f.dispatcher.Wait()
	var out []notify.Message
	for _, m := range f.notifier.Sent() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (f *fixture) history(t *testing.T, taskID string) []model.StatusHistoryEntry {
	t.Helper()
	h, err := f.mgr.ListHistory(context.Background(), taskID)
	require.NoError(t, err)
	return h
}

func requireCode(t *testing.T, err error, code model.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, model.CodeOf(err), "error: %v", err)
}

// =============================================================================
// Create / Get
// =============================================================================

func TestCreate_DefaultsAndHydration(t *testing.T) {
	f := newFixture(t)
	d, err := f.mgr.Create(context.Background(), model.CreateTaskInput{
		ProjectID: f.project.ID,
		Title:     "Write launch plan",
		StageID:   f.stage("S1"),
		Assignees: []string{"alice", "creator", "alice"},
	}, "creator")
	require.NoError(t, err)

	assert.Len(t, d.ID, 26)
	assert.Equal(t, model.ImportanceNormal, d.Importance)
	assert.Equal(t, 0, d.Position)
	assert.Equal(t, "creator", d.CreatedBy)
	require.NotNil(t, d.Stage)
	assert.Equal(t, "S1", d.Stage.Name)
	assert.ElementsMatch(t, []string{"alice", "creator"}, assigneeIDs(d.Assignees))

	// The actor is never notified about their own assignment.
	sent := f.sent(notify.KindTaskAssigned)
	require.Len(t, sent, 1)
	assert.Equal(t, "alice", sent[0].Recipient)
	assert.Equal(t, d.ID, sent[0].RefEntityID)

	created := f.events.GetEventsByType(events.TypeTaskCreated)
	require.Len(t, created, 1)
	assert.Equal(t, f.project.ID, created[0].ProjectID)

	got, err := f.mgr.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Title, got.Title)
	assert.Empty(t, f.history(t, d.ID), "creation is not a stage transition")
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.cat.CreateProject(ctx, model.CreateProjectInput{Name: "Other"}, "owner")
	require.NoError(t, err)
	otherStage, err := f.cat.CreateStage(ctx, other.ID, model.CreateStageInput{Name: "Elsewhere"})
	require.NoError(t, err)
	otherTask, err := f.mgr.Create(ctx, model.CreateTaskInput{ProjectID: other.ID, Title: "x"}, "u")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   model.CreateTaskInput
		code model.Code
	}{
		{"missing project", model.CreateTaskInput{ProjectID: "nope", Title: "t"}, model.CodeProjectNotFound},
		{"blank title", model.CreateTaskInput{ProjectID: f.project.ID, Title: "  "}, model.CodeInvalidInput},
		{"bad importance", model.CreateTaskInput{ProjectID: f.project.ID, Title: "t", Importance: "URGENT"}, model.CodeInvalidInput},
		{"missing parent", model.CreateTaskInput{ProjectID: f.project.ID, Title: "t", ParentTaskID: model.StringPtr("nope")}, model.CodeTaskNotFound},
		{"foreign parent", model.CreateTaskInput{ProjectID: f.project.ID, Title: "t", ParentTaskID: &otherTask.ID}, model.CodeParentProjectMismatch},
		{"foreign stage", model.CreateTaskInput{ProjectID: f.project.ID, Title: "t", StageID: &otherStage.ID}, model.CodeStageNotFound},
		{"missing stage", model.CreateTaskInput{ProjectID: f.project.ID, Title: "t", StageID: model.StringPtr("nope")}, model.CodeStageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Create(ctx, tt.in, "u")
			requireCode(t, err, tt.code)
		})
	}
}

func TestCreate_ArchivedProjectAndWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cat.ArchiveWorkspace(ctx, f.project.WorkspaceID, "owner")
	require.NoError(t, err)
	_, err = f.mgr.Create(ctx, model.CreateTaskInput{ProjectID: f.project.ID, Title: "t"}, "u")
	requireCode(t, err, model.CodeWorkspaceArchived)

	loose, err := f.cat.CreateProject(ctx, model.CreateProjectInput{Name: "Loose"}, "owner")
	require.NoError(t, err)
	_, err = f.cat.ArchiveProject(ctx, loose.ID, "owner")
	require.NoError(t, err)
	_, err = f.mgr.Create(ctx, model.CreateTaskInput{ProjectID: loose.ID, Title: "t"}, "u")
	requireCode(t, err, model.CodeProjectArchived)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RejectionsTotal.WithLabelValues("task.create", string(model.CodeProjectArchived))))
}

// =============================================================================
// Move
// =============================================================================

func TestMove_Legality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.task(t, "root", nil, nil)
	child := f.task(t, "child", &root.ID, nil)
	grandchild := f.task(t, "grandchild", &child.ID, nil)

	_, err := f.mgr.Move(ctx, root.ID, model.MoveInput{ParentTaskID: &grandchild.ID}, "u")
	requireCode(t, err, model.CodeTaskCircularParent)

	_, err = f.mgr.Move(ctx, root.ID, model.MoveInput{ParentTaskID: &root.ID}, "u")
	requireCode(t, err, model.CodeTaskCircularParent)

	_, err = f.mgr.Move(ctx, root.ID, model.MoveInput{ParentTaskID: model.StringPtr("nope")}, "u")
	requireCode(t, err, model.CodeTaskNotFound)

	moved, err := f.mgr.Move(ctx, grandchild.ID, model.MoveInput{ParentTaskID: nil, Position: 3}, "u")
	require.NoError(t, err)
	assert.Nil(t, moved.ParentTaskID)
	assert.Equal(t, 3, moved.Position)

	// Now that grandchild is a root, root may go beneath it.
	moved, err = f.mgr.Move(ctx, root.ID, model.MoveInput{ParentTaskID: &grandchild.ID}, "u")
	require.NoError(t, err)
	assert.Equal(t, grandchild.ID, *moved.ParentTaskID)

	ev := f.events.GetEventsByType(events.TypeTaskMoved)
	require.Len(t, ev, 2)
	data := ev[1].Data.(events.TaskMovedData)
	assert.Nil(t, data.FromParentID)
	assert.Equal(t, grandchild.ID, *data.ToParentID)
}

func TestMove_DetachAlwaysSucceeds(t *testing.T) {
	f := newFixture(t)
	root := f.task(t, "root", nil, nil)
	for range 3 {
		_, err := f.mgr.Move(context.Background(), root.ID, model.MoveInput{}, "u")
		require.NoError(t, err)
	}
}

// assertForest walks every task's parent chain and fails on a repeat.
func assertForest(t *testing.T, f *fixture) {
	t.Helper()
	err := f.store.View(context.Background(), func(tx *store.Tx) error {
		all, err := tx.ListProjectTasks(f.project.ID)
		if err != nil {
			return err
		}
		for _, task := range all {
			seen := map[string]bool{task.ID: true}
			cur := task.ParentTaskID
			for cur != nil {
				if seen[*cur] {
					return errors.New("parent cycle through " + task.ID)
				}
				seen[*cur] = true
				cur, err = tx.Parent(*cur)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestMove_RandomSequenceKeepsForest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	var ids []string
	for i := range 12 {
		ids = append(ids, f.task(t, "t"+string(rune('a'+i)), nil, nil).ID)
	}
	for range 200 {
		taskID := ids[rng.Intn(len(ids))]
		var parent *string
		if rng.Intn(5) > 0 {
			parent = &ids[rng.Intn(len(ids))]
		}
		_, err := f.mgr.Move(ctx, taskID, model.MoveInput{ParentTaskID: parent}, "u")
		if err != nil {
			requireCode(t, err, model.CodeTaskCircularParent)
		}
	}
	assertForest(t, f)
}

func TestMove_ConcurrentSwapCannotBothSucceed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 20 {
		a := f.task(t, "a", nil, nil)
		b := f.task(t, "b", nil, nil)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = f.mgr.Move(ctx, a.ID, model.MoveInput{ParentTaskID: &b.ID}, "u")
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = f.mgr.Move(ctx, b.ID, model.MoveInput{ParentTaskID: &a.ID}, "u")
		}()
		wg.Wait()

		assert.False(t, errs[0] == nil && errs[1] == nil, "both halves of a parent cycle committed")
		for _, err := range errs {
			if err != nil {
				code := model.CodeOf(err)
				assert.Contains(t, []model.Code{model.CodeTaskCircularParent, model.CodeTransactionConflict}, code)
			}
		}
	}
	assertForest(t, f)
}

// =============================================================================
// Update
// =============================================================================

func TestUpdate_StageHistoryFidelity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, "t", nil, f.stage("S1"), "alice", "bob")

	_, err := f.mgr.Update(ctx, task.ID, model.TaskPatch{StageID: model.Some(f.stages["S2"].ID)}, "bob")
	require.NoError(t, err)
	h := f.history(t, task.ID)
	require.Len(t, h, 1)
	assert.Equal(t, f.stages["S1"].ID, *h[0].FromStageID)
	assert.Equal(t, f.stages["S2"].ID, h[0].ToStageID)
	assert.Equal(t, "bob", h[0].ChangedBy)

	// Same stage again: no entry.
	_, err = f.mgr.Update(ctx, task.ID, model.TaskPatch{StageID: model.Some(f.stages["S2"].ID)}, "bob")
	require.NoError(t, err)
	assert.Len(t, f.history(t, task.ID), 1)

	// Clearing the stage: no entry.
	d, err := f.mgr.Update(ctx, task.ID, model.TaskPatch{StageID: model.Null[string]()}, "bob")
	require.NoError(t, err)
	assert.Nil(t, d.StageID)
	assert.Nil(t, d.Stage)
	assert.Len(t, f.history(t, task.ID), 1)

	// From no stage: entry with a nil from.
	_, err = f.mgr.Update(ctx, task.ID, model.TaskPatch{StageID: model.Some(f.stages["S3"].ID)}, "bob")
	require.NoError(t, err)
	h = f.history(t, task.ID)
	require.Len(t, h, 2)
	assert.Nil(t, h[1].FromStageID)

	// Two transitions, each notifying alice but never the actor bob.
	sent := f.sent(notify.KindStatusChange)
	require.Len(t, sent, 2)
	for _, m := range sent {
		assert.Equal(t, "alice", m.Recipient)
	}
}

func TestUpdate_PartialSemantics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.mgr.Create(ctx, model.CreateTaskInput{
		ProjectID:   f.project.ID,
		Title:       "Original",
		Description: "details",
		Importance:  model.ImportanceHigh,
	}, "u")
	require.NoError(t, err)

	d, err := f.mgr.Update(ctx, created.ID, model.TaskPatch{
		Description: model.Null[string](),
		Position:    model.Some(9),
	}, "u")
	require.NoError(t, err)
	assert.Equal(t, "Original", d.Title)
	assert.Equal(t, "", d.Description)
	assert.Equal(t, model.ImportanceHigh, d.Importance)
	assert.Equal(t, 9, d.Position)

	ev := f.events.GetEventsByType(events.TypeTaskUpdated)
	require.Len(t, ev, 1)
	assert.Equal(t, []string{"description", "position"}, ev[0].Data.(events.TaskData).Fields)

	// An empty patch returns the current state and emits nothing.
	same, err := f.mgr.Update(ctx, created.ID, model.TaskPatch{}, "u")
	require.NoError(t, err)
	assert.True(t, d.UpdatedAt.Equal(same.UpdatedAt))
	assert.Len(t, f.events.GetEventsByType(events.TypeTaskUpdated), 1)
}

func TestUpdate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.task(t, "parent", nil, nil)
	child := f.task(t, "child", &parent.ID, nil)

	_, err := f.mgr.Update(ctx, "nope", model.TaskPatch{Title: model.Some("x")}, "u")
	requireCode(t, err, model.CodeTaskNotFound)

	_, err = f.mgr.Update(ctx, child.ID, model.TaskPatch{StageID: model.Some("nope")}, "u")
	requireCode(t, err, model.CodeStageNotFound)

	_, err = f.mgr.Update(ctx, child.ID, model.TaskPatch{Title: model.Null[string]()}, "u")
	requireCode(t, err, model.CodeInvalidInput)

	_, err = f.mgr.Update(ctx, parent.ID, model.TaskPatch{ParentTaskID: model.Some(child.ID)}, "u")
	requireCode(t, err, model.CodeTaskCircularParent)

	d, err := f.mgr.Update(ctx, child.ID, model.TaskPatch{ParentTaskID: model.Null[string]()}, "u")
	require.NoError(t, err)
	assert.Nil(t, d.ParentTaskID)
	assert.Empty(t, f.history(t, child.ID))
}

// =============================================================================
// BulkUpdate
// =============================================================================

func TestBulkUpdate_MixedStages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := f.task(t, "t1", nil, f.stage("S1"), "alice")
	t2 := f.task(t, "t2", nil, f.stage("S2"))
	t3 := f.task(t, "t3", nil, f.stage("S3"))
	gone := f.task(t, "gone", nil, f.stage("S1"))
	require.NoError(t, f.mgr.SoftDelete(ctx, gone.ID, "u"))

	updated, err := f.mgr.BulkUpdate(ctx,
		[]string{t1.ID, t2.ID, t3.ID, gone.ID, "missing", t1.ID},
		model.TaskPatch{StageID: model.Some(f.stages["S3"].ID)}, "bob")
	require.NoError(t, err)
	require.Len(t, updated, 3)
	for _, d := range updated {
		assert.Equal(t, f.stages["S3"].ID, *d.StageID)
	}

	h1 := f.history(t, t1.ID)
	require.Len(t, h1, 1)
	assert.Equal(t, f.stages["S1"].ID, *h1[0].FromStageID)
	h2 := f.history(t, t2.ID)
	require.Len(t, h2, 1)
	assert.Equal(t, f.stages["S2"].ID, *h2[0].FromStageID)
	assert.Empty(t, f.history(t, t3.ID))
	assert.Empty(t, f.history(t, gone.ID))

	ev := f.events.GetEventsByType(events.TypeTaskBulkUpdated)
	require.Len(t, ev, 1)
	assert.Equal(t, []string{t1.ID, t2.ID, t3.ID}, ev[0].Data.(events.TaskBulkUpdatedData).TaskIDs)

	sent := f.sent(notify.KindStatusChange)
	require.Len(t, sent, 1)
	assert.Equal(t, "alice", sent[0].Recipient)
}

func TestBulkUpdate_EmptyIsNoop(t *testing.T) {
	f := newFixture(t)
	out, err := f.mgr.BulkUpdate(context.Background(), nil, model.TaskPatch{Title: model.Some("x")}, "u")
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Empty(t, f.events.GetEventsByType(events.TypeTaskBulkUpdated))
}

func TestBulkUpdate_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.cat.CreateProject(ctx, model.CreateProjectInput{Name: "Other"}, "owner")
	require.NoError(t, err)
	foreign, err := f.mgr.Create(ctx, model.CreateTaskInput{ProjectID: other.ID, Title: "foreign"}, "u")
	require.NoError(t, err)
	local := f.task(t, "local", nil, f.stage("S1"))

	// The stage belongs to the first project only, so the foreign task
	// fails after the local one was already staged in the transaction.
	_, err = f.mgr.BulkUpdate(ctx, []string{local.ID, foreign.ID},
		model.TaskPatch{StageID: model.Some(f.stages["S2"].ID), Title: model.Some("renamed")}, "u")
	requireCode(t, err, model.CodeStageNotFound)

	got, err := f.mgr.Get(ctx, local.ID)
	require.NoError(t, err)
	assert.Equal(t, "local", got.Title)
	assert.Equal(t, f.stages["S1"].ID, *got.StageID)
	assert.Empty(t, f.history(t, local.ID))
}

// =============================================================================
// SoftDelete / ListChildren
// =============================================================================

func TestSoftDelete_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, "t", nil, nil)

	require.NoError(t, f.mgr.SoftDelete(ctx, task.ID, "u"))
	requireCode(t, f.mgr.SoftDelete(ctx, task.ID, "u"), model.CodeTaskNotFound)
	requireCode(t, f.mgr.SoftDelete(ctx, "nope", "u"), model.CodeTaskNotFound)

	_, err := f.mgr.Get(ctx, task.ID)
	requireCode(t, err, model.CodeTaskNotFound)
	assert.Len(t, f.events.GetEventsByType(events.TypeTaskDeleted), 1)
}

func TestListChildren_OrderedAndLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.task(t, "parent", nil, nil)

	positions := map[string]int{"c": 2, "a": 0, "b": 1, "d": 5}
	ids := map[string]string{}
	for _, name := range []string{"c", "a", "b", "d"} {
		d, err := f.mgr.Create(ctx, model.CreateTaskInput{
			ProjectID: f.project.ID, ParentTaskID: &parent.ID, Title: name, Position: positions[name],
		}, "u")
		require.NoError(t, err)
		ids[name] = d.ID
	}
	f.task(t, "grandchild", model.StringPtr(ids["a"]), nil)
	require.NoError(t, f.mgr.SoftDelete(ctx, ids["d"], "u"))

	children, err := f.mgr.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	var titles []string
	for _, c := range children {
		titles = append(titles, c.Title)
	}
	assert.Equal(t, []string{"a", "b", "c"}, titles)

	// Children of a deleted parent stay reachable explicitly.
	require.NoError(t, f.mgr.SoftDelete(ctx, ids["a"], "u"))
	grand, err := f.mgr.ListChildren(ctx, ids["a"])
	require.NoError(t, err)
	assert.Len(t, grand, 1)

	_, err = f.mgr.ListChildren(ctx, "nope")
	requireCode(t, err, model.CodeTaskNotFound)
}

func TestListChildren_ExtremePositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.task(t, "parent", nil, nil)

	for _, c := range []struct {
		title    string
		position int
	}{{"hi", math.MaxInt}, {"lo", math.MinInt}, {"mid", 0}} {
		_, err := f.mgr.Create(ctx, model.CreateTaskInput{
			ProjectID: f.project.ID, ParentTaskID: &parent.ID, Title: c.title, Position: c.position,
		}, "u")
		require.NoError(t, err)
	}

	children, err := f.mgr.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	var titles []string
	for _, c := range children {
		titles = append(titles, c.Title)
	}
	assert.Equal(t, []string{"lo", "mid", "hi"}, titles)

	all, err := f.mgr.ListProjectTasks(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "lo", all[0].Title)
	assert.Equal(t, "hi", all[3].Title)
}

func TestListProjectTasks_LiveAndOrdered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.task(t, "root", nil, nil)
	for i, name := range []string{"z", "y"} {
		_, err := f.mgr.Create(ctx, model.CreateTaskInput{
			ProjectID: f.project.ID, ParentTaskID: &root.ID, Title: name, Position: i + 1,
		}, "u")
		require.NoError(t, err)
	}
	gone := f.task(t, "gone", nil, nil)
	require.NoError(t, f.mgr.SoftDelete(ctx, gone.ID, "u"))

	all, err := f.mgr.ListProjectTasks(ctx, f.project.ID)
	require.NoError(t, err)
	var titles []string
	for _, tk := range all {
		titles = append(titles, tk.Title)
	}
	assert.Equal(t, []string{"root", "z", "y"}, titles)

	_, err = f.mgr.ListProjectTasks(ctx, "nope")
	requireCode(t, err, model.CodeProjectNotFound)
}

// =============================================================================
// SetAssignees
// =============================================================================

func TestSetAssignees_NotifiesOnlyNewcomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, "t", nil, nil, "alice", "bob")
	f.dispatcher.Wait()
	f.notifier.Reset()

	d, err := f.mgr.SetAssignees(ctx, task.ID, []string{"bob", "carol", "dave"}, "dave")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol", "dave"}, assigneeIDs(d.Assignees))

	sent := f.sent(notify.KindTaskAssigned)
	require.Len(t, sent, 1)
	assert.Equal(t, "carol", sent[0].Recipient)

	ev := f.events.GetEventsByType(events.TypeTaskAssigneesChanged)
	require.Len(t, ev, 1)
	data := ev[0].Data.(events.AssigneesChangedData)
	assert.ElementsMatch(t, []string{"carol", "dave"}, data.Added)
	assert.Equal(t, []string{"alice"}, data.Removed)

	// Same set again: nothing changes, nothing is emitted.
	_, err = f.mgr.SetAssignees(ctx, task.ID, []string{"dave", "carol", "bob"}, "u")
	require.NoError(t, err)
	assert.Len(t, f.events.GetEventsByType(events.TypeTaskAssigneesChanged), 1)

	_, err = f.mgr.SetAssignees(ctx, task.ID, []string{""}, "u")
	requireCode(t, err, model.CodeInvalidInput)
	_, err = f.mgr.SetAssignees(ctx, task.ID, []string{"bob", "carol\nlevel=ERROR"}, "u")
	requireCode(t, err, model.CodeInvalidInput)
	_, err = f.mgr.SetAssignees(ctx, "nope", nil, "u")
	requireCode(t, err, model.CodeTaskNotFound)
}

func TestNotificationFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.notifier.Err = errors.New("mail server down")

	d, err := f.mgr.Create(context.Background(), model.CreateTaskInput{
		ProjectID: f.project.ID, Title: "t", Assignees: []string{"alice"},
	}, "u")
	require.NoError(t, err)
	f.dispatcher.Wait()

	_, err = f.mgr.Get(context.Background(), d.ID)
	assert.NoError(t, err)
}

func TestListHistory_UnknownTask(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.ListHistory(context.Background(), "nope")
	requireCode(t, err, model.CodeTaskNotFound)
}
