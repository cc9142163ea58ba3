// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the planner's graph store accessor.
//
// It maps workspaces, projects, stages, tasks, dependency edges, assignments
// and status history onto BadgerDB keys and exposes the graph primitives the
// managers build on: GetTask, ListChildren, ListEdgesBySuccessor,
// ListEdgesByPredecessor, InsertEdge, DeleteEdge and UpdateTaskParent.
//
// # Key layout
//
//	ws/<id>                        Workspace
//	prj/<id>                       Project
//	stg/<id>                       Stage
//	idx/stg/<project>/<stage>      stage membership
//	task/<id>                      Task
//	idx/ptask/<project>/<task>     project membership
//	idx/child/<parent>/<task>      parent/child link
//	idx/root/<project>/<task>      root task (no parent)
//	edge/<id>                      DependencyEdge
//	idx/pred/<succ>/<pred>         edge id, listed by successor
//	idx/succ/<pred>/<succ>         edge id, listed by predecessor
//	guard/pred/<task>              predecessor-set version
//	asg/<task>/<user>              Assignment
//	hist/<task>/<entry>            StatusHistoryEntry
//
// # Serializability
//
// Every mutation runs inside one Update call, i.e. one Badger read-write
// transaction. Badger detects a conflict when a key this transaction read
// was committed by another transaction after this one started. Point reads
// are covered directly. Prefix scans are not (a concurrently inserted key
// under the prefix is a phantom), so the predecessor index is paired with a
// guard key: Predecessors reads guard/pred/<task> and every edge insert or
// delete rewrites the guard of the edge's successor.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	pbadger "github.com/AleutianAI/AleutianPlanner/services/planner/storage/badger"
	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
)

// ErrNotFound is returned by point lookups for absent rows.
var ErrNotFound = errors.New("store: not found")

// Store runs transactions against the planner database.
//
// Thread Safety: Safe for concurrent use. Each Tx belongs to one goroutine.
type Store struct {
	db  *pbadger.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for guard versions and Tx.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New wraps an open database.
func New(db *pbadger.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update runs fn in one serializable read-write transaction. If fn returns
// an error nothing is written. A lost race surfaces as
// model.ErrTransactionConflict; the caller may retry the whole operation.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn, now: s.now().UTC()})
	})
	return translate(err)
}

// View runs fn against a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn, now: s.now().UTC()})
	})
	return translate(err)
}

// translate maps Badger commit errors to coded errors. ErrTxnTooBig is
// INVALID_INPUT, not retryable: the caller must split the request.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return model.Wrap(model.CodeTransactionConflict, err, "concurrent modification, retry the request")
	case errors.Is(err, badger.ErrTxnTooBig):
		return model.Wrap(model.CodeInvalidInput, err, "operation touches too many rows")
	default:
		return err
	}
}

// Tx is one open transaction. All reads observe a single snapshot and
// include this transaction's own pending writes.
type Tx struct {
	txn *badger.Txn
	now time.Time
}

// Now is the timestamp shared by every row this transaction writes.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// =============================================================================
// Encoding helpers
// =============================================================================

func (tx *Tx) getJSON(key string, out any) error {
	item, err := tx.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

func (tx *Tx) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := tx.txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (tx *Tx) putRaw(key string, val []byte) error {
	if err := tx.txn.Set([]byte(key), val); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (tx *Tx) delete(key string) error {
	if err := tx.txn.Delete([]byte(key)); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// scanKeys calls fn with the suffix after prefix and the raw value of
// every key under prefix, in key order.
func (tx *Tx) scanKeys(prefix string, withValues bool, fn func(suffix string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = withValues
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		suffix := string(item.Key()[len(prefix):])
		var val []byte
		if withValues {
			v, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s%s: %w", prefix, suffix, err)
			}
			val = v
		}
		if err := fn(suffix, val); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Keys
// =============================================================================

func workspaceKey(id string) string { return "ws/" + id }
func projectKey(id string) string { return "prj/" + id }
func stageKey(id string) string { return "stg/" + id }
func projectStagePrefix(projectID string) string { return "idx/stg/" + projectID + "/" }
func taskKey(id string) string { return "task/" + id }
func projectTaskPrefix(projectID string) string { return "idx/ptask/" + projectID + "/" }
func childPrefix(parentID string) string { return "idx/child/" + parentID + "/" }
func rootPrefix(projectID string) string { return "idx/root/" + projectID + "/" }
func edgeKey(id string) string { return "edge/" + id }
func predPrefix(successorID string) string { return "idx/pred/" + successorID + "/" }
func succPrefix(predecessorID string) string { return "idx/succ/" + predecessorID + "/" }
func predGuardKey(taskID string) string { return "guard/pred/" + taskID }
func assignmentPrefix(taskID string) string { return "asg/" + taskID + "/" }
func historyPrefix(taskID string) string { return "hist/" + taskID + "/" }

// =============================================================================
// Workspaces, projects, stages
// =============================================================================

// GetWorkspace returns the workspace or ErrNotFound.
func (tx *Tx) GetWorkspace(id string) (*model.Workspace, error) {
	var w model.Workspace
	if err := tx.getJSON(workspaceKey(id), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// PutWorkspace inserts or replaces a workspace row.
func (tx *Tx) PutWorkspace(w *model.Workspace) error {
	return tx.putJSON(workspaceKey(w.ID), w)
}

// GetProject returns the project or ErrNotFound.
func (tx *Tx) GetProject(id string) (*model.Project, error) {
	var p model.Project
	if err := tx.getJSON(projectKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutProject inserts or replaces a project row.
func (tx *Tx) PutProject(p *model.Project) error {
	return tx.putJSON(projectKey(p.ID), p)
}

// GetStage returns the stage or ErrNotFound.
func (tx *Tx) GetStage(id string) (*model.Stage, error) {
	var s model.Stage
	if err := tx.getJSON(stageKey(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// PutStage inserts or replaces a stage and its project index entry.
func (tx *Tx) PutStage(s *model.Stage) error {
	if err := tx.putJSON(stageKey(s.ID), s); err != nil {
		return err
	}
	return tx.putRaw(projectStagePrefix(s.ProjectID)+s.ID, nil)
}

// ListStages returns a project's stages in index order (unsorted by
// position; callers sort).
func (tx *Tx) ListStages(projectID string) ([]*model.Stage, error) {
	var out []*model.Stage
	err := tx.scanKeys(projectStagePrefix(projectID), false, func(stageID string, _ []byte) error {
		s, err := tx.GetStage(stageID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// =============================================================================
// Tasks
// =============================================================================

// GetTask returns the task row, soft-deleted or not, or ErrNotFound.
func (tx *Tx) GetTask(id string) (*model.Task, error) {
	var t model.Task
	if err := tx.getJSON(taskKey(id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTask writes a new task and its project and hierarchy index entries.
func (tx *Tx) InsertTask(t *model.Task) error {
	if err := tx.putJSON(taskKey(t.ID), t); err != nil {
		return err
	}
	if err := tx.putRaw(projectTaskPrefix(t.ProjectID)+t.ID, nil); err != nil {
		return err
	}
	return tx.putRaw(tx.hierarchyKey(t.ProjectID, t.ParentTaskID, t.ID), nil)
}

// PutTask rewrites a task row. The parent must not have changed; use
// UpdateTaskParent for that so the hierarchy index stays consistent.
func (tx *Tx) PutTask(t *model.Task) error {
	return tx.putJSON(taskKey(t.ID), t)
}

// UpdateTaskParent moves t under newParentID (nil for root) at position and
// rewrites the row and hierarchy index. t is updated in place.
func (tx *Tx) UpdateTaskParent(t *model.Task, newParentID *string, position int) error {
	oldKey := tx.hierarchyKey(t.ProjectID, t.ParentTaskID, t.ID)
	newKey := tx.hierarchyKey(t.ProjectID, newParentID, t.ID)
	if oldKey != newKey {
		if err := tx.delete(oldKey); err != nil {
			return err
		}
		if err := tx.putRaw(newKey, nil); err != nil {
			return err
		}
	}
	if newParentID != nil {
		t.ParentTaskID = model.StringPtr(*newParentID)
	} else {
		t.ParentTaskID = nil
	}
	t.Position = position
	return tx.PutTask(t)
}

func (tx *Tx) hierarchyKey(projectID string, parentID *string, taskID string) string {
	if parentID == nil {
		return rootPrefix(projectID) + taskID
	}
	return childPrefix(*parentID) + taskID
}

// ListChildren returns every direct child row of parentID, including
// soft-deleted ones, in ID order.
func (tx *Tx) ListChildren(parentID string) ([]*model.Task, error) {
	return tx.tasksUnder(childPrefix(parentID))
}

// ListRoots returns every root task row of a project.
func (tx *Tx) ListRoots(projectID string) ([]*model.Task, error) {
	return tx.tasksUnder(rootPrefix(projectID))
}

// ListProjectTasks returns every task row of a project.
func (tx *Tx) ListProjectTasks(projectID string) ([]*model.Task, error) {
	return tx.tasksUnder(projectTaskPrefix(projectID))
}

func (tx *Tx) tasksUnder(prefix string) ([]*model.Task, error) {
	var out []*model.Task
	err := tx.scanKeys(prefix, false, func(taskID string, _ []byte) error {
		t, err := tx.GetTask(taskID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// Parent returns the parent of taskID, or nil when it is a root or does not
// exist. It satisfies graph.ParentReader.
func (tx *Tx) Parent(taskID string) (*string, error) {
	t, err := tx.GetTask(taskID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t.ParentTaskID, nil
}

// =============================================================================
// Dependency edges
// =============================================================================

// GetEdge returns the edge or ErrNotFound.
func (tx *Tx) GetEdge(id string) (*model.DependencyEdge, error) {
	var e model.DependencyEdge
	if err := tx.getJSON(edgeKey(id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// FindEdge returns the edge predecessorID -> successorID or ErrNotFound.
// The lookup is a point read, so a concurrent insert of the same pair
// conflicts at commit.
func (tx *Tx) FindEdge(predecessorID, successorID string) (*model.DependencyEdge, error) {
	item, err := tx.txn.Get([]byte(succPrefix(predecessorID) + successorID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find edge: %w", err)
	}
	edgeID, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("find edge: %w", err)
	}
	return tx.GetEdge(string(edgeID))
}

// InsertEdge writes the edge row, both adjacency index entries, and bumps
// the successor's predecessor guard.
func (tx *Tx) InsertEdge(e *model.DependencyEdge) error {
	if err := tx.putJSON(edgeKey(e.ID), e); err != nil {
		return err
	}
	if err := tx.putRaw(predPrefix(e.SuccessorTaskID)+e.PredecessorTaskID, []byte(e.ID)); err != nil {
		return err
	}
	if err := tx.putRaw(succPrefix(e.PredecessorTaskID)+e.SuccessorTaskID, []byte(e.ID)); err != nil {
		return err
	}
	return tx.bumpPredGuard(e.SuccessorTaskID)
}

// PutEdge rewrites an edge row. Endpoints must not change.
func (tx *Tx) PutEdge(e *model.DependencyEdge) error {
	return tx.putJSON(edgeKey(e.ID), e)
}

// DeleteEdge removes the edge row and its index entries and bumps the
// successor's predecessor guard.
func (tx *Tx) DeleteEdge(e *model.DependencyEdge) error {
	if err := tx.delete(edgeKey(e.ID)); err != nil {
		return err
	}
	if err := tx.delete(predPrefix(e.SuccessorTaskID) + e.PredecessorTaskID); err != nil {
		return err
	}
	if err := tx.delete(succPrefix(e.PredecessorTaskID) + e.SuccessorTaskID); err != nil {
		return err
	}
	return tx.bumpPredGuard(e.SuccessorTaskID)
}

func (tx *Tx) bumpPredGuard(taskID string) error {
	return tx.putRaw(predGuardKey(taskID), []byte(strconv.FormatInt(tx.now.UnixNano(), 10)))
}

// readPredGuard registers the guard in this transaction's read set.
func (tx *Tx) readPredGuard(taskID string) error {
	_, err := tx.txn.Get([]byte(predGuardKey(taskID)))
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("read guard %s: %w", taskID, err)
	}
	return nil
}

// Predecessors returns the IDs of tasks with an edge into taskID. It
// satisfies graph.PredecessorReader.
func (tx *Tx) Predecessors(taskID string) ([]string, error) {
	if err := tx.readPredGuard(taskID); err != nil {
		return nil, err
	}
	var out []string
	err := tx.scanKeys(predPrefix(taskID), false, func(predID string, _ []byte) error {
		out = append(out, predID)
		return nil
	})
	return out, err
}

// ListEdgesBySuccessor returns the edges whose successor is taskID.
func (tx *Tx) ListEdgesBySuccessor(taskID string) ([]*model.DependencyEdge, error) {
	if err := tx.readPredGuard(taskID); err != nil {
		return nil, err
	}
	return tx.edgesUnder(predPrefix(taskID))
}

// ListEdgesByPredecessor returns the edges whose predecessor is taskID.
func (tx *Tx) ListEdgesByPredecessor(taskID string) ([]*model.DependencyEdge, error) {
	return tx.edgesUnder(succPrefix(taskID))
}

func (tx *Tx) edgesUnder(prefix string) ([]*model.DependencyEdge, error) {
	var out []*model.DependencyEdge
	err := tx.scanKeys(prefix, true, func(_ string, val []byte) error {
		e, err := tx.GetEdge(string(val))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// =============================================================================
// Assignments
// =============================================================================

// ListAssignments returns a task's assignments in user ID order.
func (tx *Tx) ListAssignments(taskID string) ([]model.Assignment, error) {
	var out []model.Assignment
	err := tx.scanKeys(assignmentPrefix(taskID), true, func(userID string, val []byte) error {
		var a model.Assignment
		if err := json.Unmarshal(val, &a); err != nil {
			return fmt.Errorf("decode assignment %s/%s: %w", taskID, userID, err)
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// PutAssignment inserts or replaces an assignment.
func (tx *Tx) PutAssignment(a model.Assignment) error {
	return tx.putJSON(assignmentPrefix(a.TaskID)+a.UserID, a)
}

// DeleteAssignment removes an assignment. Absent rows are ignored.
func (tx *Tx) DeleteAssignment(taskID, userID string) error {
	return tx.delete(assignmentPrefix(taskID) + userID)
}

// =============================================================================
// Status history
// =============================================================================

// AppendHistory writes a history entry. Entry IDs are ULIDs, so a prefix
// scan returns a task's history oldest first.
func (tx *Tx) AppendHistory(e *model.StatusHistoryEntry) error {
	return tx.putJSON(historyPrefix(e.TaskID)+e.ID, e)
}

// ListHistory returns a task's history oldest first.
func (tx *Tx) ListHistory(taskID string) ([]model.StatusHistoryEntry, error) {
	var out []model.StatusHistoryEntry
	err := tx.scanKeys(historyPrefix(taskID), true, func(entryID string, val []byte) error {
		var e model.StatusHistoryEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return fmt.Errorf("decode history %s/%s: %w", taskID, entryID, err)
		}
		out = append(out, e)
		return nil
	})
	return out, err
}
