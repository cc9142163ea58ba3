// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deps

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPlanner/services/planner/events"
	"github.com/AleutianAI/AleutianPlanner/services/planner/graph"
	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
	"github.com/AleutianAI/AleutianPlanner/services/planner/observability"
	pbadger "github.com/AleutianAI/AleutianPlanner/services/planner/storage/badger"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
)

type fixture struct {
	store   *store.Store
	mgr     *Manager
	events  *events.MockEmitter
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := pbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		store:   store.New(db),
		events:  events.NewMockEmitter(),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	checker := graph.NewChecker(func(k graph.Kind, visited int, cycle bool) {
		f.metrics.ObserveCycleCheck(k.String(), visited, cycle)
	})
	f.mgr = NewManager(f.store,
		WithChecker(checker),
		WithPublisher(f.events),
		WithMetrics(f.metrics),
	)
	return f
}

func (f *fixture) tasks(t *testing.T, ids ...string) {
	t.Helper()
	err := f.store.Update(context.Background(), func(tx *store.Tx) error {
		for _, id := range ids {
			if err := tx.InsertTask(&model.Task{
				ID:         id,
				ProjectID:  "P",
				Title:      id,
				Importance: model.ImportanceNormal,
				CreatedAt:  tx.Now(),
				UpdatedAt:  tx.Now(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) link(pred, succ string) (*model.DependencyEdge, error) {
	return f.mgr.Create(context.Background(), model.CreateDependencyInput{
		PredecessorTaskID: pred,
		SuccessorTaskID:   succ,
	}, "planner")
}

func requireCode(t *testing.T, err error, code model.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, model.CodeOf(err), "error: %v", err)
}

func TestCreate_Defaults(t *testing.T) {
	f := newFixture(t)
	f.tasks(t, "A", "B")

	e, err := f.link("A", "B")
	require.NoError(t, err)
	assert.Equal(t, model.DepFinishToStart, e.DepType)
	assert.Equal(t, 0, e.LagMinutes)
	assert.Len(t, e.ID, 26)

	ev := f.events.GetEventsByType(events.TypeDependencyCreated)
	require.Len(t, ev, 1)
	assert.Equal(t, "P", ev[0].ProjectID)
	assert.Equal(t, e.ID, ev[0].Data.(events.DependencyData).Edge.ID)

	custom, err := f.mgr.Create(context.Background(), model.CreateDependencyInput{
		PredecessorTaskID: "B", SuccessorTaskID: "A", DepType: model.DepStartToStart, LagMinutes: -30,
	}, "planner")
	requireCode(t, err, model.CodeCircularDependency)
	assert.Nil(t, custom)
}

func TestCreate_DirectCycle(t *testing.T) {
	f := newFixture(t)
	f.tasks(t, "A", "B")

	_, err := f.link("A", "B")
	require.NoError(t, err)
	_, err = f.link("B", "A")
	requireCode(t, err, model.CodeCircularDependency)
	assert.Contains(t, err.Error(), "A -> B -> A")
}

func TestCreate_IndirectCycleAndReversibility(t *testing.T) {
	f := newFixture(t)
	f.tasks(t, "A", "B", "C")

	_, err := f.link("A", "B")
	require.NoError(t, err)
	bc, err := f.link("B", "C")
	require.NoError(t, err)

	_, err = f.link("C", "A")
	requireCode(t, err, model.CodeCircularDependency)
	assert.Contains(t, err.Error(), "A -> B -> C -> A")

	require.NoError(t, f.mgr.Delete(context.Background(), bc.ID, "planner"))
	_, err = f.link("C", "A")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CycleChecksTotal.WithLabelValues("dependency", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RejectionsTotal.WithLabelValues("dependency.create", string(model.CodeCircularDependency))))
}

func TestCreate_SelfDependencyRegardlessOfState(t *testing.T) {
	f := newFixture(t)
	f.tasks(t, "X")

	for _, id := range []string{"X", "ghost"} {
		_, err := f.link(id, id)
		requireCode(t, err, model.CodeSelfDependency)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.tasks(t, "A", "B")

	_, err := f.link("A", "B")
	require.NoError(t, err)
	_, err = f.link("A", "B")
	requireCode(t, err, model.CodeDependencyExists)
}

func TestCreate_MissingOrDeletedTasks(t *testing.T) {
	f := newFixture(t)
	f.tasks(t, "A", "D")
	err := f.store.Update(context.Background(), func(tx *store.Tx) error {
		d, err := tx.GetTask("D")
		if err != nil {
			return err
		}
		now := tx.Now()
		d.DeletedAt = &now
		return tx.PutTask(d)
	})
	require.NoError(t, err)

	_, err = f.link("nope", "A")
	requireCode(t, err, model.CodePredecessorNotFound)
	_, err = f.link("A", "nope")
	requireCode(t, err, model.CodeSuccessorNotFound)
	_, err = f.link("D", "A")
	requireCode(t, err, model.CodePredecessorNotFound)
	_, err = f.link("A", "D")
	requireCode(t, err, model.CodeSuccessorNotFound)

	_, err = f.mgr.Create(context.Background(), model.CreateDependencyInput{
		PredecessorTaskID: "A", SuccessorTaskID: "D", DepType: "XX",
	}, "planner")
	requireCode(t, err, model.CodeInvalidInput)
}

// hasCycle runs a colouring DFS over every stored edge.
func hasCycle(t *testing.T, f *fixture, nodes []string) bool {
	t.Helper()
	succ := map[string][]string{}
	err := f.store.View(context.Background(), func(tx *store.Tx) error {
		for _, n := range nodes {
			out, err := tx.ListEdgesByPredecessor(n)
			if err != nil {
				return err
			}
			for _, e := range out {
				succ[n] = append(succ[n], e.SuccessorTaskID)
			}
		}
		return nil
	})
	require.NoError(t, err)

	const (
		white = iota
		grey
		black
	)
	color := map[string]int{}
	var visit func(string) bool
	visit = func(n string) bool {
		color[n] = grey
		for _, s := range succ[n] {
			if color[s] == grey || (color[s] == white && visit(s)) {
				return true
			}
		}
		color[n] = black
		return false
	}
	for _, n := range nodes {
		if color[n] == white && visit(n) {
			return true
		}
	}
	return false
}

func TestCreate_RandomInsertsStayAcyclic(t *testing.T) {
	f := newFixture(t)
	var nodes []string
	for i := range 15 {
		nodes = append(nodes, fmt.Sprintf("N%02d", i))
	}
	f.tasks(t, nodes...)

	rng := rand.New(rand.NewSource(42))
	accepted := 0
	for range 300 {
		p, s := nodes[rng.Intn(len(nodes))], nodes[rng.Intn(len(nodes))]
		_, err := f.link(p, s)
		if err == nil {
			accepted++
			continue
		}
		assert.Contains(t, []model.Code{
			model.CodeSelfDependency, model.CodeDependencyExists, model.CodeCircularDependency,
		}, model.CodeOf(err))
	}
	assert.Greater(t, accepted, 0)
	assert.False(t, hasCycle(t, f, nodes))
}

func TestCreate_ConcurrentInsertsCannotJointlyCloseCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := range 25 {
		a, b, c := fmt.Sprintf("A%d", i), fmt.Sprintf("B%d", i), fmt.Sprintf("C%d", i)
		f.tasks(t, a, b, c)
		_, err := f.link(a, b)
		require.NoError(t, err)

		// B->C and C->A are each fine alone but close A->B->C->A together.
		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, errs[0] = f.mgr.Create(ctx, model.CreateDependencyInput{PredecessorTaskID: b, SuccessorTaskID: c}, "u1")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, errs[1] = f.mgr.Create(ctx, model.CreateDependencyInput{PredecessorTaskID: c, SuccessorTaskID: a}, "u2")
		}()
		close(start)
		wg.Wait()

		require.False(t, errs[0] == nil && errs[1] == nil, "round %d: both edges committed", i)
		for _, err := range errs {
			if err != nil {
				assert.Contains(t, []model.Code{model.CodeCircularDependency, model.CodeTransactionConflict}, model.CodeOf(err))
			}
		}
		assert.False(t, hasCycle(t, f, []string{a, b, c}))
	}
}

func TestList_Directions(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	db, err := pbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db, store.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	f := &fixture{store: st, mgr: NewManager(st)}
	f.tasks(t, "A", "B", "C", "D")

	// Insert order: B->C, A->B, B->D.
	bc, err := f.link("B", "C")
	require.NoError(t, err)
	ab, err := f.link("A", "B")
	require.NoError(t, err)
	bd, err := f.link("B", "D")
	require.NoError(t, err)

	ctx := context.Background()
	preds, err := f.mgr.List(ctx, "B", model.DirectionPredecessor)
	require.NoError(t, err)
	assert.Equal(t, []string{ab.ID}, edgeIDs(preds))

	succs, err := f.mgr.List(ctx, "B", model.DirectionSuccessor)
	require.NoError(t, err)
	assert.Equal(t, []string{bc.ID, bd.ID}, edgeIDs(succs))

	both, err := f.mgr.List(ctx, "B", model.DirectionBoth)
	require.NoError(t, err)
	assert.Equal(t, []string{bc.ID, ab.ID, bd.ID}, edgeIDs(both))

	none, err := f.mgr.List(ctx, "D", model.DirectionSuccessor)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = f.mgr.List(ctx, "nope", model.DirectionBoth)
	requireCode(t, err, model.CodeTaskNotFound)
	_, err = f.mgr.List(ctx, "B", model.Direction("sideways"))
	requireCode(t, err, model.CodeInvalidInput)
}

func edgeIDs(es []*model.DependencyEdge) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	f.tasks(t, "A", "B")
	e, err := f.link("A", "B")
	require.NoError(t, err)
	ctx := context.Background()

	same, err := f.mgr.Update(ctx, e.ID, model.DependencyPatch{}, "u")
	require.NoError(t, err)
	assert.Equal(t, e.DepType, same.DepType)
	assert.True(t, e.UpdatedAt.Equal(same.UpdatedAt))
	assert.Empty(t, f.events.GetEventsByType(events.TypeDependencyUpdated))

	updated, err := f.mgr.Update(ctx, e.ID, model.DependencyPatch{
		DepType:    model.Some(model.DepFinishToFinish),
		LagMinutes: model.Some(-15),
	}, "u")
	require.NoError(t, err)
	assert.Equal(t, model.DepFinishToFinish, updated.DepType)
	assert.Equal(t, -15, updated.LagMinutes)
	assert.Equal(t, "A", updated.PredecessorTaskID)
	assert.Len(t, f.events.GetEventsByType(events.TypeDependencyUpdated), 1)

	lagOnly, err := f.mgr.Update(ctx, e.ID, model.DependencyPatch{LagMinutes: model.Some(60)}, "u")
	require.NoError(t, err)
	assert.Equal(t, model.DepFinishToFinish, lagOnly.DepType)
	assert.Equal(t, 60, lagOnly.LagMinutes)

	_, err = f.mgr.Update(ctx, e.ID, model.DependencyPatch{DepType: model.Null[model.DepType]()}, "u")
	requireCode(t, err, model.CodeInvalidInput)
	_, err = f.mgr.Update(ctx, "nope", model.DependencyPatch{LagMinutes: model.Some(1)}, "u")
	requireCode(t, err, model.CodeDependencyNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.tasks(t, "A", "B")
	e, err := f.link("A", "B")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, f.mgr.Delete(ctx, e.ID, "u"))
	requireCode(t, f.mgr.Delete(ctx, e.ID, "u"), model.CodeDependencyNotFound)
	assert.Len(t, f.events.GetEventsByType(events.TypeDependencyDeleted), 1)

	// The pair may be linked again, in either direction.
	_, err = f.link("B", "A")
	require.NoError(t, err)
}
