// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deps manages scheduling dependencies between tasks.
//
// The dependency graph is kept acyclic. An edge is inserted only after the
// predecessor walk in graph.Checker finds no path back from the successor,
// and the walk, the duplicate check and the insert share one serializable
// transaction. Two inserts that would jointly close a cycle cannot both
// commit: the second fails with TRANSACTION_CONFLICT.
package deps

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianPlanner/services/planner/events"
	"github.com/AleutianAI/AleutianPlanner/services/planner/graph"
	"github.com/AleutianAI/AleutianPlanner/services/planner/ids"
	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
	"github.com/AleutianAI/AleutianPlanner/services/planner/observability"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
)

var tracer = otel.Tracer("aleutian.planner.deps")

// Manager is the dependency graph manager.
//
// Thread Safety: Manager is safe for concurrent use.
type Manager struct {
	store     *store.Store
	checker   *graph.Checker
	publisher events.Publisher
	metrics   *observability.Metrics
	ids       *ids.Generator
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithChecker sets the cycle checker.
func WithChecker(c *graph.Checker) Option {
	return func(m *Manager) { m.checker = c }
}

// WithPublisher sets the domain event sink.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithMetrics records operation outcomes.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithIDs sets the identifier generator.
func WithIDs(g *ids.Generator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager over st.
func NewManager(st *store.Store, opts ...Option) *Manager {
	m := &Manager{store: st}
	for _, opt := range opts {
		opt(m)
	}
	if m.checker == nil {
		m.checker = graph.NewChecker(nil)
	}
	if m.ids == nil {
		m.ids = ids.NewGenerator()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

func (m *Manager) startOp(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "deps."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		m.metrics.RecordOperation(ctx, op, start, err)
		span.End()
	}
}

func (m *Manager) publish(ctx context.Context, typ events.Type, projectID, actor string, edge *model.DependencyEdge) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(ctx, events.Event{
		Type:      typ,
		ProjectID: projectID,
		Actor:     actor,
		Data:      events.DependencyData{Edge: *edge},
	})
}

// Create inserts the edge predecessor -> successor.
//
// # Description
//
// Checks run in this order and the first failure wins:
//
//  1. SELF_DEPENDENCY when both IDs are equal, whatever the graph holds.
//  2. PREDECESSOR_NOT_FOUND / SUCCESSOR_NOT_FOUND for absent or
//     soft-deleted tasks.
//  3. DEPENDENCY_EXISTS when the ordered pair is already linked.
//  4. CIRCULAR_DEPENDENCY when a path successor -> ... -> predecessor
//     exists. The message names the cycle.
//
// DepType defaults to FS and LagMinutes to 0.
//
// Outputs:
//   - *model.DependencyEdge: The inserted edge.
//   - error: One of the codes above, INVALID_INPUT or TRANSACTION_CONFLICT.
func (m *Manager) Create(ctx context.Context, in model.CreateDependencyInput, actor string) (edge *model.DependencyEdge, err error) {
	ctx, done := m.startOp(ctx, "dependency.create",
		attribute.String("predecessor_task_id", in.PredecessorTaskID),
		attribute.String("successor_task_id", in.SuccessorTaskID),
	)
	defer func() { done(err) }()

	if err := model.Validate(in); err != nil {
		return nil, err
	}
	if in.PredecessorTaskID == in.SuccessorTaskID {
		return nil, model.Errorf(model.CodeSelfDependency, "task %s cannot depend on itself", in.PredecessorTaskID)
	}
	depType := in.DepType
	if depType == "" {
		depType = model.DepFinishToStart
	}

	var projectID string
	err = m.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := liveTask(tx, in.PredecessorTaskID, model.ErrPredecessorNotFound); err != nil {
			return err
		}
		succ, err := liveTask(tx, in.SuccessorTaskID, model.ErrSuccessorNotFound)
		if err != nil {
			return err
		}
		projectID = succ.ProjectID

		_, err = tx.FindEdge(in.PredecessorTaskID, in.SuccessorTaskID)
		switch {
		case err == nil:
			return model.Errorf(model.CodeDependencyExists,
				"dependency %s -> %s already exists", in.PredecessorTaskID, in.SuccessorTaskID)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		res, err := m.checker.WouldCreateCycle(ctx, graph.KindDependency, tx, in.PredecessorTaskID, in.SuccessorTaskID)
		if err != nil {
			return err
		}
		if res.Cycle {
			cycle := append(res.Path, in.SuccessorTaskID)
			return model.Errorf(model.CodeCircularDependency,
				"dependency %s -> %s would create a cycle: %s",
				in.PredecessorTaskID, in.SuccessorTaskID, strings.Join(cycle, " -> "))
		}

		now := tx.Now()
		edge = &model.DependencyEdge{
			ID:                m.ids.New(),
			PredecessorTaskID: in.PredecessorTaskID,
			SuccessorTaskID:   in.SuccessorTaskID,
			DepType:           depType,
			LagMinutes:        in.LagMinutes,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return tx.InsertEdge(edge)
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, events.TypeDependencyCreated, projectID, actor, edge)
	return edge, nil
}

// List returns the edges touching taskID.
//
// DirectionPredecessor returns edges where taskID is the successor (what
// must happen first), DirectionSuccessor those where it is the predecessor
// (what waits on it) and DirectionBoth their union. Results are ordered by
// creation time, ties broken by ID.
func (m *Manager) List(ctx context.Context, taskID string, direction model.Direction) (edges []*model.DependencyEdge, err error) {
	ctx, done := m.startOp(ctx, "dependency.list",
		attribute.String("task_id", taskID),
		attribute.String("direction", string(direction)),
	)
	defer func() { done(err) }()

	if !direction.Valid() {
		return nil, model.InvalidInput("direction must be predecessor or successor")
	}

	err = m.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetTask(taskID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return model.ErrTaskNotFound
			}
			return err
		}
		if direction != model.DirectionSuccessor {
			in, err := tx.ListEdgesBySuccessor(taskID)
			if err != nil {
				return err
			}
			edges = append(edges, in...)
		}
		if direction != model.DirectionPredecessor {
			out, err := tx.ListEdgesByPredecessor(taskID)
			if err != nil {
				return err
			}
			edges = append(edges, out...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if edges == nil {
		edges = []*model.DependencyEdge{}
	}
	slices.SortFunc(edges, func(a, b *model.DependencyEdge) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return edges, nil
}

// Update changes an edge's type or lag. The direction cannot change, so
// acyclicity is not re-checked. An empty patch returns the edge as stored.
func (m *Manager) Update(ctx context.Context, edgeID string, patch model.DependencyPatch, actor string) (edge *model.DependencyEdge, err error) {
	ctx, done := m.startOp(ctx, "dependency.update", attribute.String("edge_id", edgeID))
	defer func() { done(err) }()

	if err := patch.Validate(); err != nil {
		return nil, err
	}

	changed := patch.DepType.Set || patch.LagMinutes.Set
	var projectID string
	err = m.store.Update(ctx, func(tx *store.Tx) error {
		edge, err = getEdge(tx, edgeID)
		if err != nil || !changed {
			return err
		}
		if patch.DepType.Set {
			edge.DepType = *patch.DepType.Value
		}
		if patch.LagMinutes.Set {
			edge.LagMinutes = *patch.LagMinutes.Value
		}
		edge.UpdatedAt = tx.Now()
		projectID = edgeProject(tx, edge)
		return tx.PutEdge(edge)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.publish(ctx, events.TypeDependencyUpdated, projectID, actor, edge)
	}
	return edge, nil
}

// Delete removes an edge. Removing an edge can never create a cycle, so
// nothing is checked beyond its existence.
func (m *Manager) Delete(ctx context.Context, edgeID, actor string) (err error) {
	ctx, done := m.startOp(ctx, "dependency.delete", attribute.String("edge_id", edgeID))
	defer func() { done(err) }()

	var (
		edge      *model.DependencyEdge
		projectID string
	)
	err = m.store.Update(ctx, func(tx *store.Tx) error {
		edge, err = getEdge(tx, edgeID)
		if err != nil {
			return err
		}
		projectID = edgeProject(tx, edge)
		return tx.DeleteEdge(edge)
	})
	if err != nil {
		return err
	}

	m.publish(ctx, events.TypeDependencyDeleted, projectID, actor, edge)
	return nil
}

func liveTask(tx *store.Tx, id string, missing *model.Error) (*model.Task, error) {
	t, err := tx.GetTask(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.Errorf(missing.Code, "%s: %s", missing.Message, id)
	}
	if err != nil {
		return nil, err
	}
	if t.Deleted() {
		return nil, model.Errorf(missing.Code, "%s: %s", missing.Message, id)
	}
	return t, nil
}

func getEdge(tx *store.Tx, id string) (*model.DependencyEdge, error) {
	e, err := tx.GetEdge(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrDependencyNotFound
	}
	return e, err
}

// edgeProject returns the successor's project, or "" when the row is gone.
func edgeProject(tx *store.Tx, e *model.DependencyEdge) string {
	t, err := tx.GetTask(e.SuccessorTaskID)
	if err != nil {
		return ""
	}
	return t.ProjectID
}
