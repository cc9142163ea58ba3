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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianPlanner/services/planner/events"
	"github.com/AleutianAI/AleutianPlanner/services/planner/graph"
	"github.com/AleutianAI/AleutianPlanner/services/planner/ids"
	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
	"github.com/AleutianAI/AleutianPlanner/services/planner/notify"
	"github.com/AleutianAI/AleutianPlanner/services/planner/observability"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
	"github.com/AleutianAI/AleutianPlanner/services/planner/workflow"
)

var tracer = otel.Tracer("aleutian.planner.tasks")

// Option configures a Manager or a Catalog.
type Option func(*options)

type options struct {
	checker    *graph.Checker
	recorder   *workflow.Recorder
	dispatcher *notify.Dispatcher
	publisher  events.Publisher
	metrics    *observability.Metrics
	ids        *ids.Generator
	logger     *slog.Logger
}

// WithChecker sets the cycle checker used for re-parenting.
func WithChecker(c *graph.Checker) Option {
	return func(o *options) { o.checker = c }
}

// WithRecorder sets the stage transition recorder.
func WithRecorder(r *workflow.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithDispatcher sets where assignment and status notifications go.
// Without one, notifications are skipped.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithPublisher sets the domain event sink. Without one, events are
// dropped.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithMetrics records operation outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithIDs sets the identifier generator.
func WithIDs(g *ids.Generator) Option {
	return func(o *options) { o.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ids == nil {
		o.ids = ids.NewGenerator()
	}
	if o.checker == nil {
		o.checker = graph.NewChecker(nil)
	}
	if o.recorder == nil {
		o.recorder = workflow.NewRecorder(o.ids)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// publish hands ev to the configured publisher, if any.
func (o *options) publish(ctx context.Context, ev events.Event) {
	if o.publisher != nil {
		o.publisher.Publish(ctx, ev)
	}
}

// startOp opens the span for one operation and returns the function that
// closes it and records the outcome.
func (o *options) startOp(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "tasks."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		o.metrics.RecordOperation(ctx, op, start, err)
		span.End()
	}
}

// notFound maps store.ErrNotFound to the coded error sentinel and leaves
// other errors alone.
func notFound(err error, sentinel *model.Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return sentinel
	}
	return err
}

// liveTask loads a task that exists and is not soft-deleted.
func liveTask(tx *store.Tx, id string) (*model.Task, error) {
	t, err := tx.GetTask(id)
	if err != nil {
		return nil, notFound(err, model.ErrTaskNotFound)
	}
	if t.Deleted() {
		return nil, model.ErrTaskNotFound
	}
	return t, nil
}

// projectStage loads a stage and checks it belongs to projectID. A stage of
// another project is reported as missing.
func projectStage(tx *store.Tx, projectID, stageID string) (*model.Stage, error) {
	s, err := tx.GetStage(stageID)
	if err != nil {
		return nil, notFound(err, model.ErrStageNotFound)
	}
	if s.ProjectID != projectID {
		return nil, model.ErrStageNotFound
	}
	return s, nil
}

// hydrate attaches assignees and the current stage to t.
func hydrate(tx *store.Tx, t *model.Task) (*model.TaskDetail, error) {
	assignees, err := tx.ListAssignments(t.ID)
	if err != nil {
		return nil, err
	}
	if assignees == nil {
		assignees = []model.Assignment{}
	}
	detail := &model.TaskDetail{Task: *t, Assignees: assignees}
	if t.StageID != nil {
		s, err := tx.GetStage(*t.StageID)
		switch {
		case err == nil:
			detail.Stage = s
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	return detail, nil
}

func assigneeIDs(as []model.Assignment) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.UserID)
	}
	return out
}
