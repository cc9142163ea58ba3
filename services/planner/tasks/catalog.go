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
	"cmp"
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
	"github.com/AleutianAI/AleutianPlanner/services/planner/store"
)

// Catalog manages the workspaces, projects and stages tasks belong to.
type Catalog struct {
	options
	store *store.Store
}

// NewCatalog returns a Catalog over st.
func NewCatalog(st *store.Store, opts ...Option) *Catalog {
	return &Catalog{options: buildOptions(opts), store: st}
}

// CreateWorkspace inserts a workspace.
func (c *Catalog) CreateWorkspace(ctx context.Context, in model.CreateWorkspaceInput, actor string) (ws *model.Workspace, err error) {
	ctx, done := c.startOp(ctx, "workspace.create")
	defer func() { done(err) }()

	if err := validateName(in, in.Name); err != nil {
		return nil, err
	}
	err = c.store.Update(ctx, func(tx *store.Tx) error {
		now := tx.Now()
		ws = &model.Workspace{
			ID:        c.ids.New(),
			Name:      in.Name,
			CreatedBy: actor,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.PutWorkspace(ws)
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// ArchiveWorkspace archives a workspace. Archiving twice keeps the first
// timestamp.
func (c *Catalog) ArchiveWorkspace(ctx context.Context, workspaceID, actor string) (ws *model.Workspace, err error) {
	ctx, done := c.startOp(ctx, "workspace.archive", attribute.String("workspace_id", workspaceID))
	defer func() { done(err) }()

	err = c.store.Update(ctx, func(tx *store.Tx) error {
		ws, err = tx.GetWorkspace(workspaceID)
		if err != nil {
			return notFound(err, model.ErrWorkspaceNotFound)
		}
		if ws.Archived() {
			return nil
		}
		now := tx.Now()
		ws.ArchivedAt = &now
		ws.UpdatedAt = now
		return tx.PutWorkspace(ws)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("workspace archived",
		"workspace_id", workspaceID,
		"actor", actor)
	return ws, nil
}

// CreateProject inserts a project, optionally inside a workspace that must
// exist and be active.
func (c *Catalog) CreateProject(ctx context.Context, in model.CreateProjectInput, actor string) (p *model.Project, err error) {
	ctx, done := c.startOp(ctx, "project.create", attribute.String("workspace_id", in.WorkspaceID))
	defer func() { done(err) }()

	if err := validateName(in, in.Name); err != nil {
		return nil, err
	}
	err = c.store.Update(ctx, func(tx *store.Tx) error {
		if in.WorkspaceID != "" {
			ws, err := tx.GetWorkspace(in.WorkspaceID)
			if err != nil {
				return notFound(err, model.ErrWorkspaceNotFound)
			}
			if ws.Archived() {
				return model.ErrWorkspaceArchived
			}
		}
		now := tx.Now()
		p = &model.Project{
			ID:          c.ids.New(),
			WorkspaceID: in.WorkspaceID,
			Name:        in.Name,
			CreatedBy:   actor,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.PutProject(p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ArchiveProject archives a project. New tasks can no longer be created in
// it.
func (c *Catalog) ArchiveProject(ctx context.Context, projectID, actor string) (p *model.Project, err error) {
	ctx, done := c.startOp(ctx, "project.archive", attribute.String("project_id", projectID))
	defer func() { done(err) }()

	err = c.store.Update(ctx, func(tx *store.Tx) error {
		p, err = tx.GetProject(projectID)
		if err != nil {
			return notFound(err, model.ErrProjectNotFound)
		}
		if p.Archived() {
			return nil
		}
		now := tx.Now()
		p.ArchivedAt = &now
		p.UpdatedAt = now
		return tx.PutProject(p)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("project archived",
		"project_id", projectID,
		"actor", actor)
	return p, nil
}

// CreateStage adds a workflow stage to a project.
func (c *Catalog) CreateStage(ctx context.Context, projectID string, in model.CreateStageInput) (s *model.Stage, err error) {
	ctx, done := c.startOp(ctx, "stage.create", attribute.String("project_id", projectID))
	defer func() { done(err) }()

	if err := validateName(in, in.Name); err != nil {
		return nil, err
	}
	err = c.store.Update(ctx, func(tx *store.Tx) error {
		p, err := tx.GetProject(projectID)
		if err != nil {
			return notFound(err, model.ErrProjectNotFound)
		}
		if p.Archived() {
			return model.ErrProjectArchived
		}
		s = &model.Stage{
			ID:         c.ids.New(),
			ProjectID:  projectID,
			Name:       in.Name,
			Position:   in.Position,
			IsTerminal: in.IsTerminal,
			CreatedAt:  tx.Now(),
		}
		return tx.PutStage(s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListStages returns a project's stages ordered by position.
func (c *Catalog) ListStages(ctx context.Context, projectID string) (stages []*model.Stage, err error) {
	ctx, done := c.startOp(ctx, "stage.list", attribute.String("project_id", projectID))
	defer func() { done(err) }()

	err = c.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetProject(projectID); err != nil {
			return notFound(err, model.ErrProjectNotFound)
		}
		stages, err = tx.ListStages(projectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if stages == nil {
		stages = []*model.Stage{}
	}
	slices.SortFunc(stages, func(a, b *model.Stage) int {
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return stages, nil
}

func validateName(in any, name string) error {
	if err := model.Validate(in); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return model.InvalidInput("name cannot be empty")
	}
	return nil
}
