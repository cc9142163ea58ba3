// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianPlanner/pkg/ux"
	"github.com/AleutianAI/AleutianPlanner/services/planner"
	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
)

const treeRequestTimeout = 10 * time.Second

func runTree(cmd *cobra.Command, _ []string) error {
	if treeProject == "" {
		return fmt.Errorf("--project is required")
	}
	out := cmd.OutOrStdout()
	p := ux.NewPrinter(out, ux.DetectLevel(out))

	ctx, cancel := context.WithTimeout(cmd.Context(), treeRequestTimeout)
	defer cancel()
	client := &apiClient{base: strings.TrimRight(serverURL, "/"), http: http.DefaultClient}

	var stages planner.StageListResponse
	if err := client.get(ctx, "/v1/projects/"+url.PathEscape(treeProject)+"/stages", &stages); err != nil {
		return err
	}
	var tasks planner.TaskListResponse
	if err := client.get(ctx, "/v1/projects/"+url.PathEscape(treeProject)+"/tasks", &tasks); err != nil {
		return err
	}

	names := make(map[string]string, len(stages.Stages))
	for _, s := range stages.Stages {
		names[s.ID] = s.Name
	}
	roots := buildTree(tasks.Tasks, names)

	p.Title(fmt.Sprintf("Project %s (%d tasks)", treeProject, len(tasks.Tasks)))
	if len(roots) == 0 {
		p.Warning("no tasks")
		return nil
	}
	p.Tree(roots)
	return nil
}

// buildTree arranges tasks into their parent/child forest. Siblings are
// ordered by position, then ID. A task whose parent is not in the list is
// shown as a root.
func buildTree(tasks []*model.Task, stageNames map[string]string) []*ux.TreeNode {
	byID := make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	children := make(map[string][]*model.Task)
	var roots []*model.Task
	for _, t := range tasks {
		if t.ParentTaskID != nil {
			if _, ok := byID[*t.ParentTaskID]; ok {
				children[*t.ParentTaskID] = append(children[*t.ParentTaskID], t)
				continue
			}
		}
		roots = append(roots, t)
	}

	var build func(list []*model.Task) []*ux.TreeNode
	build = func(list []*model.Task) []*ux.TreeNode {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Position != list[j].Position {
				return list[i].Position < list[j].Position
			}
			return list[i].ID < list[j].ID
		})
		nodes := make([]*ux.TreeNode, 0, len(list))
		for _, t := range list {
			nodes = append(nodes, &ux.TreeNode{
				ID:       t.ID,
				Label:    t.Title,
				Detail:   taskDetail(t, stageNames),
				Children: build(children[t.ID]),
			})
		}
		return nodes
	}
	return build(roots)
}

func taskDetail(t *model.Task, stageNames map[string]string) string {
	var parts []string
	if t.StageID != nil {
		name := stageNames[*t.StageID]
		if name == "" {
			name = *t.StageID
		}
		parts = append(parts, "["+name+"]")
	}
	if t.Importance != "" && t.Importance != model.ImportanceNormal {
		parts = append(parts, string(t.Importance))
	}
	return strings.Join(parts, " ")
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr planner.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("GET %s: %s (%s)", path, apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
