// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph decides whether a proposed hierarchy move or dependency edge
// would close a cycle.
//
// The graph is virtual: the checker holds no adjacency structure of its own
// and asks a reader for each node's neighbours as it walks. Within a store
// transaction the reader is the transaction itself, so every node the
// checker touches lands in the transaction's read set.
package graph

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.planner.graph")

// Kind selects which relation a cycle check walks.
type Kind int

const (
	// KindHierarchy walks parent links.
	KindHierarchy Kind = iota
	// KindDependency walks predecessor edges.
	KindDependency
)

// String returns the metric label for k.
func (k Kind) String() string {
	switch k {
	case KindHierarchy:
		return "hierarchy"
	case KindDependency:
		return "dependency"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParentReader resolves a task's parent. It returns nil for a root task and
// for an unknown ID.
type ParentReader interface {
	Parent(taskID string) (*string, error)
}

// PredecessorReader lists the tasks with an edge into taskID.
type PredecessorReader interface {
	Predecessors(taskID string) ([]string, error)
}

// Reader is both relations. store.Tx satisfies it.
type Reader interface {
	ParentReader
	PredecessorReader
}

// Result is the outcome of one check.
type Result struct {
	// Cycle is true when the proposed link must be rejected.
	Cycle bool

	// Visited is the number of distinct nodes the walk touched.
	Visited int

	// Path is the existing chain the proposed link would close, from the
	// proposed "to" end back to the proposed "from" end. Empty when Cycle is
	// false.
	Path []string
}

// Observer receives the size of each completed walk.
type Observer func(kind Kind, visited int, cycle bool)

// Checker runs cycle checks and reports walk sizes to an optional Observer.
//
// Thread Safety: Safe for concurrent use when the Observer is.
type Checker struct {
	observe Observer
}

// NewChecker returns a Checker. observe may be nil.
func NewChecker(observe Observer) *Checker {
	return &Checker{observe: observe}
}

// WouldCreateCycle reports whether linking from -> to would close a cycle.
//
// # Description
//
// For KindHierarchy, from is the candidate task and to is its proposed new
// parent. The parent chain is walked upward from to; meeting from means
// the candidate would become its own ancestor.
//
// For KindDependency, from is the proposed predecessor and to the proposed
// successor. A breadth-first search runs backward over predecessor edges
// starting at from; reaching to means a path to -> ... -> from already
// exists, so the new edge would close it.
//
// Inputs:
//   - ctx: Cancellation is checked at every node.
//   - kind: Which relation to walk.
//   - r: Neighbour reader, normally the open store transaction.
//   - from, to: The proposed link.
//
// Outputs:
//   - Result: Cycle verdict, walk size and the closing path.
//   - error: Reader failure or context cancellation.
//
// Limitations:
//   - No depth limit. Termination rests on the visited set, so a cycle
//     already present in storage ends the walk instead of looping.
func (c *Checker) WouldCreateCycle(ctx context.Context, kind Kind, r Reader, from, to string) (Result, error) {
	ctx, span := tracer.Start(ctx, "graph.Checker.WouldCreateCycle",
		trace.WithAttributes(
			attribute.String("kind", kind.String()),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
	defer span.End()

	var (
		res Result
		err error
	)
	switch kind {
	case KindHierarchy:
		res, err = WouldCreateParentCycle(ctx, r, from, to)
	case KindDependency:
		res, err = WouldCreateDependencyCycle(ctx, r, from, to)
	default:
		err = fmt.Errorf("unknown cycle check kind %d", int(kind))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Bool("cycle", res.Cycle),
		attribute.Int("visited", res.Visited),
	)
	if c != nil && c.observe != nil {
		c.observe(kind, res.Visited, res.Cycle)
	}
	return res, nil
}

// WouldCreateParentCycle reports whether making newParent the parent of
// candidate would put candidate among its own ancestors.
func WouldCreateParentCycle(ctx context.Context, r ParentReader, candidate, newParent string) (Result, error) {
	if candidate == newParent {
		return Result{Cycle: true, Visited: 1, Path: []string{candidate}}, nil
	}

	visited := make(map[string]struct{})
	var chain []string
	for cur := newParent; cur != ""; {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if _, seen := visited[cur]; seen {
			// Pre-existing loop that does not contain candidate.
			break
		}
		visited[cur] = struct{}{}
		chain = append(chain, cur)

		if cur == candidate {
			return Result{Cycle: true, Visited: len(visited), Path: chain}, nil
		}

		parent, err := r.Parent(cur)
		if err != nil {
			return Result{}, fmt.Errorf("read parent of %s: %w", cur, err)
		}
		if parent == nil {
			break
		}
		cur = *parent
	}
	return Result{Visited: len(visited)}, nil
}

// WouldCreateDependencyCycle reports whether the edge predecessor ->
// successor would close a directed cycle. Each node is expanded at most
// once, so the walk is O(V+E) over the reachable predecessor subgraph.
func WouldCreateDependencyCycle(ctx context.Context, r PredecessorReader, predecessor, successor string) (Result, error) {
	if predecessor == successor {
		return Result{Cycle: true, Visited: 1, Path: []string{predecessor}}, nil
	}

	// via[p] = n records that p was reached as a predecessor of n.
	via := map[string]string{predecessor: ""}
	queue := []string{predecessor}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		node := queue[0]
		queue = queue[1:]

		preds, err := r.Predecessors(node)
		if err != nil {
			return Result{}, fmt.Errorf("read predecessors of %s: %w", node, err)
		}
		for _, p := range preds {
			if _, seen := via[p]; seen {
				continue
			}
			via[p] = node
			if p == successor {
				return Result{Cycle: true, Visited: len(via), Path: pathFrom(via, successor)}, nil
			}
			queue = append(queue, p)
		}
	}
	return Result{Visited: len(via)}, nil
}

// pathFrom follows via links from start back to the walk's origin.
func pathFrom(via map[string]string, start string) []string {
	path := []string{start}
	for cur := via[start]; cur != ""; cur = via[cur] {
		path = append(path, cur)
	}
	return path
}
