// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraph is an in-memory Reader. parents maps child -> parent; edges
// maps successor -> predecessors.
type fakeGraph struct {
	parents map[string]string
	edges   map[string][]string
	calls   map[string]int
	failOn  string
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		parents: map[string]string{},
		edges:   map[string][]string{},
		calls:   map[string]int{},
	}
}

func (g *fakeGraph) addEdge(pred, succ string) {
	g.edges[succ] = append(g.edges[succ], pred)
}

func (g *fakeGraph) Parent(taskID string) (*string, error) {
	if taskID == g.failOn {
		return nil, errors.New("storage down")
	}
	p, ok := g.parents[taskID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (g *fakeGraph) Predecessors(taskID string) ([]string, error) {
	if taskID == g.failOn {
		return nil, errors.New("storage down")
	}
	g.calls[taskID]++
	return g.edges[taskID], nil
}

func TestWouldCreateParentCycle(t *testing.T) {
	// root -> a -> b -> c
	g := newFakeGraph()
	g.parents["a"] = "root"
	g.parents["b"] = "a"
	g.parents["c"] = "b"
	ctx := context.Background()

	tests := []struct {
		name      string
		candidate string
		newParent string
		cycle     bool
	}{
		{"under own descendant", "a", "c", true},
		{"under direct child", "b", "c", true},
		{"under itself", "b", "b", true},
		{"under ancestor", "c", "root", false},
		{"under sibling tree", "c", "x", false},
		{"root under leaf", "root", "c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := WouldCreateParentCycle(ctx, g, tt.candidate, tt.newParent)
			require.NoError(t, err)
			assert.Equal(t, tt.cycle, res.Cycle)
			if tt.cycle {
				assert.Equal(t, tt.newParent, res.Path[0])
				assert.Equal(t, tt.candidate, res.Path[len(res.Path)-1])
			} else {
				assert.Empty(t, res.Path)
			}
		})
	}
}

func TestWouldCreateParentCycle_PreexistingLoopTerminates(t *testing.T) {
	g := newFakeGraph()
	g.parents["x"] = "y"
	g.parents["y"] = "x"

	res, err := WouldCreateParentCycle(context.Background(), g, "t", "x")
	require.NoError(t, err)
	assert.False(t, res.Cycle)
	assert.Equal(t, 2, res.Visited)
}

func TestWouldCreateDependencyCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("direct cycle", func(t *testing.T) {
		g := newFakeGraph()
		g.addEdge("A", "B")

		res, err := WouldCreateDependencyCycle(ctx, g, "B", "A")
		require.NoError(t, err)
		assert.True(t, res.Cycle)
		assert.Equal(t, []string{"A", "B"}, res.Path)

		res, err = WouldCreateDependencyCycle(ctx, g, "A", "B")
		require.NoError(t, err)
		assert.False(t, res.Cycle)
	})

	t.Run("indirect cycle", func(t *testing.T) {
		g := newFakeGraph()
		g.addEdge("A", "B")
		g.addEdge("B", "C")

		res, err := WouldCreateDependencyCycle(ctx, g, "C", "A")
		require.NoError(t, err)
		assert.True(t, res.Cycle)
		assert.Equal(t, []string{"A", "B", "C"}, res.Path)
	})

	t.Run("self loop", func(t *testing.T) {
		res, err := WouldCreateDependencyCycle(ctx, newFakeGraph(), "X", "X")
		require.NoError(t, err)
		assert.True(t, res.Cycle)
	})

	t.Run("diamond is not a cycle", func(t *testing.T) {
		g := newFakeGraph()
		g.addEdge("A", "B")
		g.addEdge("A", "C")
		g.addEdge("B", "D")
		g.addEdge("C", "D")

		res, err := WouldCreateDependencyCycle(ctx, g, "D", "E")
		require.NoError(t, err)
		assert.False(t, res.Cycle)
		assert.Equal(t, 4, res.Visited)
		// A is reachable twice but expanded once.
		assert.Equal(t, 1, g.calls["A"])
	})

	t.Run("pre-existing loop terminates", func(t *testing.T) {
		g := newFakeGraph()
		g.addEdge("P", "Q")
		g.addEdge("Q", "P")

		res, err := WouldCreateDependencyCycle(ctx, g, "P", "Z")
		require.NoError(t, err)
		assert.False(t, res.Cycle)
		assert.Equal(t, 2, res.Visited)
	})
}

func TestWouldCreateDependencyCycle_LongChain(t *testing.T) {
	g := newFakeGraph()
	const n = 5000
	for i := 0; i < n; i++ {
		g.addEdge(fmt.Sprintf("t%d", i), fmt.Sprintf("t%d", i+1))
	}

	res, err := WouldCreateDependencyCycle(context.Background(), g, fmt.Sprintf("t%d", n), "t0")
	require.NoError(t, err)
	assert.True(t, res.Cycle)
	assert.Len(t, res.Path, n+1)
}

func TestChecker_ReaderErrorAndCancellation(t *testing.T) {
	g := newFakeGraph()
	g.parents["a"] = "b"
	g.addEdge("b", "a")
	g.failOn = "b"
	c := NewChecker(nil)

	_, err := c.WouldCreateCycle(context.Background(), KindHierarchy, g, "z", "a")
	assert.ErrorContains(t, err, "storage down")

	_, err = c.WouldCreateCycle(context.Background(), KindDependency, g, "a", "z")
	assert.ErrorContains(t, err, "storage down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.WouldCreateCycle(ctx, KindDependency, newFakeGraph(), "a", "z")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.WouldCreateCycle(context.Background(), Kind(9), g, "a", "z")
	assert.Error(t, err)
}

func TestChecker_Observer(t *testing.T) {
	g := newFakeGraph()
	g.addEdge("A", "B")

	var gotKind Kind
	var gotVisited int
	var gotCycle bool
	c := NewChecker(func(kind Kind, visited int, cycle bool) {
		gotKind, gotVisited, gotCycle = kind, visited, cycle
	})

	res, err := c.WouldCreateCycle(context.Background(), KindDependency, g, "B", "A")
	require.NoError(t, err)
	assert.True(t, res.Cycle)
	assert.Equal(t, KindDependency, gotKind)
	assert.Equal(t, 2, gotVisited)
	assert.True(t, gotCycle)
	assert.Equal(t, "dependency", gotKind.String())
	assert.Equal(t, "hierarchy", KindHierarchy.String())
}
