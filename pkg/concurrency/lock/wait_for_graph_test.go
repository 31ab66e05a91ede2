package lock

import (
	"maps"
	"slices"
	"testing"
)

func TestWaitForGraphChainHasNoCycle(t *testing.T) {
	g := NewWaitForGraph()
	g.SetEdge(1, 2)
	g.SetEdge(2, 3)
	g.SetEdge(3, 4)

	if g.HasCycle() {
		t.Error("Chain reported as a cycle")
	}
	if c := g.Cycle(1); c != nil {
		t.Errorf("Expected no cycle from 1, got %v", c)
	}
}

func TestWaitForGraphDetectsCycle(t *testing.T) {
	g := NewWaitForGraph()
	g.SetEdge(1, 2)
	g.SetEdge(2, 3)
	g.SetEdge(3, 1)
	g.SetEdge(4, 1)

	if !g.HasCycle() {
		t.Fatal("Expected a cycle")
	}
	if c := g.Cycle(4); !slices.Equal(c, []int64{1, 2, 3}) {
		t.Errorf("Expected cycle [1 2 3], got %v", c)
	}
}

func TestWaitForGraphSetEdgeReplaces(t *testing.T) {
	g := NewWaitForGraph()
	g.SetEdge(1, 2)
	g.SetEdge(2, 1)
	if !g.HasCycle() {
		t.Fatal("Expected a cycle")
	}

	g.SetEdge(2, 3)
	if g.HasCycle() {
		t.Error("Replacing the edge should break the cycle")
	}
	if holder, ok := g.WaitsFor(2); !ok || holder != 3 {
		t.Errorf("WaitsFor(2) = %d, %v; want 3, true", holder, ok)
	}
}

func TestWaitForGraphRemoveTransaction(t *testing.T) {
	g := NewWaitForGraph()
	g.SetEdge(1, 2)
	g.SetEdge(3, 2)
	g.SetEdge(2, 4)
	g.SetEdge(5, 6)

	g.RemoveTransaction(2)
	if edges := g.Edges(); !maps.Equal(edges, map[int64]int64{5: 6}) {
		t.Errorf("Expected only 5->6 left, got %v", edges)
	}

	g.RemoveWaiter(5)
	if g.Len() != 0 {
		t.Errorf("Expected empty graph, got %v", g.Edges())
	}
}
