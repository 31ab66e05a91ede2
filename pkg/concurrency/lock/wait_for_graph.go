package lock

import (
	"maps"
	"slices"
)

// WaitForGraph records which transaction each waiting transaction is blocked
// behind. An edge A→B means A waits for a lock B holds. Every transaction
// has at most one outgoing edge, so the graph is a functional graph and a
// cycle can be found by walking successors.
//
// WaitForGraph has no lock of its own; the LockTable mutex guards it.
type WaitForGraph struct {
	edges map[int64]int64
}

func NewWaitForGraph() *WaitForGraph {
	return &WaitForGraph{edges: make(map[int64]int64)}
}

// SetEdge records that waiter is blocked behind holder, replacing any
// previous edge out of waiter.
func (g *WaitForGraph) SetEdge(waiter, holder int64) {
	g.edges[waiter] = holder
}

// RemoveWaiter drops the edge out of waiter.
func (g *WaitForGraph) RemoveWaiter(waiter int64) {
	delete(g.edges, waiter)
}

// RemoveTransaction drops every edge that starts or ends at txnID.
func (g *WaitForGraph) RemoveTransaction(txnID int64) {
	delete(g.edges, txnID)
	maps.DeleteFunc(g.edges, func(_, holder int64) bool {
		return holder == txnID
	})
}

// WaitsFor returns the transaction waiter is blocked behind.
func (g *WaitForGraph) WaitsFor(waiter int64) (int64, bool) {
	holder, ok := g.edges[waiter]
	return holder, ok
}

func (g *WaitForGraph) Len() int {
	return len(g.edges)
}

func (g *WaitForGraph) next(n int64) (int64, bool) {
	m, ok := g.edges[n]
	return m, ok
}

// hasCycleFrom runs Floyd's tortoise and hare from start.
func (g *WaitForGraph) hasCycleFrom(start int64) bool {
	slow, fast := start, start
	for {
		var ok bool
		if fast, ok = g.next(fast); !ok {
			return false
		}
		if fast, ok = g.next(fast); !ok {
			return false
		}
		slow, _ = g.next(slow)
		if slow == fast {
			return true
		}
	}
}

// HasCycle reports whether any cycle exists in the graph.
func (g *WaitForGraph) HasCycle() bool {
	for start := range g.edges {
		if g.hasCycleFrom(start) {
			return true
		}
	}
	return false
}

// Cycle returns the cycle reachable from start, beginning at the first
// transaction on it, or nil when the walk from start ends.
func (g *WaitForGraph) Cycle(start int64) []int64 {
	seen := make(map[int64]int)
	var path []int64
	for n, ok := start, true; ok; n, ok = g.next(n) {
		if i, dup := seen[n]; dup {
			return slices.Clone(path[i:])
		}
		seen[n] = len(path)
		path = append(path, n)
	}
	return nil
}

// Edges returns a copy of the graph.
func (g *WaitForGraph) Edges() map[int64]int64 {
	return maps.Clone(g.edges)
}
