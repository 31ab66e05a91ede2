package lock

import (
	"blocklock/pkg/dberror"
)

// GraphStrategy keeps a wait-for graph and aborts a waiter whose edge closes
// a cycle. The victim is always the waiter that found the cycle.
type GraphStrategy struct {
	graph *WaitForGraph
}

func NewGraphStrategy() *GraphStrategy {
	return &GraphStrategy{graph: NewWaitForGraph()}
}

func (s *GraphStrategy) Kind() StrategyKind {
	return Graph
}

// Graph exposes the wait-for graph. It must only be read with the owning
// LockTable idle.
func (s *GraphStrategy) Graph() *WaitForGraph {
	return s.graph
}

func (s *GraphStrategy) OnIncompatible(c *Conflict) error {
	waiter := c.Waiter()
	defer s.graph.RemoveWaiter(waiter.ID())

	for {
		if c.Granted() {
			return nil
		}
		if err := c.Interrupted(); err != nil {
			return err
		}

		// The edge points at the first holder; it is re-recorded on every
		// wake because that holder may have gone.
		if holders := c.Holders(); len(holders) > 0 {
			s.graph.SetEdge(waiter.ID(), holders[0].ID())
			if s.graph.HasCycle() {
				c.table.logger.Info("deadlock detected",
					"tx_id", waiter.ID(), "resource", c.Resource.String(), "cycle", s.graph.Cycle(waiter.ID()))
				return c.AbortWaiter(dberror.AbortDeadlock)
			}
		} else {
			s.graph.RemoveWaiter(waiter.ID())
		}
		c.Park()
	}
}

func (s *GraphStrategy) OnUnlock(txn Txn) {
	s.graph.RemoveTransaction(txn.ID())
}
