package lock

import (
	"blocklock/pkg/dberror"
)

// WaitDieStrategy lets a waiter block only behind younger holders. A waiter
// that is younger than any holder dies. Holders are re-examined on every
// wake, since the granted set may have changed.
type WaitDieStrategy struct{}

func NewWaitDieStrategy() *WaitDieStrategy {
	return &WaitDieStrategy{}
}

func (s *WaitDieStrategy) Kind() StrategyKind {
	return WaitDie
}

func (s *WaitDieStrategy) OnIncompatible(c *Conflict) error {
	waiter := c.Waiter()
	for {
		if c.Granted() {
			return nil
		}
		if err := c.Interrupted(); err != nil {
			return err
		}
		for _, holder := range c.Holders() {
			if !Older(waiter, holder) {
				return c.AbortWaiter(dberror.AbortDie)
			}
		}
		c.Park()
	}
}

func (s *WaitDieStrategy) OnUnlock(Txn) {}
