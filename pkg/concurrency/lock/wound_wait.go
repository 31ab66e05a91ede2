package lock

// WoundWaitStrategy aborts every younger holder on behalf of an older
// waiter, which keeps waiting until the wounded holders roll back. A younger
// waiter simply waits. Equal timestamps are ordered by ID, so a waiter whose
// timestamp equals the holder's wounds it only if its ID is lower.
type WoundWaitStrategy struct{}

func NewWoundWaitStrategy() *WoundWaitStrategy {
	return &WoundWaitStrategy{}
}

func (s *WoundWaitStrategy) Kind() StrategyKind {
	return WoundWait
}

func (s *WoundWaitStrategy) OnIncompatible(c *Conflict) error {
	waiter := c.Waiter()
	for {
		if c.Granted() {
			return nil
		}
		if err := c.Interrupted(); err != nil {
			return err
		}
		// Holders can change while parked, so wound again on every wake.
		for _, holder := range c.Holders() {
			if Older(waiter, holder) {
				c.Wound(holder)
			}
		}
		c.Park()
	}
}

func (s *WoundWaitStrategy) OnUnlock(Txn) {}
