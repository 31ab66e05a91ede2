package lock

import (
	"time"

	"blocklock/pkg/dberror"
)

// TimeoutStrategy lets a request wait up to a fixed bound and then aborts
// it. It never looks at other transactions.
type TimeoutStrategy struct {
	maxWait time.Duration
}

func NewTimeoutStrategy(maxWait time.Duration) *TimeoutStrategy {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &TimeoutStrategy{maxWait: maxWait}
}

func (s *TimeoutStrategy) Kind() StrategyKind {
	return Timeout
}

// MaxWait is the bound applied to each conflicting request.
func (s *TimeoutStrategy) MaxWait() time.Duration {
	return s.maxWait
}

func (s *TimeoutStrategy) OnIncompatible(c *Conflict) error {
	deadline := time.Now().Add(s.maxWait)
	stop := c.WakeAt(deadline)
	defer stop()

	for {
		if c.Granted() {
			return nil
		}
		if err := c.Interrupted(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return c.AbortWaiter(dberror.AbortTimeout)
		}
		c.Park()
	}
}

func (s *TimeoutStrategy) OnUnlock(Txn) {}
