package lock

import (
	"context"
	"time"

	"blocklock/pkg/dberror"
	"blocklock/pkg/primitives"
)

// Conflict is a strategy's handle on one request that could not be granted.
// It is only valid inside Strategy.OnIncompatible, with the table mutex
// held.
type Conflict struct {
	table *LockTable
	ctx   context.Context

	// Resource is the contended resource.
	Resource primitives.BlockID

	queue   *requestQueue
	request *Request
	upgrade bool
}

// Waiter is the transaction whose request conflicts.
func (c *Conflict) Waiter() Txn {
	return c.request.Txn
}

// Mode is the mode being waited for.
func (c *Conflict) Mode() LockMode {
	if c.upgrade {
		return ExclusiveLock
	}
	return c.request.Mode
}

// Upgrade reports whether the waiter already holds a shared lock on the
// resource and is waiting to make it exclusive.
func (c *Conflict) Upgrade() bool {
	return c.upgrade
}

// Granted reports whether the request has been granted in full.
func (c *Conflict) Granted() bool {
	return c.request.Granted && !c.request.upgrading
}

// Holders returns the other transactions currently granted a lock on the
// resource, in arrival order.
func (c *Conflict) Holders() []Txn {
	return c.queue.holders(c.request.Txn.ID())
}

// Interrupted returns the waiter's abort error if it has been aborted, and
// aborts it if its context is done. It returns nil otherwise.
func (c *Conflict) Interrupted() error {
	if err := c.request.Txn.Err(); err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		return c.AbortWaiter(dberror.AbortInterrupted)
	}
	return nil
}

// Park releases the table mutex until the next broadcast. Callers must
// re-check the request afterwards; wakeups carry no information.
func (c *Conflict) Park() {
	c.table.cond.Wait()
}

// WakeAt arranges a broadcast at deadline. The returned func cancels it.
func (c *Conflict) WakeAt(deadline time.Time) (stop func() bool) {
	t := time.AfterFunc(time.Until(deadline), c.table.wakeAll)
	return t.Stop
}

// AbortWaiter aborts the waiting transaction and returns its abort error.
// If the waiter was already aborted the original cause is returned.
func (c *Conflict) AbortWaiter(reason dberror.AbortReason) error {
	txn := c.request.Txn
	err := dberror.NewLockAbort(reason, txn.ID(), c.Resource)
	if txn.Abort(err) {
		c.table.metrics.abort(reason)
		c.table.logger.Info("transaction aborted",
			"tx_id", txn.ID(), "resource", c.Resource.String(), "reason", reason.String())
	}
	if cause := txn.Err(); cause != nil {
		return cause
	}
	return err
}

// Wound aborts victim, a holder of the resource, on behalf of the waiter
// and wakes every parked request so the victim can notice. It reports
// whether this call aborted it.
func (c *Conflict) Wound(victim Txn) bool {
	err := dberror.NewLockAbort(dberror.AbortWounded, victim.ID(), c.Resource)
	if !victim.Abort(err) {
		return false
	}
	c.table.metrics.abort(dberror.AbortWounded)
	c.table.logger.Info("transaction wounded",
		"tx_id", victim.ID(), "by", c.request.Txn.ID(), "resource", c.Resource.String())
	c.table.cond.Broadcast()
	return true
}
