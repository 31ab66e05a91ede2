package transaction

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/primitives"
)

type heldLock struct {
	id   primitives.BlockID
	mode lock.LockMode
}

func heldLockLess(a, b heldLock) bool {
	return a.id.Less(b.id)
}

// LockCache remembers which blocks a transaction has locked and how
// strongly, so that repeated reads and writes do not go back to the lock
// table, and so that everything can be released in one pass.
//
// LockCache is owned by one transaction and is not safe for concurrent use.
type LockCache struct {
	txn    lock.Txn
	table  *lock.LockTable
	held   *btree.BTreeG[heldLock]
	logger *slog.Logger
}

func NewLockCache(table *lock.LockTable, txn lock.Txn, logger *slog.Logger) *LockCache {
	return &LockCache{
		txn:    txn,
		table:  table,
		held:   btree.NewG(8, heldLockLess),
		logger: logger,
	}
}

// Mode returns the recorded mode for id.
func (c *LockCache) Mode(id primitives.BlockID) (lock.LockMode, bool) {
	h, ok := c.held.Get(heldLock{id: id})
	return h.mode, ok
}

// EnsureShared takes a shared lock on id unless one of any strength is
// already held.
func (c *LockCache) EnsureShared(ctx context.Context, id primitives.BlockID) error {
	if _, ok := c.Mode(id); ok {
		return nil
	}
	if err := c.table.AcquireShared(ctx, c.txn, id); err != nil {
		return err
	}
	c.held.ReplaceOrInsert(heldLock{id: id, mode: lock.SharedLock})
	return nil
}

// EnsureExclusive takes an exclusive lock on id, upgrading a held shared
// lock.
func (c *LockCache) EnsureExclusive(ctx context.Context, id primitives.BlockID) error {
	if mode, ok := c.Mode(id); ok && mode == lock.ExclusiveLock {
		return nil
	}
	if err := c.table.AcquireExclusive(ctx, c.txn, id); err != nil {
		return err
	}
	c.held.ReplaceOrInsert(heldLock{id: id, mode: lock.ExclusiveLock})
	return nil
}

// Held returns the locked blocks in ascending order.
func (c *LockCache) Held() []primitives.BlockID {
	out := make([]primitives.BlockID, 0, c.held.Len())
	c.held.Ascend(func(h heldLock) bool {
		out = append(out, h.id)
		return true
	})
	return out
}

func (c *LockCache) Len() int {
	return c.held.Len()
}

// ReleaseAll releases every recorded lock in ascending block order and
// empties the cache. Calling it on an empty cache does nothing. Release
// failures are logged and returned together; the cache is emptied anyway.
func (c *LockCache) ReleaseAll() error {
	var errs error
	c.held.Ascend(func(h heldLock) bool {
		if err := c.table.Release(c.txn, h.id); err != nil {
			c.logger.Error("release failed", "resource", h.id.String(), "error", err)
			errs = errors.CombineErrors(errs, err)
		}
		return true
	})
	c.held.Clear(false)
	return errs
}
