package lock

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"blocklock/pkg/logging"
	"blocklock/pkg/primitives"
	"blocklock/pkg/syncutil"
)

// LockTable maps each resource to the FIFO queue of requests for it and
// grants, queues, and releases shared and exclusive locks.
//
// One mutex guards every queue and the strategy's own state. Waiting
// requests park on a condition variable tied to that mutex; every release
// broadcasts, and each waiter re-checks its own request when it wakes.
type LockTable struct {
	mu     syncutil.Mutex
	cond   *sync.Cond
	queues map[primitives.BlockID]*requestQueue

	strategy Strategy
	metrics  *Metrics
	logger   *slog.Logger
}

// Option configures a LockTable.
type Option func(*LockTable)

// WithMetrics records table activity in m.
func WithMetrics(m *Metrics) Option {
	return func(lt *LockTable) {
		lt.metrics = m
	}
}

// WithLogger replaces the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(lt *LockTable) {
		lt.logger = l
	}
}

func NewLockTable(strategy Strategy, opts ...Option) *LockTable {
	lt := &LockTable{
		queues:   make(map[primitives.BlockID]*requestQueue),
		strategy: strategy,
	}
	lt.cond = sync.NewCond(&lt.mu)
	for _, opt := range opts {
		opt(lt)
	}
	if lt.logger == nil {
		lt.logger = logging.WithComponent("lock_table")
	}
	return lt
}

// Strategy returns the strategy the table was built with.
func (lt *LockTable) Strategy() Strategy {
	return lt.strategy
}

// AcquireShared blocks until txn holds at least a shared lock on id, or
// returns a lock-abort error. ctx interrupts a wait.
func (lt *LockTable) AcquireShared(ctx context.Context, txn Txn, id primitives.BlockID) error {
	return lt.acquire(ctx, txn, id, SharedLock)
}

// AcquireExclusive blocks until txn holds an exclusive lock on id, or
// returns a lock-abort error. A shared lock already held by txn is upgraded
// in place.
func (lt *LockTable) AcquireExclusive(ctx context.Context, txn Txn, id primitives.BlockID) error {
	return lt.acquire(ctx, txn, id, ExclusiveLock)
}

func (lt *LockTable) acquire(ctx context.Context, txn Txn, id primitives.BlockID, mode LockMode) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if err := txn.Err(); err != nil {
		return err
	}
	lt.metrics.request(mode)

	q, ok := lt.queues[id]
	if !ok {
		q = newRequestQueue()
		lt.queues[id] = q
		lt.metrics.resources(len(lt.queues))
	}

	if r := q.find(txn.ID()); r != nil {
		if !r.Granted {
			return errors.AssertionFailedf("txn %d already has a pending request on %s", txn.ID(), id)
		}
		if r.Mode.Covers(mode) {
			return nil
		}

		lt.metrics.upgrade()
		if q.soleHolder(txn.ID()) {
			r.Mode = ExclusiveLock
			lt.logger.Debug("lock upgraded", "tx_id", txn.ID(), "resource", id.String())
			return nil
		}
		r.upgrading = true
		return lt.resolve(ctx, id, q, r, true)
	}

	r := newRequest(txn, mode, q.grantable(mode))
	q.push(r)
	if r.Granted {
		lt.logger.Debug("lock granted", "tx_id", txn.ID(), "resource", id.String(), "mode", mode.String())
		return nil
	}
	return lt.resolve(ctx, id, q, r, false)
}

// resolve hands a conflicting request to the strategy and withdraws it when
// the strategy gives up.
func (lt *LockTable) resolve(
	ctx context.Context, id primitives.BlockID, q *requestQueue, r *Request, upgrade bool,
) error {
	lt.mu.AssertHeld()

	stop := context.AfterFunc(ctx, lt.wakeAll)
	defer stop()

	c := &Conflict{
		table:    lt,
		ctx:      ctx,
		Resource: id,
		queue:    q,
		request:  r,
		upgrade:  upgrade,
	}

	start := time.Now()
	err := lt.strategy.OnIncompatible(c)
	lt.metrics.wait(lt.strategy.Kind(), time.Since(start))
	if err != nil {
		lt.withdraw(id, q, c)
		return err
	}
	lt.logger.Debug("lock granted after wait",
		"tx_id", r.Txn.ID(), "resource", id.String(), "mode", r.Mode.String(), "waited", time.Since(start))
	return nil
}

// withdraw undoes a request whose wait ended in an abort. A fresh request
// leaves the queue even if it was granted in the meantime, because the
// caller never learns that it holds it. A pending upgrade falls back to the
// shared lock the transaction already had.
func (lt *LockTable) withdraw(id primitives.BlockID, q *requestQueue, c *Conflict) {
	if c.upgrade {
		c.request.upgrading = false
	} else {
		q.remove(c.request.Txn.ID())
	}
	lt.settle(id, q)
}

// Release removes txn's lock on id and grants whatever that unblocks.
// Releasing a lock that is not held is a programming error; the table is
// left untouched.
func (lt *LockTable) Release(txn Txn, id primitives.BlockID) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	q, ok := lt.queues[id]
	if !ok {
		return errors.AssertionFailedf("txn %d released %s, which has no lock queue", txn.ID(), id)
	}
	if r := q.find(txn.ID()); r == nil || !r.Granted {
		return errors.AssertionFailedf("txn %d released %s without holding it", txn.ID(), id)
	}

	lt.strategy.OnUnlock(txn)
	q.remove(txn.ID())
	lt.settle(id, q)
	lt.logger.Debug("lock released", "tx_id", txn.ID(), "resource", id.String())
	return nil
}

// settle drops an empty queue or promotes waiters, then wakes everyone.
func (lt *LockTable) settle(id primitives.BlockID, q *requestQueue) {
	if q.empty() {
		delete(lt.queues, id)
		lt.metrics.resources(len(lt.queues))
	} else {
		q.promote()
	}
	lt.cond.Broadcast()
}

// wakeAll broadcasts with the mutex held so that a waiter between its last
// check and cond.Wait cannot miss the signal.
func (lt *LockTable) wakeAll() {
	lt.mu.Lock()
	lt.cond.Broadcast()
	lt.mu.Unlock()
}

// HeldMode returns the mode txnID holds on id.
func (lt *LockTable) HeldMode(txnID int64, id primitives.BlockID) (LockMode, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	q, ok := lt.queues[id]
	if !ok {
		return 0, false
	}
	r := q.find(txnID)
	if r == nil || !r.Granted {
		return 0, false
	}
	return r.Mode, true
}

// IsLocked reports whether any transaction holds or awaits a lock on id.
func (lt *LockTable) IsLocked(id primitives.BlockID) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	_, ok := lt.queues[id]
	return ok
}

// Len returns the number of resources in the table.
func (lt *LockTable) Len() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.queues)
}

// Snapshot copies every queue, ordered by resource.
func (lt *LockTable) Snapshot() []QueueView {
	lt.mu.Lock()
	views := make([]QueueView, 0, len(lt.queues))
	for id, q := range lt.queues {
		views = append(views, QueueView{Resource: id, Requests: q.view()})
	}
	lt.mu.Unlock()

	slices.SortFunc(views, func(a, b QueueView) int {
		return a.Resource.Compare(b.Resource)
	})
	return views
}
