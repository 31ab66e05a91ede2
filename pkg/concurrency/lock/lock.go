package lock

import (
	"time"

	"blocklock/pkg/primitives"
)

// LockMode is the strength of a lock request.
type LockMode int

const (
	SharedLock LockMode = iota
	ExclusiveLock
)

func (m LockMode) String() string {
	switch m {
	case SharedLock:
		return "shared"
	case ExclusiveLock:
		return "exclusive"
	default:
		return "unknown"
	}
}

// Covers reports whether holding m is enough to satisfy a request for other.
func (m LockMode) Covers(other LockMode) bool {
	return m == ExclusiveLock || other == SharedLock
}

// Txn is the view of a transaction that the lock table and its strategies
// need. The transaction package provides the implementation.
type Txn interface {
	// ID is unique among live transactions.
	ID() int64

	// Timestamp orders transactions by age; lower is older. Ties are broken
	// by ID, see Older.
	Timestamp() primitives.Timestamp

	// Abort marks the transaction for abort with the given cause and
	// interrupts its work. It reports whether this call performed the
	// transition; later calls keep the first cause.
	Abort(cause error) bool

	// Err returns the abort cause, or nil while the transaction may proceed.
	Err() error
}

// Request is one transaction's entry in a resource queue. A transaction has
// at most one Request per resource; upgrading mutates it in place.
type Request struct {
	Txn      Txn
	Mode     LockMode
	Granted  bool
	Enqueued time.Time

	// upgrading is set while a granted Shared request waits to become
	// Exclusive.
	upgrading bool
}

func newRequest(txn Txn, mode LockMode, granted bool) *Request {
	return &Request{
		Txn:      txn,
		Mode:     mode,
		Granted:  granted,
		Enqueued: time.Now(),
	}
}

// RequestView is a copy of a Request for introspection.
type RequestView struct {
	TxnID     int64
	Mode      LockMode
	Granted   bool
	Upgrading bool
}

// QueueView is a copy of one resource's queue, in arrival order.
type QueueView struct {
	Resource primitives.BlockID
	Requests []RequestView
}
