package dberror

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// ErrLockAbort is the sentinel at the root of every lock-abort error. A
// transaction that observes it must release all of its locks; it may then be
// restarted from scratch.
var ErrLockAbort = errors.New("lock abort")

// AbortReason records why a transaction was told to abort.
type AbortReason int

const (
	// AbortTimeout: the request waited longer than the configured bound.
	AbortTimeout AbortReason = iota
	// AbortDie: wait-die found the waiter younger than a holder.
	AbortDie
	// AbortWounded: wound-wait aborted a holder on behalf of an older waiter.
	AbortWounded
	// AbortDeadlock: the waiter closed a cycle in the wait-for graph.
	AbortDeadlock
	// AbortInterrupted: the transaction's context was cancelled while parked.
	AbortInterrupted
)

// AbortReasons lists every reason in declaration order.
var AbortReasons = []AbortReason{AbortTimeout, AbortDie, AbortWounded, AbortDeadlock, AbortInterrupted}

func (r AbortReason) String() string {
	switch r {
	case AbortTimeout:
		return "timeout"
	case AbortDie:
		return "die"
	case AbortWounded:
		return "wounded"
	case AbortDeadlock:
		return "deadlock"
	case AbortInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// SafeValue marks AbortReason as safe for redaction.
func (r AbortReason) SafeValue() {}

// Code returns the DBError code used for this reason.
func (r AbortReason) Code() string {
	switch r {
	case AbortTimeout:
		return "LOCK_TIMEOUT"
	case AbortDie:
		return "LOCK_DIE"
	case AbortWounded:
		return "LOCK_WOUNDED"
	case AbortDeadlock:
		return "DEADLOCK_VICTIM"
	case AbortInterrupted:
		return "LOCK_INTERRUPTED"
	default:
		return "LOCK_ABORT"
	}
}

// NewLockAbort builds the lock-abort error for transaction txnID while it
// was requesting resource.
func NewLockAbort(reason AbortReason, txnID int64, resource redact.SafeFormatter) *DBError {
	cause := errors.WrapWithDepthf(1, ErrLockAbort, "txn %d on %v: %s", txnID, resource, reason)
	return &DBError{
		Code:      reason.Code(),
		Category:  ErrCategoryConcurrency,
		Message:   "transaction aborted by lock manager",
		Detail:    cause.Error(),
		Hint:      "roll the transaction back, then retry it",
		Component: "LockTable",
		Cause:     errors.WithDetailf(cause, "%s", reason),
	}
}

// IsLockAbort reports whether err is a lock-abort error.
func IsLockAbort(err error) bool {
	return errors.Is(err, ErrLockAbort)
}

// AbortReasonOf extracts the reason from a lock-abort error.
func AbortReasonOf(err error) (AbortReason, bool) {
	var dbErr *DBError
	if !errors.As(err, &dbErr) || !IsLockAbort(dbErr) {
		return 0, false
	}
	for _, r := range AbortReasons {
		if r.Code() == dbErr.Code {
			return r, true
		}
	}
	return 0, false
}
