package transaction

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"blocklock/pkg/dberror"
	"blocklock/pkg/logging"
	"blocklock/pkg/primitives"
)

// Backoff yields the delay before each retry. Next reports false once no
// more retries are allowed.
type Backoff interface {
	Next() (time.Duration, bool)
}

type expBackoff struct {
	baseDelay    time.Duration
	currentDelay time.Duration
	maxDelay     time.Duration
	limit        int // 0 = forever
	tryCount     int
}

// NewExpBackoff doubles the delay from baseDelay up to maxDelay. Use
// limit=0 for unlimited retries.
func NewExpBackoff(baseDelay, maxDelay time.Duration, limit int) (Backoff, error) {
	switch {
	case baseDelay <= 0:
		return nil, errors.Newf("base delay must be positive, got %s", baseDelay)
	case baseDelay > maxDelay:
		return nil, errors.Newf("base delay %s exceeds max delay %s", baseDelay, maxDelay)
	case limit < 0:
		return nil, errors.Newf("retry limit must not be negative, got %d", limit)
	}
	return &expBackoff{baseDelay: baseDelay, maxDelay: maxDelay, limit: limit}, nil
}

func (e *expBackoff) Next() (time.Duration, bool) {
	if e.limit != 0 && e.tryCount >= e.limit {
		return 0, false
	}
	e.tryCount++
	if e.currentDelay >= e.maxDelay {
		return e.maxDelay, true
	}
	e.currentDelay = e.baseDelay << (e.tryCount - 1)
	if e.currentDelay > e.maxDelay || e.currentDelay <= 0 {
		e.currentDelay = e.maxDelay
	}
	return e.currentDelay, true
}

// RetryResult describes how a RunWithRetry call went.
type RetryResult struct {
	Attempts  int
	Aborts    []dberror.AbortReason
	Timestamp primitives.Timestamp
}

// RunWithRetry runs fn in a fresh transaction and commits it. When the
// transaction is aborted by the lock manager it is rolled back and run again
// after the next backoff delay, keeping the timestamp of the first attempt
// so that it only grows older relative to newcomers. Any other error rolls
// back and is returned.
func RunWithRetry(
	ctx context.Context, reg *TransactionRegistry, backoff Backoff, fn func(*Transaction) error,
) (RetryResult, error) {
	var res RetryResult
	for {
		var opts []BeginOption
		if res.Attempts > 0 {
			opts = append(opts, WithTimestamp(res.Timestamp))
		}
		tx, err := reg.Begin(ctx, opts...)
		if err != nil {
			return res, err
		}
		res.Attempts++
		res.Timestamp = tx.Timestamp()

		err = fn(tx)
		if err == nil {
			err = tx.Commit()
		} else if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.CombineErrors(err, rbErr)
		}
		if err == nil {
			return res, nil
		}
		if !dberror.IsLockAbort(err) {
			return res, err
		}
		if reason, ok := dberror.AbortReasonOf(err); ok {
			res.Aborts = append(res.Aborts, reason)
		}
		if ctx.Err() != nil {
			return res, err
		}

		delay, ok := backoff.Next()
		if !ok {
			return res, errors.Wrapf(err, "giving up after %d attempts", res.Attempts)
		}
		logging.WithTx(tx.ID()).Debug("retrying aborted transaction", "attempt", res.Attempts, "delay", delay)

		select {
		case <-ctx.Done():
			return res, err
		case <-time.After(delay):
		}
	}
}
