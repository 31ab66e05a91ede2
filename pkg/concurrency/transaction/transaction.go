package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/dberror"
	"blocklock/pkg/primitives"
	"blocklock/pkg/storage/block"
)

// TransactionStatus represents the current state of a transaction
type TransactionStatus int

const (
	TxActive TransactionStatus = iota
	TxAborting
	TxCommitted
	TxRolledBack
)

func (ts TransactionStatus) String() string {
	switch ts {
	case TxActive:
		return "ACTIVE"
	case TxAborting:
		return "ABORTING"
	case TxCommitted:
		return "COMMITTED"
	case TxRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// errFinished is the context cause once a transaction has ended normally.
var errFinished = errors.New("transaction finished")

type TransactionStats struct {
	BlocksRead    int
	BlocksWritten int
	LocksHeld     int
}

// Transaction is one unit of work. It takes locks through its LockCache as
// blocks are read and written, keeps before-images of every block it
// modifies, and releases everything exactly once at Commit or Rollback.
//
// A Transaction is driven by a single goroutine. Abort and Err may be called
// from any goroutine; the lock table uses them to abort a transaction that
// is running elsewhere.
type Transaction struct {
	id        int64
	timestamp primitives.Timestamp
	ctx       context.Context
	cancel    context.CancelCauseFunc
	startTime time.Time

	registry *TransactionRegistry
	store    *block.Store
	locks    *LockCache
	logger   *slog.Logger

	mutex    sync.Mutex
	status   TransactionStatus
	abortErr error
	endTime  time.Time

	// Owned by the driving goroutine.
	beforeImages map[primitives.BlockID][]byte
	stats        TransactionStats
}

var _ lock.Txn = (*Transaction)(nil)

func (tx *Transaction) ID() int64 {
	return tx.id
}

func (tx *Transaction) Timestamp() primitives.Timestamp {
	return tx.timestamp
}

// Context is cancelled when the transaction is aborted or ends. Its cause
// is the abort error, if any.
func (tx *Transaction) Context() context.Context {
	return tx.ctx
}

func (tx *Transaction) Status() TransactionStatus {
	tx.mutex.Lock()
	defer tx.mutex.Unlock()
	return tx.status
}

// Abort marks an active transaction for abort and cancels its context. The
// first cause wins. It reports whether this call did the marking.
func (tx *Transaction) Abort(cause error) bool {
	tx.mutex.Lock()
	defer tx.mutex.Unlock()

	if tx.status != TxActive {
		return false
	}
	tx.status = TxAborting
	tx.abortErr = cause
	tx.cancel(cause)
	tx.logger.Info("transaction marked for abort", "cause", cause.Error())
	return true
}

// Err returns the abort cause once the transaction has been aborted.
func (tx *Transaction) Err() error {
	tx.mutex.Lock()
	defer tx.mutex.Unlock()
	return tx.abortErr
}

// LockShared makes sure the transaction holds at least a shared lock on id.
func (tx *Transaction) LockShared(id primitives.BlockID) error {
	if err := tx.checkActive("LockShared"); err != nil {
		return err
	}
	return tx.locks.EnsureShared(tx.ctx, id)
}

// LockExclusive makes sure the transaction holds an exclusive lock on id.
func (tx *Transaction) LockExclusive(id primitives.BlockID) error {
	if err := tx.checkActive("LockExclusive"); err != nil {
		return err
	}
	return tx.locks.EnsureExclusive(tx.ctx, id)
}

// Locks exposes the transaction's lock cache.
func (tx *Transaction) Locks() *LockCache {
	return tx.locks
}

func (tx *Transaction) GetInt(id primitives.BlockID, offset int) (int32, error) {
	if err := tx.LockShared(id); err != nil {
		return 0, err
	}
	tx.stats.BlocksRead++
	v, err := tx.store.Page(id).GetInt(offset)
	if err != nil {
		return 0, dberror.Wrap(err, "BLOCK_ACCESS", "GetInt", "Transaction")
	}
	return v, nil
}

func (tx *Transaction) GetString(id primitives.BlockID, offset int) (string, error) {
	if err := tx.LockShared(id); err != nil {
		return "", err
	}
	tx.stats.BlocksRead++
	v, err := tx.store.Page(id).GetString(offset)
	if err != nil {
		return "", dberror.Wrap(err, "BLOCK_ACCESS", "GetString", "Transaction")
	}
	return v, nil
}

func (tx *Transaction) SetInt(id primitives.BlockID, offset int, v int32) error {
	page, err := tx.pageForWrite(id)
	if err != nil {
		return err
	}
	if err := page.SetInt(tx.id, offset, v); err != nil {
		return dberror.Wrap(err, "BLOCK_ACCESS", "SetInt", "Transaction")
	}
	return nil
}

func (tx *Transaction) SetString(id primitives.BlockID, offset int, s string) error {
	page, err := tx.pageForWrite(id)
	if err != nil {
		return err
	}
	if err := page.SetString(tx.id, offset, s); err != nil {
		return dberror.Wrap(err, "BLOCK_ACCESS", "SetString", "Transaction")
	}
	return nil
}

// pageForWrite takes the exclusive lock and records the before-image the
// first time the transaction writes id.
func (tx *Transaction) pageForWrite(id primitives.BlockID) (*block.Page, error) {
	if err := tx.LockExclusive(id); err != nil {
		return nil, err
	}
	page := tx.store.Page(id)
	if _, ok := tx.beforeImages[id]; !ok {
		tx.beforeImages[id] = page.Snapshot()
		tx.stats.BlocksWritten++
	}
	return page, nil
}

// Commit makes the transaction's writes permanent and releases its locks.
// An aborted transaction is rolled back instead and its abort error is
// returned.
func (tx *Transaction) Commit() error {
	tx.mutex.Lock()
	switch {
	case tx.abortErr != nil:
		cause := tx.abortErr
		tx.mutex.Unlock()
		if err := tx.Rollback(); err != nil {
			return errors.CombineErrors(cause, err)
		}
		return cause
	case tx.status != TxActive:
		status := tx.status
		tx.mutex.Unlock()
		return tx.notActive("Commit", status)
	}
	tx.status = TxCommitted
	tx.endTime = time.Now()
	tx.mutex.Unlock()

	for id := range tx.beforeImages {
		tx.store.Page(id).MarkClean()
	}
	tx.beforeImages = nil
	err := tx.finish()
	tx.logger.Debug("transaction committed", "duration", tx.Duration())
	return err
}

// Rollback restores every block the transaction wrote and releases its
// locks. Rolling back twice is a no-op; rolling back a committed
// transaction is an error.
func (tx *Transaction) Rollback() error {
	tx.mutex.Lock()
	switch tx.status {
	case TxRolledBack:
		tx.mutex.Unlock()
		return nil
	case TxCommitted:
		tx.mutex.Unlock()
		return tx.notActive("Rollback", TxCommitted)
	}
	tx.status = TxRolledBack
	tx.endTime = time.Now()
	tx.mutex.Unlock()

	var errs error
	for id, image := range tx.beforeImages {
		if err := tx.store.Page(id).Restore(image); err != nil {
			errs = errors.CombineErrors(errs, dberror.Wrap(err, "RESTORE_FAILED", "Rollback", "Transaction"))
		}
	}
	tx.beforeImages = nil
	errs = errors.CombineErrors(errs, tx.finish())
	tx.logger.Debug("transaction rolled back", "duration", tx.Duration())
	return errs
}

// finish releases every lock and forgets the transaction.
func (tx *Transaction) finish() error {
	tx.stats.LocksHeld = tx.locks.Len()
	err := tx.locks.ReleaseAll()
	tx.cancel(errFinished)
	tx.registry.remove(tx.id)
	return err
}

func (tx *Transaction) checkActive(op string) error {
	tx.mutex.Lock()
	defer tx.mutex.Unlock()

	if tx.abortErr != nil {
		return tx.abortErr
	}
	if tx.status != TxActive {
		return tx.notActive(op, tx.status)
	}
	return nil
}

func (tx *Transaction) notActive(op string, status TransactionStatus) error {
	err := dberror.New(dberror.ErrCategoryUser, "TX_NOT_ACTIVE", "transaction is not active")
	err.Detail = fmt.Sprintf("transaction %d is %s", tx.id, status)
	err.Operation = op
	err.Component = "Transaction"
	return err
}

// Stats returns counters for the work done so far. It must be called from
// the driving goroutine.
func (tx *Transaction) Stats() TransactionStats {
	s := tx.stats
	if tx.locks.Len() > 0 {
		s.LocksHeld = tx.locks.Len()
	}
	return s
}

// Duration returns how long the transaction has been running
func (tx *Transaction) Duration() time.Duration {
	tx.mutex.Lock()
	defer tx.mutex.Unlock()

	endTime := tx.endTime
	if endTime.IsZero() {
		endTime = time.Now()
	}
	return endTime.Sub(tx.startTime)
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("Transaction %d [ts=%d, status=%s]", tx.id, tx.timestamp, tx.Status())
}
