package transaction

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/dberror"
	"blocklock/pkg/logging"
	"blocklock/pkg/primitives"
	"blocklock/pkg/storage/block"
)

// TransactionRegistry starts transactions against one lock table and block
// store and tracks the ones still running.
type TransactionRegistry struct {
	table *lock.LockTable
	store *block.Store
	clock Clock

	nextID atomic.Int64

	mutex  sync.RWMutex
	active map[int64]*Transaction
}

// RegistryOption configures a TransactionRegistry.
type RegistryOption func(*TransactionRegistry)

// WithClock replaces the default SequenceClock.
func WithClock(c Clock) RegistryOption {
	return func(tr *TransactionRegistry) {
		tr.clock = c
	}
}

// NewTransactionRegistry creates a new transaction registry
func NewTransactionRegistry(table *lock.LockTable, store *block.Store, opts ...RegistryOption) *TransactionRegistry {
	tr := &TransactionRegistry{
		table:  table,
		store:  store,
		clock:  &SequenceClock{},
		active: make(map[int64]*Transaction),
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

func (tr *TransactionRegistry) Table() *lock.LockTable {
	return tr.table
}

func (tr *TransactionRegistry) Store() *block.Store {
	return tr.store
}

type beginConfig struct {
	timestamp primitives.Timestamp
}

// BeginOption configures a single Begin call.
type BeginOption func(*beginConfig)

// WithTimestamp starts the transaction with ts instead of a fresh reading
// of the clock. Restarted transactions use it to keep their age.
func WithTimestamp(ts primitives.Timestamp) BeginOption {
	return func(c *beginConfig) {
		c.timestamp = ts
	}
}

// Begin starts a transaction. Its context derives from ctx, so cancelling
// ctx interrupts any lock wait the transaction is parked in.
func (tr *TransactionRegistry) Begin(ctx context.Context, opts ...BeginOption) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}

	var cfg beginConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timestamp == primitives.InvalidTimestamp {
		cfg.timestamp = tr.clock.Now()
	}

	txCtx, cancel := context.WithCancelCause(ctx)
	tx := &Transaction{
		id:           tr.nextID.Add(1),
		timestamp:    cfg.timestamp,
		ctx:          txCtx,
		cancel:       cancel,
		startTime:    time.Now(),
		registry:     tr,
		store:        tr.store,
		status:       TxActive,
		beforeImages: make(map[primitives.BlockID][]byte),
	}
	tx.logger = logging.WithTx(tx.id)
	tx.locks = NewLockCache(tr.table, tx, tx.logger)

	tr.mutex.Lock()
	tr.active[tx.id] = tx
	tr.mutex.Unlock()

	tx.logger.Debug("transaction started", "timestamp", uint64(tx.timestamp))
	return tx, nil
}

// Get retrieves a running transaction by ID
func (tr *TransactionRegistry) Get(id int64) (*Transaction, error) {
	tr.mutex.RLock()
	defer tr.mutex.RUnlock()

	tx, exists := tr.active[id]
	if !exists {
		err := dberror.New(dberror.ErrCategoryUser, "TX_NOT_FOUND", "transaction not found")
		err.Detail = fmt.Sprintf("transaction %d", id)
		return nil, err
	}
	return tx, nil
}

// GetActive returns the running transactions ordered by ID.
func (tr *TransactionRegistry) GetActive() []*Transaction {
	tr.mutex.RLock()
	active := make([]*Transaction, 0, len(tr.active))
	for _, tx := range tr.active {
		active = append(active, tx)
	}
	tr.mutex.RUnlock()

	slices.SortFunc(active, func(a, b *Transaction) int {
		return cmp.Compare(a.id, b.id)
	})
	return active
}

// Count returns the number of registered transactions
func (tr *TransactionRegistry) Count() int {
	tr.mutex.RLock()
	defer tr.mutex.RUnlock()
	return len(tr.active)
}

func (tr *TransactionRegistry) remove(id int64) {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	delete(tr.active, id)
}
