package transaction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/dberror"
	"blocklock/pkg/primitives"
	"blocklock/pkg/storage/block"
)

func newRegistry(t *testing.T, kind lock.StrategyKind) *TransactionRegistry {
	t.Helper()
	strategy, err := lock.NewStrategy(lock.Config{Strategy: kind, MaxWait: 2 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create strategy: %v", err)
	}
	return NewTransactionRegistry(lock.NewLockTable(strategy), block.NewStore(64))
}

func mustBegin(t *testing.T, reg *TransactionRegistry, opts ...BeginOption) *Transaction {
	t.Helper()
	tx, err := reg.Begin(context.Background(), opts...)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	return tx
}

func blk(i int) primitives.BlockID {
	return primitives.NewBlockID("testfile", primitives.BlockIndex(i))
}

// storedInt reads a committed value straight from the store.
func storedInt(t *testing.T, reg *TransactionRegistry, id primitives.BlockID) int32 {
	t.Helper()
	v, err := reg.Store().Page(id).GetInt(0)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", id, err)
	}
	return v
}

func requireReason(t *testing.T, err error, want dberror.AbortReason) {
	t.Helper()
	if !dberror.IsLockAbort(err) {
		t.Fatalf("Expected lock abort, got %v", err)
	}
	if got, _ := dberror.AbortReasonOf(err); got != want {
		t.Fatalf("Abort reason = %s, want %s", got, want)
	}
}

func TestTransactionStatus_String(t *testing.T) {
	tests := []struct {
		status   TransactionStatus
		expected string
	}{
		{TxActive, "ACTIVE"},
		{TxAborting, "ABORTING"},
		{TxCommitted, "COMMITTED"},
		{TxRolledBack, "ROLLED_BACK"},
		{TransactionStatus(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.status.String(); result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestBeginAssignsIdentity(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)

	t1 := mustBegin(t, reg)
	t2 := mustBegin(t, reg)
	t3 := mustBegin(t, reg, WithTimestamp(1))

	if t1.ID() == t2.ID() {
		t.Error("Expected distinct transaction IDs")
	}
	if t1.Timestamp() >= t2.Timestamp() {
		t.Errorf("Expected increasing timestamps, got %d then %d", t1.Timestamp(), t2.Timestamp())
	}
	if t3.Timestamp() != 1 {
		t.Errorf("Expected supplied timestamp 1, got %d", t3.Timestamp())
	}
	if t1.Status() != TxActive || t1.Err() != nil {
		t.Errorf("Expected a live transaction, got %s (%v)", t1.Status(), t1.Err())
	}
	if reg.Count() != 3 {
		t.Errorf("Expected 3 active transactions, got %d", reg.Count())
	}

	active := reg.GetActive()
	if len(active) != 3 || active[0].ID() != t1.ID() {
		t.Errorf("GetActive should list transactions in begin order, got %v", active)
	}

	got, err := reg.Get(t2.ID())
	if err != nil {
		t.Fatalf("Get(%d): %v", t2.ID(), err)
	}
	if got != t2 {
		t.Error("Get returned a different transaction")
	}
}

func TestBeginWithCancelledContext(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := reg.Begin(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCommitReleasesEveryLock(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)
	table := reg.Table()
	tx := mustBegin(t, reg)

	if err := tx.SetInt(blk(0), 0, 42); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if _, err := tx.GetInt(blk(1), 0); err != nil {
		t.Fatalf("GetInt: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Expected 2 locked blocks, got %d", table.Len())
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.Status() != TxCommitted {
		t.Errorf("Expected COMMITTED, got %s", tx.Status())
	}
	if table.Len() != 0 || tx.Locks().Len() != 0 {
		t.Errorf("Locks left after commit: table=%d cache=%d", table.Len(), tx.Locks().Len())
	}
	if reg.Count() != 0 {
		t.Errorf("Committed transaction still registered")
	}
	if tx.Context().Err() == nil {
		t.Error("Expected the transaction context to be done")
	}
	if _, err := reg.Get(tx.ID()); err == nil {
		t.Error("Get should fail for a finished transaction")
	}
	if v := storedInt(t, reg, blk(0)); v != 42 {
		t.Errorf("Expected committed value 42, got %d", v)
	}
}

func TestReleaseLeavesOtherHoldersQueued(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)
	t1, t2 := mustBegin(t, reg), mustBegin(t, reg)

	for _, tx := range []*Transaction{t1, t2} {
		if _, err := tx.GetString(blk(0), 0); err != nil {
			t.Fatalf("GetString by %d: %v", tx.ID(), err)
		}
	}

	if err := t1.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	snap := reg.Table().Snapshot()
	if len(snap) != 1 || len(snap[0].Requests) != 1 || snap[0].Requests[0].TxnID != t2.ID() {
		t.Fatalf("Expected only txn %d queued, got %+v", t2.ID(), snap)
	}
	if err := t2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestRollbackRestoresBeforeImages(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)

	setup := mustBegin(t, reg)
	if err := setup.SetString(blk(0), 8, "before"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := setup.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx := mustBegin(t, reg)
	if err := tx.SetString(blk(0), 8, "after"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := tx.SetInt(blk(0), 0, 7); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if s, err := tx.GetString(blk(0), 8); err != nil || s != "after" {
		t.Fatalf("GetString = %q, %v; want after", s, err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if tx.Status() != TxRolledBack {
		t.Errorf("Expected ROLLED_BACK, got %s", tx.Status())
	}
	if reg.Table().Len() != 0 {
		t.Errorf("Locks left after rollback: %d", reg.Table().Len())
	}

	s, err := reg.Store().Page(blk(0)).GetString(8)
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if s != "before" {
		t.Errorf("Expected restored string %q, got %q", "before", s)
	}
	if v := storedInt(t, reg, blk(0)); v != 0 {
		t.Errorf("Expected restored int 0, got %d", v)
	}

	if err := tx.Rollback(); err != nil {
		t.Errorf("Second rollback should be a no-op, got %v", err)
	}
}

func TestBlockAccessErrorsNameTheOperation(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)
	tx := mustBegin(t, reg)

	tests := []struct {
		op  string
		run func() error
	}{
		{"SetInt", func() error { return tx.SetInt(blk(0), 62, 1) }},
		{"SetString", func() error { return tx.SetString(blk(0), 60, "too long") }},
		{"GetInt", func() error { _, err := tx.GetInt(blk(1), 64); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			err := tt.run()
			var dbErr *dberror.DBError
			if !errors.As(err, &dbErr) {
				t.Fatalf("Expected a DBError, got %v", err)
			}
			if dbErr.Code != "OFFSET_OUT_OF_RANGE" || dbErr.Category != dberror.ErrCategoryUser {
				t.Errorf("Unexpected error %s (%s)", dbErr.Code, dbErr.Category)
			}
			if dbErr.Operation != tt.op || dbErr.Component != "BlockStore" {
				t.Errorf("Expected operation %s in BlockStore, got %q in %q", tt.op, dbErr.Operation, dbErr.Component)
			}
		})
	}

	// A rejected write keeps the lock and the transaction usable.
	if mode, ok := tx.Locks().Mode(blk(0)); !ok || mode != lock.ExclusiveLock {
		t.Errorf("Expected exclusive lock on %s, got %s, %v", blk(0), mode, ok)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestFinishedTransactionRejectsWork(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)
	tx := mustBegin(t, reg)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := tx.LockShared(blk(0)); !dberror.IsCategory(err, dberror.ErrCategoryUser) {
		t.Errorf("Expected a user error, got %v", err)
	}
	if err := tx.Commit(); err == nil {
		t.Error("Second commit should fail")
	}
	if err := tx.Rollback(); err == nil {
		t.Error("Rollback after commit should fail")
	}
	if tx.Abort(errors.New("late")) {
		t.Error("Abort after commit should report false")
	}
	if reg.Table().Len() != 0 {
		t.Errorf("Expected empty lock table, got %d", reg.Table().Len())
	}
}

func TestCommitOfAbortedTransactionRollsBack(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)
	tx := mustBegin(t, reg)
	if err := tx.SetInt(blk(0), 0, 99); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	cause := dberror.NewLockAbort(dberror.AbortWounded, tx.ID(), blk(0))
	if !tx.Abort(cause) {
		t.Fatal("First Abort should perform the transition")
	}
	if tx.Abort(errors.New("second")) {
		t.Error("Second Abort should keep the first cause")
	}
	if tx.Status() != TxAborting {
		t.Errorf("Expected ABORTING, got %s", tx.Status())
	}
	if !errors.Is(context.Cause(tx.Context()), dberror.ErrLockAbort) {
		t.Errorf("Context cause = %v, want a lock abort", context.Cause(tx.Context()))
	}

	if err := tx.SetInt(blk(0), 0, 100); !errors.Is(err, cause) {
		t.Errorf("Expected the abort cause from SetInt, got %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, cause) {
		t.Errorf("Expected the abort cause from Commit, got %v", err)
	}
	if tx.Status() != TxRolledBack {
		t.Errorf("Expected ROLLED_BACK, got %s", tx.Status())
	}
	if reg.Table().Len() != 0 {
		t.Errorf("Expected empty lock table, got %d", reg.Table().Len())
	}
	if v := storedInt(t, reg, blk(0)); v != 0 {
		t.Errorf("Expected rolled back value 0, got %d", v)
	}
}

func TestGraphDeadlockAbortsExactlyOne(t *testing.T) {
	reg := newRegistry(t, lock.Graph)
	a, b := blk(0), blk(1)
	t1, t2 := mustBegin(t, reg), mustBegin(t, reg)

	var first sync.WaitGroup
	first.Add(2)
	results := make([]error, 2)
	run := func(i int, tx *Transaction, firstStep, secondStep func() error) func() error {
		return func() error {
			if err := firstStep(); err != nil {
				first.Done()
				return err
			}
			first.Done()
			first.Wait()
			results[i] = secondStep()
			if results[i] != nil {
				return tx.Rollback()
			}
			return tx.Commit()
		}
	}

	var g errgroup.Group
	g.Go(run(0, t1,
		func() error { return t1.SetInt(b, 0, 1) },
		func() error { return t1.SetInt(a, 0, 1) },
	))
	g.Go(run(1, t2,
		func() error { _, err := t2.GetInt(a, 0); return err },
		func() error { _, err := t2.GetInt(b, 0); return err },
	))
	if err := g.Wait(); err != nil {
		t.Fatalf("Transactions failed: %v", err)
	}

	aborted := 0
	for _, err := range results {
		if err != nil {
			requireReason(t, err, dberror.AbortDeadlock)
			aborted++
		}
	}
	if aborted != 1 {
		t.Errorf("Expected exactly one deadlock victim, got %d", aborted)
	}
	if reg.Table().Len() != 0 {
		t.Errorf("Expected empty lock table, got %d", reg.Table().Len())
	}
}

func TestWoundedTransactionRollsBackForOlder(t *testing.T) {
	reg := newRegistry(t, lock.WoundWait)
	older, younger := mustBegin(t, reg), mustBegin(t, reg)

	if err := younger.SetInt(blk(0), 0, 5); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	read := make(chan int32, 1)
	go func() {
		v, err := older.GetInt(blk(0), 0)
		if err != nil {
			close(read)
			return
		}
		read <- v
	}()

	deadline := time.Now().Add(time.Second)
	for younger.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Younger transaction was never wounded")
		}
		time.Sleep(time.Millisecond)
	}
	requireReason(t, younger.Commit(), dberror.AbortWounded)

	select {
	case v, ok := <-read:
		if !ok {
			t.Fatal("Older transaction should not be aborted")
		}
		if v != 0 {
			t.Errorf("Older should read the restored value 0, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Older transaction still blocked")
	}
	if err := older.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCancelledContextInterruptsWait(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)
	holder := mustBegin(t, reg)
	if err := holder.LockExclusive(blk(0)); err != nil {
		t.Fatalf("LockExclusive: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	waiter, err := reg.Begin(ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- waiter.LockShared(blk(0)) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		requireReason(t, err, dberror.AbortInterrupted)
	case <-time.After(time.Second):
		t.Fatal("Wait was not interrupted")
	}
	if err := waiter.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := holder.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if reg.Table().Len() != 0 {
		t.Errorf("Expected empty lock table, got %d", reg.Table().Len())
	}
}
