package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"blocklock/pkg/dberror"
	"blocklock/pkg/primitives"
)

type testTxn struct {
	id int64
	ts primitives.Timestamp

	mu  sync.Mutex
	err error
}

func newTestTxn(id int64, ts primitives.Timestamp) *testTxn {
	return &testTxn{id: id, ts: ts}
}

func (t *testTxn) ID() int64                       { return t.id }
func (t *testTxn) Timestamp() primitives.Timestamp { return t.ts }

func (t *testTxn) Abort(cause error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return false
	}
	t.err = cause
	return true
}

func (t *testTxn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *testTxn) String() string {
	return fmt.Sprintf("txn %d (ts %d)", t.id, t.ts)
}

func blk(i int) primitives.BlockID {
	return primitives.NewBlockID("testfile", primitives.BlockIndex(i))
}

func newTable(t *testing.T, s Strategy) *LockTable {
	t.Helper()
	return NewLockTable(s, WithMetrics(NewMetrics(nil)))
}

func acquire(lt *LockTable, txn Txn, id primitives.BlockID, mode LockMode) error {
	if mode == ExclusiveLock {
		return lt.AcquireExclusive(context.Background(), txn, id)
	}
	return lt.AcquireShared(context.Background(), txn, id)
}

func mustAcquire(t *testing.T, lt *LockTable, txn Txn, id primitives.BlockID, mode LockMode) {
	t.Helper()
	if err := acquire(lt, txn, id, mode); err != nil {
		t.Fatalf("txn %d: %s lock on %s: %v", txn.ID(), mode, id, err)
	}
}

func mustRelease(t *testing.T, lt *LockTable, txn Txn, id primitives.BlockID) {
	t.Helper()
	if err := lt.Release(txn, id); err != nil {
		t.Fatalf("txn %d: release %s: %v", txn.ID(), id, err)
	}
}

// acquireAsync runs an acquisition in its own goroutine and delivers its
// result on the returned channel.
func acquireAsync(lt *LockTable, txn Txn, id primitives.BlockID, mode LockMode) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- acquire(lt, txn, id, mode)
	}()
	return done
}

func requireBlocked(t *testing.T, done <-chan error, d time.Duration) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("request should still be blocked, returned %v", err)
	case <-time.After(d):
	}
}

func requireDone(t *testing.T, done <-chan error, d time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatalf("request still blocked after %s", d)
		return nil
	}
}

// requireGranted waits for done and fails unless the request succeeded.
func requireGranted(t *testing.T, done <-chan error) {
	t.Helper()
	if err := requireDone(t, done, time.Second); err != nil {
		t.Fatalf("request failed: %v", err)
	}
}

func requireAbortReason(t *testing.T, err error, want dberror.AbortReason) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s abort, got nil", want)
	}
	if !dberror.IsLockAbort(err) {
		t.Fatalf("expected lock abort, got %v", err)
	}
	got, ok := dberror.AbortReasonOf(err)
	if !ok || got != want {
		t.Fatalf("abort reason = %v (ok=%v), want %v", got, ok, want)
	}
}

func requireNoAbort(t *testing.T, txn Txn) {
	t.Helper()
	if err := txn.Err(); err != nil {
		t.Fatalf("txn %d should not be aborted: %v", txn.ID(), err)
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// waitQueued waits until id's queue holds n requests.
func waitQueued(t *testing.T, lt *LockTable, id primitives.BlockID, n int) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%d requests on %s", n, id), func() bool {
		return len(queueOf(lt, id)) == n
	})
}

func queueOf(lt *LockTable, id primitives.BlockID) []RequestView {
	for _, v := range lt.Snapshot() {
		if v.Resource == id {
			return v.Requests
		}
	}
	return nil
}

func requireQueueLen(t *testing.T, lt *LockTable, id primitives.BlockID, n int) []RequestView {
	t.Helper()
	q := queueOf(lt, id)
	if len(q) != n {
		t.Fatalf("queue on %s has %d requests, want %d: %+v", id, len(q), n, q)
	}
	return q
}
