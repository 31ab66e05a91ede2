package lock

import (
	"slices"
	"testing"
)

func modes(rs []*Request) []LockMode {
	out := make([]LockMode, len(rs))
	for i, r := range rs {
		out[i] = r.Mode
	}
	return out
}

func TestQueueGrantable(t *testing.T) {
	q := newRequestQueue()
	if !q.grantable(SharedLock) || !q.grantable(ExclusiveLock) {
		t.Fatal("Empty queue should grant any mode")
	}

	q.push(newRequest(newTestTxn(1, 1), SharedLock, true))
	if !q.grantable(SharedLock) {
		t.Error("Shared should be grantable next to a shared holder")
	}
	if q.grantable(ExclusiveLock) {
		t.Error("Exclusive should not be grantable next to a shared holder")
	}

	// Waiting requests do not affect compatibility.
	q.push(newRequest(newTestTxn(2, 2), ExclusiveLock, false))
	if !q.grantable(SharedLock) {
		t.Error("Shared should stay grantable behind a waiting exclusive request")
	}
}

func TestQueuePromoteSharedRun(t *testing.T) {
	q := newRequestQueue()
	q.push(newRequest(newTestTxn(1, 1), SharedLock, false))
	q.push(newRequest(newTestTxn(2, 2), SharedLock, false))
	q.push(newRequest(newTestTxn(3, 3), ExclusiveLock, false))
	q.push(newRequest(newTestTxn(4, 4), SharedLock, false))

	promoted := q.promote()
	if got := modes(promoted); !slices.Equal(got, []LockMode{SharedLock, SharedLock}) {
		t.Fatalf("Expected two shared promotions, got %v", got)
	}
	if q.find(3).Granted || q.find(4).Granted {
		t.Error("Requests behind the exclusive request must keep waiting")
	}
	if again := q.promote(); len(again) != 0 {
		t.Errorf("Expected no change while the run is held, got %d promotions", len(again))
	}
}

func TestQueuePromoteExclusiveHead(t *testing.T) {
	q := newRequestQueue()
	q.push(newRequest(newTestTxn(1, 1), ExclusiveLock, false))
	q.push(newRequest(newTestTxn(2, 2), SharedLock, false))

	promoted := q.promote()
	if len(promoted) != 1 || promoted[0].Txn.ID() != 1 {
		t.Fatalf("Expected only txn 1 promoted, got %v", promoted)
	}
	if q.find(2).Granted {
		t.Error("Shared request behind exclusive holder was granted")
	}
}

func TestQueuePromoteCompletesUpgrade(t *testing.T) {
	q := newRequestQueue()
	r := newRequest(newTestTxn(1, 1), SharedLock, true)
	r.upgrading = true
	q.push(r)
	q.push(newRequest(newTestTxn(2, 2), SharedLock, true))

	if got := q.promote(); len(got) != 0 {
		t.Fatalf("Upgrade completed with another holder present")
	}
	if !q.remove(2) {
		t.Fatal("Failed to remove txn 2")
	}
	if got := q.promote(); len(got) != 1 {
		t.Fatalf("Expected the upgrade to complete, got %d promotions", len(got))
	}
	if r.Mode != ExclusiveLock || r.upgrading {
		t.Errorf("Expected exclusive mode with upgrading cleared, got %s upgrading=%v", r.Mode, r.upgrading)
	}
}

func TestQueueRemoveKeepsOrder(t *testing.T) {
	q := newRequestQueue()
	for i := int64(1); i <= 4; i++ {
		q.push(newRequest(newTestTxn(i, 0), SharedLock, true))
	}
	if !q.remove(2) {
		t.Fatal("Failed to remove txn 2")
	}
	if q.remove(2) {
		t.Error("Removing txn 2 twice should report false")
	}

	var ids []int64
	for _, v := range q.view() {
		ids = append(ids, v.TxnID)
	}
	if !slices.Equal(ids, []int64{1, 3, 4}) {
		t.Errorf("Expected order [1 3 4], got %v", ids)
	}
	if n := len(q.holders(3)); n != 2 {
		t.Errorf("Expected 2 other holders, got %d", n)
	}
	if q.soleHolder(1) {
		t.Error("txn 1 is not the sole holder")
	}
}

func TestOlder(t *testing.T) {
	tests := []struct {
		a, b *testTxn
		want bool
	}{
		{newTestTxn(9, 1), newTestTxn(1, 2), true},
		{newTestTxn(1, 2), newTestTxn(9, 1), false},
		{newTestTxn(1, 5), newTestTxn(2, 5), true},
		{newTestTxn(2, 5), newTestTxn(1, 5), false},
	}
	for _, tt := range tests {
		if got := Older(tt.a, tt.b); got != tt.want {
			t.Errorf("Older(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
