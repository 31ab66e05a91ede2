package transaction

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/dberror"
)

func mustBackoff(t *testing.T, base, maxDelay time.Duration, limit int) Backoff {
	t.Helper()
	b, err := NewExpBackoff(base, maxDelay, limit)
	if err != nil {
		t.Fatalf("NewExpBackoff: %v", err)
	}
	return b
}

func TestExpBackoff(t *testing.T) {
	b := mustBackoff(t, 10*time.Millisecond, 40*time.Millisecond, 4)

	var got []time.Duration
	for {
		d, ok := b.Next()
		if !ok {
			break
		}
		got = append(got, d)
	}
	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}
	if !slices.Equal(got, want) {
		t.Errorf("Delays = %v, want %v", got, want)
	}
}

func TestExpBackoffRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name           string
		base, maxDelay time.Duration
		limit          int
	}{
		{"zero base", 0, time.Second, 0},
		{"max below base", time.Second, time.Millisecond, 0},
		{"negative limit", time.Millisecond, time.Second, -1},
	}
	for _, tt := range tests {
		if _, err := NewExpBackoff(tt.base, tt.maxDelay, tt.limit); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
}

func TestRunWithRetryKeepsTimestamp(t *testing.T) {
	reg := newRegistry(t, lock.WaitDie)
	ctx := context.Background()

	holder := mustBegin(t, reg)
	if err := holder.SetInt(blk(0), 0, 1); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	var stamps []uint64
	res, err := RunWithRetry(ctx, reg, mustBackoff(t, time.Millisecond, 10*time.Millisecond, 5), func(tx *Transaction) error {
		stamps = append(stamps, uint64(tx.Timestamp()))
		err := tx.SetInt(blk(0), 0, 2)
		if err != nil && holder.Status() == TxActive {
			if cerr := holder.Commit(); cerr != nil {
				t.Errorf("Commit of holder: %v", cerr)
			}
		}
		return err
	})
	if err != nil {
		t.Fatalf("RunWithRetry: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", res.Attempts)
	}
	if !slices.Equal(res.Aborts, []dberror.AbortReason{dberror.AbortDie}) {
		t.Errorf("Aborts = %v, want [die]", res.Aborts)
	}
	if len(stamps) != 2 || stamps[0] != stamps[1] {
		t.Errorf("Expected both attempts to share a timestamp, got %v", stamps)
	}

	if v := storedInt(t, reg, blk(0)); v != 2 {
		t.Errorf("Expected 2, got %d", v)
	}
	if reg.Count() != 0 {
		t.Errorf("Expected no active transactions, got %d", reg.Count())
	}
}

func TestRunWithRetryReturnsOtherErrors(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)
	boom := errors.New("boom")

	res, err := RunWithRetry(context.Background(), reg, mustBackoff(t, time.Millisecond, time.Millisecond, 0), func(tx *Transaction) error {
		if err := tx.SetInt(blk(0), 0, 9); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", res.Attempts)
	}

	// The failed attempt is rolled back.
	if v := storedInt(t, reg, blk(0)); v != 0 {
		t.Errorf("Expected 0, got %d", v)
	}
}

func TestRunWithRetryGivesUp(t *testing.T) {
	reg := newRegistry(t, lock.Timeout)

	res, err := RunWithRetry(context.Background(), reg, mustBackoff(t, time.Millisecond, time.Millisecond, 1), func(tx *Transaction) error {
		return dberror.NewLockAbort(dberror.AbortTimeout, tx.ID(), blk(0))
	})
	if !dberror.IsLockAbort(err) {
		t.Fatalf("Expected the last lock abort, got %v", err)
	}
	if res.Attempts != 2 || len(res.Aborts) != 2 {
		t.Errorf("Expected 2 attempts and 2 aborts, got %d and %v", res.Attempts, res.Aborts)
	}
}
