package lock

import (
	"slices"
)

// requestQueue is the FIFO of requests for one resource. Granted and waiting
// requests share the queue; arrival order is never changed except by
// removals.
//
// requestQueue is not safe for concurrent use; the LockTable mutex guards it.
type requestQueue struct {
	requests []*Request
}

func newRequestQueue() *requestQueue {
	return &requestQueue{}
}

func (q *requestQueue) push(r *Request) {
	q.requests = append(q.requests, r)
}

// find returns the request owned by txnID, or nil.
func (q *requestQueue) find(txnID int64) *Request {
	i := slices.IndexFunc(q.requests, func(r *Request) bool {
		return r.Txn.ID() == txnID
	})
	if i < 0 {
		return nil
	}
	return q.requests[i]
}

// remove deletes txnID's request while preserving the order of the rest.
func (q *requestQueue) remove(txnID int64) bool {
	n := len(q.requests)
	q.requests = slices.DeleteFunc(q.requests, func(r *Request) bool {
		return r.Txn.ID() == txnID
	})
	return len(q.requests) != n
}

func (q *requestQueue) empty() bool {
	return len(q.requests) == 0
}

func (q *requestQueue) granted() []*Request {
	var out []*Request
	for _, r := range q.requests {
		if r.Granted {
			out = append(out, r)
		}
	}
	return out
}

// holders returns the transactions with granted requests other than
// txnID, in queue order.
func (q *requestQueue) holders(txnID int64) []Txn {
	var out []Txn
	for _, r := range q.requests {
		if r.Granted && r.Txn.ID() != txnID {
			out = append(out, r.Txn)
		}
	}
	return out
}

// grantable reports whether a fresh request of mode can be granted now.
// Shared is compatible with a granted set that is empty or all Shared;
// Exclusive only with an empty granted set.
func (q *requestQueue) grantable(mode LockMode) bool {
	for _, r := range q.requests {
		if !r.Granted {
			continue
		}
		if mode == ExclusiveLock || r.Mode == ExclusiveLock {
			return false
		}
	}
	return true
}

// soleHolder reports whether txnID owns every granted request.
func (q *requestQueue) soleHolder(txnID int64) bool {
	return !slices.ContainsFunc(q.requests, func(r *Request) bool {
		return r.Granted && r.Txn.ID() != txnID
	})
}

// promote grants waiting requests after a removal and returns the requests
// whose state changed.
//
// With nothing granted, the head is granted; a Shared head also takes every
// Shared request behind it up to the next Exclusive one. With exactly one
// granted request that is waiting to upgrade, the upgrade completes.
func (q *requestQueue) promote() []*Request {
	if q.empty() {
		return nil
	}

	granted := q.granted()
	switch {
	case len(granted) == 0:
		head := q.requests[0]
		if head.Mode == ExclusiveLock {
			head.Granted = true
			return []*Request{head}
		}

		var out []*Request
		for _, r := range q.requests {
			if r.Mode != SharedLock {
				break
			}
			r.Granted = true
			out = append(out, r)
		}
		return out

	case len(granted) == 1 && granted[0].upgrading:
		r := granted[0]
		r.Mode = ExclusiveLock
		r.upgrading = false
		return []*Request{r}
	}
	return nil
}

func (q *requestQueue) view() []RequestView {
	out := make([]RequestView, 0, len(q.requests))
	for _, r := range q.requests {
		out = append(out, RequestView{
			TxnID:     r.Txn.ID(),
			Mode:      r.Mode,
			Granted:   r.Granted,
			Upgrading: r.upgrading,
		})
	}
	return out
}
