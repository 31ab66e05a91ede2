package workload

import (
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"

	"blocklock/pkg/concurrency/transaction"
	"blocklock/pkg/dberror"
)

const maxErrorSamples = 5

// Result captures one scenario run.
type Result struct {
	Scenario      string         `json:"scenario"`
	Strategy      string         `json:"strategy"`
	Rounds        int            `json:"rounds"`
	Transactions  int            `json:"transactions"`
	Attempts      int            `json:"attempts"`
	Commits       int            `json:"commits"`
	Failures      int            `json:"failures"`
	Aborts        map[string]int `json:"aborts"`
	TotalDuration time.Duration  `json:"total_duration_ns"`
	AvgDuration   time.Duration  `json:"avg_duration_ns"`
	MinDuration   time.Duration  `json:"min_duration_ns"`
	MaxDuration   time.Duration  `json:"max_duration_ns"`
	P50Duration   time.Duration  `json:"p50_duration_ns"`
	P95Duration   time.Duration  `json:"p95_duration_ns"`
	P99Duration   time.Duration  `json:"p99_duration_ns"`
	TxPerSecond   float64        `json:"tx_per_second"`
	ErrorSamples  []string       `json:"error_samples"`
	Timestamp     time.Time      `json:"timestamp"`
}

// AbortTotal sums aborts over every reason.
func (r Result) AbortTotal() int {
	n := 0
	for _, c := range r.Aborts {
		n += c
	}
	return n
}

// AbortReasons returns the reasons seen, in declaration order.
func (r Result) AbortReasons() []string {
	var out []string
	for _, reason := range dberror.AbortReasons {
		if r.Aborts[reason.String()] > 0 {
			out = append(out, reason.String())
		}
	}
	return out
}

// Report aggregates the results of one invocation.
type Report struct {
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	TotalDuration time.Duration `json:"total_duration_ns"`
	Results       []Result      `json:"results"`
}

// recorder collects per-transaction outcomes from concurrent workers.
type recorder struct {
	mu        sync.Mutex
	latencies *hdrhistogram.Histogram
	res       Result
}

func newRecorder(scenario, strategy string, rounds int) *recorder {
	return &recorder{
		// Microseconds, 1µs to 10min.
		latencies: hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3),
		res: Result{
			Scenario: scenario,
			Strategy: strategy,
			Rounds:   rounds,
			Aborts:   make(map[string]int),
		},
	}
}

func (r *recorder) record(d time.Duration, rr transaction.RetryResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.res.Transactions++
	r.res.Attempts += rr.Attempts
	for _, reason := range rr.Aborts {
		r.res.Aborts[reason.String()]++
	}
	if err != nil {
		r.res.Failures++
		if len(r.res.ErrorSamples) < maxErrorSamples {
			r.res.ErrorSamples = append(r.res.ErrorSamples, err.Error())
		}
		return
	}
	r.res.Commits++
	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	_ = r.latencies.RecordValue(us)
}

func (r *recorder) finish(total time.Duration) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	res := r.res
	res.TotalDuration = total
	if r.latencies.TotalCount() > 0 {
		res.AvgDuration = time.Duration(r.latencies.Mean() * float64(time.Microsecond))
		res.MinDuration = us(r.latencies.Min())
		res.MaxDuration = us(r.latencies.Max())
		res.P50Duration = us(r.latencies.ValueAtQuantile(50))
		res.P95Duration = us(r.latencies.ValueAtQuantile(95))
		res.P99Duration = us(r.latencies.ValueAtQuantile(99))
	}
	if total > 0 {
		res.TxPerSecond = float64(res.Commits) / total.Seconds()
	}
	res.Timestamp = time.Now()
	return res
}
