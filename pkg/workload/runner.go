// Package workload drives concurrent transactions against a lock table to
// exercise a conflict resolution strategy, and reports how it fared.
package workload

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/concurrency/transaction"
	"blocklock/pkg/dberror"
	"blocklock/pkg/logging"
	"blocklock/pkg/primitives"
	"blocklock/pkg/storage/block"
)

const (
	ScenarioDeadlock   = "deadlock"
	ScenarioContention = "contention"
)

// Scenarios lists the scenario names accepted by Runner.Run.
var Scenarios = []string{ScenarioDeadlock, ScenarioContention}

// Runner executes scenarios. Each scenario gets a fresh lock table and
// block store.
type Runner struct {
	cfg     Config
	metrics *lock.Metrics
	observe func(*lock.LockTable)
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics makes every lock table the runner builds record into m.
func WithMetrics(m *lock.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTableObserver calls fn with each lock table before a scenario starts
// using it.
func WithTableObserver(fn func(*lock.LockTable)) Option {
	return func(r *Runner) {
		r.observe = fn
	}
}

func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "workload config")
	}
	r := &Runner{cfg: cfg, logger: logging.WithComponent("workload")}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Runner) Config() Config {
	return r.cfg
}

// Run executes the named scenario.
func (r *Runner) Run(ctx context.Context, scenario string) (Result, error) {
	switch scenario {
	case ScenarioDeadlock:
		return r.Deadlock(ctx)
	case ScenarioContention:
		return r.Contention(ctx)
	default:
		return Result{}, errors.Newf("unknown scenario %q", scenario)
	}
}

// Deadlock runs two transactions per round that take blocks A and B in
// opposite orders. The writer increments B then A; the reader reads A then
// B. Pausing between the two steps makes the cycle near certain.
func (r *Runner) Deadlock(ctx context.Context) (Result, error) {
	reg, err := r.setup()
	if err != nil {
		return Result{}, err
	}
	rec := newRecorder(ScenarioDeadlock, r.cfg.Lock.Strategy.String(), r.cfg.Rounds)
	a, b := r.block(0), r.block(1)
	var writes atomic.Int64

	start := time.Now()
	for round := 0; round < r.cfg.Rounds; round++ {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return r.run(gctx, rec, reg, &writes, func(tx *transaction.Transaction) error {
				if err := increment(tx, b); err != nil {
					return err
				}
				r.think(gctx)
				return increment(tx, a)
			})
		})
		g.Go(func() error {
			return r.run(gctx, rec, reg, nil, func(tx *transaction.Transaction) error {
				if _, err := tx.GetInt(a, 0); err != nil {
					return err
				}
				r.think(gctx)
				_, err := tx.GetInt(b, 0)
				return err
			})
		})
		if err := g.Wait(); err != nil {
			return rec.finish(time.Since(start)), err
		}
	}
	res := rec.finish(time.Since(start))

	want := writes.Load()
	return res, r.verify(ctx, reg, map[primitives.BlockID]int64{a: want, b: want})
}

// Contention runs, per round, one reader that scans every block while
// writers each increment their own block.
func (r *Runner) Contention(ctx context.Context) (Result, error) {
	reg, err := r.setup()
	if err != nil {
		return Result{}, err
	}
	rec := newRecorder(ScenarioContention, r.cfg.Lock.Strategy.String(), r.cfg.Rounds)
	writes := make([]atomic.Int64, r.cfg.Blocks)

	start := time.Now()
	for round := 0; round < r.cfg.Rounds; round++ {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return r.run(gctx, rec, reg, nil, func(tx *transaction.Transaction) error {
				for i := 0; i < r.cfg.Blocks; i++ {
					if _, err := tx.GetInt(r.block(i), 0); err != nil {
						return err
					}
					r.think(gctx)
				}
				return nil
			})
		})
		for i := 0; i < r.cfg.Blocks; i++ {
			g.Go(func() error {
				return r.run(gctx, rec, reg, &writes[i], func(tx *transaction.Transaction) error {
					return increment(tx, r.block(i))
				})
			})
		}
		if err := g.Wait(); err != nil {
			return rec.finish(time.Since(start)), err
		}
	}
	res := rec.finish(time.Since(start))

	want := make(map[primitives.BlockID]int64, r.cfg.Blocks)
	for i := range writes {
		want[r.block(i)] = writes[i].Load()
	}
	return res, r.verify(ctx, reg, want)
}

func (r *Runner) setup() (*transaction.TransactionRegistry, error) {
	strategy, err := lock.NewStrategy(r.cfg.Lock)
	if err != nil {
		return nil, err
	}
	table := lock.NewLockTable(strategy, lock.WithMetrics(r.metrics))
	if r.observe != nil {
		r.observe(table)
	}
	return transaction.NewTransactionRegistry(table, block.NewStore(r.cfg.BlockSize)), nil
}

// run executes fn with retries and records the outcome. Giving up after
// repeated lock aborts is recorded as a failure; any other error stops the
// scenario. commits counts successful runs when not nil.
func (r *Runner) run(
	ctx context.Context,
	rec *recorder,
	reg *transaction.TransactionRegistry,
	commits *atomic.Int64,
	fn func(*transaction.Transaction) error,
) error {
	backoff, err := r.backoff()
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := transaction.RunWithRetry(ctx, reg, backoff, fn)
	rec.record(time.Since(start), res, err)
	switch {
	case err == nil:
		if commits != nil {
			commits.Add(1)
		}
		return nil
	case dberror.IsLockAbort(err):
		r.logger.Warn("transaction gave up", "attempts", res.Attempts, "error", err)
		return nil
	default:
		return err
	}
}

// verify reads every block in one transaction and compares it with the
// number of committed increments.
func (r *Runner) verify(ctx context.Context, reg *transaction.TransactionRegistry, want map[primitives.BlockID]int64) error {
	tx, err := reg.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for id, n := range want {
		v, err := tx.GetInt(id, 0)
		if err != nil {
			return err
		}
		if int64(v) != n {
			return errors.AssertionFailedf("%s holds %d after %d committed increments", id, v, n)
		}
	}
	return nil
}

func (r *Runner) backoff() (transaction.Backoff, error) {
	b, err := transaction.NewExpBackoff(r.cfg.Retry.BaseDelay, r.cfg.Retry.MaxDelay, r.cfg.Retry.Limit)
	if err != nil {
		return nil, err
	}
	return jitterBackoff{inner: b}, nil
}

func (r *Runner) block(i int) primitives.BlockID {
	return primitives.NewBlockID(r.cfg.Container, primitives.BlockIndex(i))
}

func (r *Runner) think(ctx context.Context) {
	if r.cfg.Think <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(r.cfg.Think):
	}
}

func increment(tx *transaction.Transaction, id primitives.BlockID) error {
	v, err := tx.GetInt(id, 0)
	if err != nil {
		return err
	}
	return tx.SetInt(id, 0, v+1)
}

// jitterBackoff spreads each delay over [d/2, d) so that transactions
// aborted together do not restart together.
type jitterBackoff struct {
	inner transaction.Backoff
}

func (j jitterBackoff) Next() (time.Duration, bool) {
	d, ok := j.inner.Next()
	if !ok || d < 2 {
		return d, ok
	}
	return d/2 + rand.N(d/2), true
}
