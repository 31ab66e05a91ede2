package lock

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Strategy decides what happens when a request cannot be granted. Both hooks
// run with the LockTable mutex held.
type Strategy interface {
	Kind() StrategyKind

	// OnIncompatible is called when c's request conflicts with the granted
	// set. It returns nil once the request has been granted, or a lock-abort
	// error after aborting the waiter. It may park any number of times through
	// c, and may abort other transactions.
	OnIncompatible(c *Conflict) error

	// OnUnlock is called before txn's request on some resource is removed.
	OnUnlock(txn Txn)
}

// StrategyKind names one of the conflict resolution strategies.
type StrategyKind int

const (
	Timeout StrategyKind = iota
	WaitDie
	WoundWait
	Graph
)

// StrategyKinds lists every kind in declaration order.
var StrategyKinds = []StrategyKind{Timeout, WaitDie, WoundWait, Graph}

func (k StrategyKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case WaitDie:
		return "wait-die"
	case WoundWait:
		return "wound-wait"
	case Graph:
		return "graph"
	default:
		return "unknown"
	}
}

// ParseStrategyKind accepts the names produced by String, case-insensitively.
// Underscores may stand in for dashes.
func ParseStrategyKind(s string) (StrategyKind, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for _, k := range StrategyKinds {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, errors.Newf("unknown lock strategy %q", s)
}

func (k StrategyKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *StrategyKind) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategyKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// DefaultMaxWait bounds a Timeout wait when no other value is configured.
const DefaultMaxWait = 5 * time.Second

// Config selects the strategy a LockTable is built with.
type Config struct {
	Strategy StrategyKind  `yaml:"strategy"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

func DefaultConfig() Config {
	return Config{
		Strategy: Timeout,
		MaxWait:  DefaultMaxWait,
	}
}

func (c Config) Validate() error {
	switch c.Strategy {
	case Timeout, WaitDie, WoundWait, Graph:
	default:
		return errors.Newf("unknown lock strategy %d", int(c.Strategy))
	}
	if c.Strategy == Timeout && c.MaxWait <= 0 {
		return errors.Newf("max_wait must be positive for the timeout strategy, got %s", c.MaxWait)
	}
	return nil
}

// NewStrategy builds the strategy described by cfg.
func NewStrategy(cfg Config) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "lock config")
	}
	switch cfg.Strategy {
	case WaitDie:
		return NewWaitDieStrategy(), nil
	case WoundWait:
		return NewWoundWaitStrategy(), nil
	case Graph:
		return NewGraphStrategy(), nil
	default:
		return NewTimeoutStrategy(cfg.MaxWait), nil
	}
}
