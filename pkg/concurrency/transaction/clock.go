package transaction

import (
	"sync/atomic"
	"time"

	"blocklock/pkg/primitives"
)

// Clock hands out transaction timestamps. Successive calls must return
// strictly increasing values.
type Clock interface {
	Now() primitives.Timestamp
}

// SequenceClock counts up from 1.
type SequenceClock struct {
	last atomic.Uint64
}

func (c *SequenceClock) Now() primitives.Timestamp {
	return primitives.Timestamp(c.last.Add(1))
}

// WallClock uses Unix nanoseconds, bumped when two calls land on the same
// reading.
type WallClock struct {
	last atomic.Uint64
}

func (c *WallClock) Now() primitives.Timestamp {
	for {
		prev := c.last.Load()
		next := uint64(time.Now().UnixNano())
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return primitives.Timestamp(next)
		}
	}
}
