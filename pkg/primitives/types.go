package primitives

// BlockIndex is the position of a block within its container, starting at 0.
type BlockIndex uint64

// Timestamp is a logical ordering value assigned to a transaction when it
// begins. Lower values are older.
type Timestamp uint64

// InvalidTimestamp is never handed out by a clock.
const InvalidTimestamp Timestamp = 0
