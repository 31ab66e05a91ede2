// Package lock implements the block lock table: shared and exclusive locks
// on [primitives.BlockID] resources, granted to concurrently running
// transactions and held until the transaction commits or rolls back.
//
// # Lock modes
//
//   - [SharedLock] is required to read a block and is compatible with other
//     shared locks.
//   - [ExclusiveLock] is required to write a block and is compatible with
//     nothing.
//
// A transaction holding a shared lock may ask for an exclusive one on the
// same block. The request is upgraded in place: it keeps its queue position
// and no second entry is created. Downgrades do not exist.
//
// # Components
//
//   - [LockTable] maps each resource to a FIFO queue of requests, granted
//     and waiting. A resource is present iff some transaction holds or awaits
//     a lock on it.
//   - [Strategy] decides what happens when a request cannot be granted. It
//     is chosen once, at construction, from [Config]: [TimeoutStrategy],
//     [WaitDieStrategy], [WoundWaitStrategy] or [GraphStrategy].
//   - [Conflict] is the strategy's handle on a blocked request. Through it a
//     strategy parks the caller, inspects holders, and aborts transactions.
//   - [WaitForGraph] holds the waiter→holder edges used by [GraphStrategy].
//
// # Waiting
//
// All table and strategy state sits behind one mutex. A blocked request
// waits on a [sync.Cond] tied to that mutex and re-checks its own request
// after every wake. Releases, aborts, deadlines and context cancellation all
// broadcast. Nothing but the table mutex is held across a wait.
//
// # Aborts
//
// Aborting is cooperative. A strategy calls [Txn.Abort], which marks the
// transaction and cancels its context; a transaction parked in the table
// notices at its next wake and its Acquire call returns the lock-abort
// error (see [dberror.IsLockAbort]). The caller must then release every lock
// it holds and may retry. The table never retries on anyone's behalf.
package lock
