// Package lock implements key-level pessimistic locking for verlock's
// concurrency control layer.
//
// # Overview
//
// Two lock modes are supported:
//
//   - [Shared]: for pessimistic reads; compatible with other shared locks.
//   - [Exclusive]: for pessimistic writes; incompatible with all other locks.
//
// A transaction holding a shared lock may upgrade it to exclusive
// (request [Exclusive] on the same key) provided it is the key's sole
// holder. Downgrading is never permitted. Acquires are re-entrant: a
// holder re-requesting a lock it already holds succeeds immediately.
//
// # Components
//
// [Manager] is the single public entry point. Internally it coordinates:
//
//   - table: dual-index tracking which keys each holder has locked and
//     which holders have locks on each key.
//   - waitQueue: per-key FIFO queues of pending requests, each carrying
//     a buffered grant channel.
//
// # Acquisition flow
//
// [Manager.Acquire] grants immediately when the holder already has a
// sufficient lock, an S→X upgrade is possible, or no conflicting lock
// exists. Otherwise, with a zero timeout it reports LockHeldByOther
// (no-wait probe); with a positive timeout it enqueues a request and
// blocks on a select over the grant channel, a timer, and the caller's
// context. Grants happen under the manager mutex before the waiter is
// signaled, so mutual exclusion can never be observed broken. This is
// the only blocking operation in the module.
//
// # Caller obligations
//
// The package performs no deadlock detection. Transactions must either
// lock a single key, or lock multiple keys in one globally agreed order
// (e.g. lexicographic). Violating this may deadlock until the waiters'
// timeouts fire.
//
// Abandoned holders (crashed or forgotten transactions) are recovered by
// calling [Manager.ReleaseAll] with the dead holder's identity; the
// transaction registry's sweeper does this automatically.
package lock
