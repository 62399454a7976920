// Package record implements the durable, versioned record store that the
// concurrency layers build on.
//
// # Layout
//
// The full key index lives in memory as an ordered map of
// key -> (version, payload location). Payload bytes live in an
// append-only log file; reads go through a size-bounded cache keyed by
// (key, version), so cached entries are immutable and need no
// invalidation.
//
// # Atomicity
//
// [Store.CompareAndSet] is the single atomic primitive everything else
// is built on: it reads the current version, compares, and applies as
// one indivisible operation under the store mutex, making concurrent
// calls on the same key linearizable: for any given expected version,
// exactly one writer succeeds.
//
// [Store.ApplyBatch] generalizes this to a write set: all checks are
// validated and all writes applied under one mutex hold and written as
// one CRC-framed log entry, so concurrent readers see none or all of a
// batch, and crash recovery replays to a batch boundary.
//
// [Store.ForceSet] writes unconditionally (still bumping the version)
// and exists for callers holding external exclusivity, such as the
// pessimistic commit path.
//
// # Versioning
//
// Versions are per-key, start at [primitives.FirstVersion] on creation,
// and strictly increase on every successful write. Records are never
// destroyed; deletion, if needed, is a caller-defined tombstone payload.
package record
