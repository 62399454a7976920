package transaction

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"verlock/pkg/concurrency/lock"
	"verlock/pkg/logging"
	"verlock/pkg/metrics"
	"verlock/pkg/primitives"
	"verlock/pkg/storage/record"
)

// readEntry records what a transaction observed when it read a key: the
// version at read time and the mode it read under.
type readEntry struct {
	version primitives.Version
	mode    ReadMode
}

// Context encapsulates all state for a single transaction: its identity,
// lifecycle status, read-set, and buffered writes. It is the single
// source of truth for everything the transaction has done.
//
// A context holds only transient references into the store (key +
// expected version); the store remains the sole owner of record data and
// the lock manager the sole authority on lock existence.
//
// A context is intended for one goroutine; the registry's sweeper may
// concurrently roll it back, which every operation tolerates.
type Context struct {
	id    primitives.TxID
	store *record.Store
	locks *lock.Manager

	// Default wait budget for pessimistic reads.
	lockTimeout time.Duration

	mu      sync.Mutex
	status  Status
	started time.Time
	ended   time.Time
	reads   map[primitives.Key]readEntry
	writes  map[primitives.Key][]byte
	applied map[primitives.Key]primitives.Version
}

func newContext(store *record.Store, locks *lock.Manager, lockTimeout time.Duration) *Context {
	return &Context{
		id:          primitives.NewTxID(),
		store:       store,
		locks:       locks,
		lockTimeout: lockTimeout,
		status:      StatusActive,
		started:     time.Now(),
		reads:       make(map[primitives.Key]readEntry),
		writes:      make(map[primitives.Key][]byte),
	}
}

// ID returns the transaction identity, which is also its lock-holder
// identity.
func (tc *Context) ID() primitives.TxID {
	return tc.id
}

// Status returns the current lifecycle state.
func (tc *Context) Status() Status {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.status
}

// IsActive reports whether the transaction can still read, write, and
// commit.
func (tc *Context) IsActive() bool {
	return tc.Status() == StatusActive
}

// Read fetches key under the given mode.
//
// Optimistic reads never block and record (key, version) for commit-time
// validation; a missing key reads as (nil, NoVersion). Pessimistic reads
// first acquire the corresponding lock with the context's timeout; on
// LockTimeout or LockHeldByOther the entire transaction rolls back and
// the outcome is returned inside a *ConflictError.
func (tc *Context) Read(ctx context.Context, key primitives.Key, mode ReadMode) ([]byte, primitives.Version, error) {
	tc.mu.Lock()
	if tc.status != StatusActive {
		tc.mu.Unlock()
		return nil, primitives.NoVersion, ErrFinished
	}
	tc.mu.Unlock()

	if mode != ReadOptimistic {
		lockMode := lock.Shared
		if mode == ReadExclusive {
			lockMode = lock.Exclusive
		}

		out := tc.locks.Acquire(ctx, key, tc.id, lockMode, tc.lockTimeout)
		if !out.OK() {
			// A failed pessimistic read fails the whole transaction.
			tc.rollback("lock")
			return nil, primitives.NoVersion, &ConflictError{Outcome: out}
		}
	}

	rec, err := tc.store.Get(key)
	if err != nil && !errors.Is(err, record.ErrNotFound) {
		return nil, primitives.NoVersion, err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.status != StatusActive {
		// Swept out from under us while acquiring. The sweep's release
		// may have run before our acquire was granted, so give back
		// anything we hold now; ReleaseAll is a no-op for an empty
		// holder.
		tc.locks.ReleaseAll(tc.id)
		return nil, primitives.NoVersion, ErrFinished
	}

	entry := readEntry{version: rec.Version, mode: mode}
	if prev, ok := tc.reads[key]; ok {
		// Keep the first observed version; only strengthen the mode.
		entry.version = prev.version
		if mode == ReadOptimistic {
			entry.mode = prev.mode
		}
	}
	tc.reads[key] = entry

	return rec.Payload, entry.version, nil
}

// Write buffers a mutation. Nothing reaches the store until Commit. A
// write to a key the transaction never read performs an implicit
// optimistic read first, so the commit can still detect interleaved
// writers.
func (tc *Context) Write(key primitives.Key, payload []byte) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.status != StatusActive {
		return ErrFinished
	}

	if _, ok := tc.reads[key]; !ok {
		version := primitives.NoVersion
		if rec, err := tc.store.Get(key); err == nil {
			version = rec.Version
		} else if !errors.Is(err, record.ErrNotFound) {
			return err
		}
		tc.reads[key] = readEntry{version: version, mode: ReadOptimistic}
	}

	tc.writes[key] = slices.Clone(payload)
	return nil
}

// Commit validates and applies the buffered write set as one atomic
// step, then transitions to Committed. Keys read optimistically (or
// under a shared lock) are validated against their recorded versions;
// keys read under an exclusive lock apply unconditionally. If any
// validation fails, nothing is applied, the context transitions to
// RolledBack, and the conflict outcome is returned.
//
// Locks held by the context are released on every path out of Commit.
func (tc *Context) Commit() (primitives.Outcome, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.status != StatusActive {
		return primitives.Outcome{}, ErrFinished
	}

	if len(tc.writes) == 0 {
		tc.finishLocked(StatusCommitted)
		metrics.CommitsTotal.WithLabelValues("readonly").Inc()
		return primitives.Outcome{Kind: primitives.OutcomeSuccess}, nil
	}

	keys := make([]primitives.Key, 0, len(tc.writes))
	for key := range tc.writes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var checks []record.Check
	writes := make([]record.Write, 0, len(keys))
	for _, key := range keys {
		entry := tc.reads[key]
		if entry.mode != ReadExclusive {
			checks = append(checks, record.Check{Key: key, Expected: entry.version})
		}
		writes = append(writes, record.Write{Key: key, Payload: tc.writes[key]})
	}

	versions, out, err := tc.store.ApplyBatch(checks, writes)
	if err != nil {
		tc.finishLocked(StatusRolledBack)
		metrics.RollbacksTotal.WithLabelValues("error").Inc()
		return primitives.Outcome{}, fmt.Errorf("commit %s: %w", tc.id.Short(), err)
	}
	if !out.OK() {
		tc.finishLocked(StatusRolledBack)
		metrics.RollbacksTotal.WithLabelValues("conflict").Inc()
		metrics.VersionConflictsTotal.Inc()
		logging.WithTxKey(tc.id, out.Key).Debug("commit lost version race",
			"expected", out.Expected, "actual", out.Actual)
		return out, nil
	}

	tc.applied = versions
	tc.finishLocked(StatusCommitted)
	metrics.CommitsTotal.WithLabelValues(tc.commitModeLocked()).Inc()

	if len(keys) == 1 {
		return primitives.Success(keys[0], versions[keys[0]]), nil
	}
	return primitives.Outcome{Kind: primitives.OutcomeSuccess}, nil
}

// Rollback discards buffered writes, releases all held locks, and
// transitions to RolledBack. Rolling back a finished context is a no-op
// that reports ErrFinished; locks are never released twice.
func (tc *Context) Rollback() error {
	return tc.rollback("explicit")
}

func (tc *Context) rollback(cause string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.status != StatusActive {
		return ErrFinished
	}

	tc.finishLocked(StatusRolledBack)
	metrics.RollbacksTotal.WithLabelValues(cause).Inc()
	return nil
}

// finishLocked performs the terminal transition. It runs under tc.mu and
// is the single place locks are released, which is what guarantees
// release-on-all-paths without double release.
func (tc *Context) finishLocked(status Status) {
	tc.status = status
	tc.ended = time.Now()
	tc.locks.ReleaseAll(tc.id)
	metrics.ActiveTransactions.Dec()
}

// commitModeLocked classifies how the transaction read its keys, for the
// commit counter label.
func (tc *Context) commitModeLocked() string {
	var optimistic, pessimistic bool
	for _, entry := range tc.reads {
		if entry.mode == ReadOptimistic {
			optimistic = true
		} else {
			pessimistic = true
		}
	}
	switch {
	case optimistic && pessimistic:
		return "mixed"
	case pessimistic:
		return "pessimistic"
	default:
		return "optimistic"
	}
}

// AppliedVersions returns the version assigned to each written key by a
// successful commit; nil before commit or after a rollback.
func (tc *Context) AppliedVersions() map[primitives.Key]primitives.Version {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.applied
}

// Age returns how long the transaction has existed (up to its end, once
// finished).
func (tc *Context) Age() time.Duration {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	end := tc.ended
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(tc.started)
}

// String returns a one-line summary for logs.
func (tc *Context) String() string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return fmt.Sprintf("%s [status=%s reads=%d writes=%d]",
		tc.id.Short(), tc.status, len(tc.reads), len(tc.writes))
}
