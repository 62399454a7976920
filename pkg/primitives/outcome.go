package primitives

import (
	"fmt"
	"time"
)

// OutcomeKind discriminates the variants of an Outcome.
type OutcomeKind int

const (
	// OutcomeSuccess means the operation applied; for writes NewVersion
	// carries the version stamp that was assigned.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeVersionMismatch means an optimistic check failed: the record
	// moved from Expected to Actual since it was read. Recoverable by
	// re-reading and retrying.
	OutcomeVersionMismatch

	// OutcomeLockTimeout means a pessimistic acquire waited the full
	// timeout without the lock becoming free.
	OutcomeLockTimeout

	// OutcomeLockHeldByOther means the lock is held by another transaction
	// and the caller asked not to wait (zero timeout), or a release was
	// attempted by a non-holder.
	OutcomeLockHeldByOther

	// OutcomeCancelled means the caller's context was cancelled while
	// waiting for a lock. No lock was granted.
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeVersionMismatch:
		return "VERSION_MISMATCH"
	case OutcomeLockTimeout:
		return "LOCK_TIMEOUT"
	case OutcomeLockHeldByOther:
		return "LOCK_HELD_BY_OTHER"
	case OutcomeCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the typed result of a conflict-prone operation. Conflicts
// are ordinary values here, not errors: the caller owns the decision of
// whether to retry, back off, or surface the conflict (see pkg/policy).
// Only the fields relevant to Kind are populated.
type Outcome struct {
	Kind OutcomeKind
	Key  Key

	// Success
	NewVersion Version

	// VersionMismatch
	Expected Version
	Actual   Version

	// LockTimeout
	Waited time.Duration

	// LockHeldByOther
	Holder TxID
}

// Success builds a successful outcome carrying the newly assigned version.
func Success(key Key, newVersion Version) Outcome {
	return Outcome{Kind: OutcomeSuccess, Key: key, NewVersion: newVersion}
}

// VersionMismatch builds the optimistic-conflict outcome.
func VersionMismatch(key Key, expected, actual Version) Outcome {
	return Outcome{Kind: OutcomeVersionMismatch, Key: key, Expected: expected, Actual: actual}
}

// LockTimeout builds the outcome for an acquire that waited out its budget.
func LockTimeout(key Key, waited time.Duration) Outcome {
	return Outcome{Kind: OutcomeLockTimeout, Key: key, Waited: waited}
}

// LockHeldByOther builds the contention outcome naming the current holder.
func LockHeldByOther(key Key, holder TxID) Outcome {
	return Outcome{Kind: OutcomeLockHeldByOther, Key: key, Holder: holder}
}

// Cancelled builds the outcome for a lock wait aborted by context cancellation.
func Cancelled(key Key) Outcome {
	return Outcome{Kind: OutcomeCancelled, Key: key}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return fmt.Sprintf("%s(key=%s, version=%d)", o.Kind, o.Key, o.NewVersion)
	case OutcomeVersionMismatch:
		return fmt.Sprintf("%s(key=%s, expected=%d, actual=%d)", o.Kind, o.Key, o.Expected, o.Actual)
	case OutcomeLockTimeout:
		return fmt.Sprintf("%s(key=%s, waited=%v)", o.Kind, o.Key, o.Waited)
	case OutcomeLockHeldByOther:
		return fmt.Sprintf("%s(key=%s, holder=%s)", o.Kind, o.Key, o.Holder.Short())
	case OutcomeCancelled:
		return fmt.Sprintf("%s(key=%s)", o.Kind, o.Key)
	default:
		return o.Kind.String()
	}
}
