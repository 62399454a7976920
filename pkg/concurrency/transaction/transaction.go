package transaction

import (
	"errors"
	"fmt"

	"verlock/pkg/primitives"
)

// Status represents the lifecycle state of a transaction context.
// Active is the only state from which transitions happen; Committed and
// RolledBack are terminal and a finished context can never be reused.
type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusRolledBack
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusCommitted:
		return "COMMITTED"
	case StatusRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// ReadMode selects the concurrency strategy for a read.
type ReadMode int

const (
	// ReadOptimistic takes no lock; the observed version is recorded and
	// validated at commit.
	ReadOptimistic ReadMode = iota

	// ReadShared takes a shared lock, blocking writers but admitting
	// other shared readers. Writes to a shared-locked key are still
	// version-validated at commit.
	ReadShared

	// ReadExclusive takes an exclusive lock; the commit applies writes to
	// such keys unconditionally, since exclusivity was established at
	// read time.
	ReadExclusive
)

func (m ReadMode) String() string {
	switch m {
	case ReadOptimistic:
		return "optimistic"
	case ReadShared:
		return "shared"
	case ReadExclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// ErrFinished is returned by operations on a context that has already
// committed or rolled back. A second Rollback reports this and releases
// nothing twice.
var ErrFinished = errors.New("transaction already finished")

// ConflictError carries a conflict outcome across an error return, for
// paths (like a failed pessimistic read) where the whole operation
// fails. Use errors.As to recover the outcome.
type ConflictError struct {
	Outcome primitives.Outcome
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: %s", e.Outcome)
}
