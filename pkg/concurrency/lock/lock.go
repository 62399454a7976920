package lock

import (
	"errors"
	"time"

	"verlock/pkg/primitives"
)

// Mode is the lock mode requested by a holder.
type Mode int

const (
	// Shared locks are compatible with other shared locks; they block and
	// are blocked by exclusive locks. Used for pessimistic reads that
	// tolerate concurrent readers.
	Shared Mode = iota

	// Exclusive locks are incompatible with every other lock on the key.
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// ErrNotHolder is reported when a release names a lock the caller does
// not own. Releasing someone else's lock is a programming error and must
// not be silent, and must never disturb the actual holder.
var ErrNotHolder = errors.New("lock not held by caller")

// Lock records a granted lock on a key.
type Lock struct {
	Holder    primitives.TxID
	Mode      Mode
	GrantedAt time.Time
}

func newLock(holder primitives.TxID, mode Mode) *Lock {
	return &Lock{Holder: holder, Mode: mode, GrantedAt: time.Now()}
}

// request is a pending acquisition waiting in a key's FIFO queue. The
// grant channel is buffered so the granting goroutine never blocks on a
// waiter that has already given up.
type request struct {
	holder primitives.TxID
	mode   Mode
	grant  chan struct{}
}

func newRequest(holder primitives.TxID, mode Mode) *request {
	return &request{holder: holder, mode: mode, grant: make(chan struct{}, 1)}
}
