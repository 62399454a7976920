// Package optimistic implements first-writer-wins version checking on
// top of the record store. Readers are never blocked; conflicts surface
// at commit time as VersionMismatch outcomes.
package optimistic

import (
	"errors"

	"verlock/pkg/metrics"
	"verlock/pkg/primitives"
	"verlock/pkg/storage/record"
)

// Guard enforces optimistic concurrency: read a version stamp now,
// prove it unchanged at commit. It holds no state of its own and takes
// no locks.
type Guard struct {
	store *record.Store
}

// NewGuard wraps a record store.
func NewGuard(store *record.Store) *Guard {
	return &Guard{store: store}
}

// BeginRead returns the current payload and version for key. A key that
// does not exist reads as (nil, NoVersion): committing against
// NoVersion creates the record, so absent keys participate in the same
// conflict protocol as present ones.
func (g *Guard) BeginRead(key primitives.Key) ([]byte, primitives.Version, error) {
	rec, err := g.store.Get(key)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, primitives.NoVersion, nil
		}
		return nil, primitives.NoVersion, err
	}
	return rec.Payload, rec.Version, nil
}

// TryCommit atomically validates that key is still at expected and
// applies payload. On VersionMismatch the caller must re-read and decide
// for itself whether to retry. The guard never retries internally,
// because silent retries would hide lost-update pressure and make
// conflict rates invisible to the caller.
func (g *Guard) TryCommit(key primitives.Key, expected primitives.Version, payload []byte) (primitives.Outcome, error) {
	out, err := g.store.CompareAndSet(key, expected, payload)
	if err != nil {
		return out, err
	}
	if out.Kind == primitives.OutcomeVersionMismatch {
		metrics.VersionConflictsTotal.Inc()
	}
	return out, nil
}
