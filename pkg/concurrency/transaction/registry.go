package transaction

import (
	"fmt"
	"sync"
	"time"

	"verlock/pkg/concurrency/lock"
	"verlock/pkg/logging"
	"verlock/pkg/metrics"
	"verlock/pkg/primitives"
	"verlock/pkg/storage/record"
)

// Registry tracks every live transaction context. It is the single place
// holder identities map back to contexts, which makes it the natural
// home for abandoned-transaction recovery: an external liveness signal
// (or the age-based sweep) names a holder, and the registry rolls its
// context back, releasing all its locks.
type Registry struct {
	mu       sync.RWMutex
	contexts map[primitives.TxID]*Context

	store       *record.Store
	locks       *lock.Manager
	lockTimeout time.Duration
}

// NewRegistry creates a registry whose transactions run against the
// given store and lock manager. lockTimeout is the default pessimistic
// wait budget handed to each context.
func NewRegistry(store *record.Store, locks *lock.Manager, lockTimeout time.Duration) *Registry {
	return &Registry{
		contexts:    make(map[primitives.TxID]*Context),
		store:       store,
		locks:       locks,
		lockTimeout: lockTimeout,
	}
}

// Begin creates a new Active context and registers it.
func (r *Registry) Begin() *Context {
	ctx := newContext(r.store, r.locks, r.lockTimeout)

	r.mu.Lock()
	r.contexts[ctx.id] = ctx
	r.mu.Unlock()

	metrics.ActiveTransactions.Inc()
	return ctx
}

// Get retrieves a context by transaction identity.
func (r *Registry) Get(id primitives.TxID) (*Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctx, ok := r.contexts[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", id.Short())
	}
	return ctx, nil
}

// Remove forgets a finished context. Callers remove contexts after
// commit or rollback; the sweeper removes what they forget.
func (r *Registry) Remove(id primitives.TxID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, id)
}

// ActiveCount returns the number of registered contexts still Active.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, ctx := range r.contexts {
		if ctx.IsActive() {
			n++
		}
	}
	return n
}

// EvictHolder force-rolls-back the named holder's transaction, releasing
// every lock it holds. This is the hook for an external liveness signal
// reporting a dead process. An identity with no registered context still
// gets its locks released, since the holder may have come from a
// previous incarnation of this process.
func (r *Registry) EvictHolder(id primitives.TxID) {
	r.mu.RLock()
	ctx, ok := r.contexts[id]
	r.mu.RUnlock()

	if ok {
		if err := ctx.rollback("evicted"); err == nil {
			logging.WithTx(id).Warn("transaction evicted")
		}
		r.Remove(id)
		return
	}

	// No context, but the lock table may still know the holder.
	r.locks.ReleaseAll(id)
}

// Sweep rolls back every Active transaction older than maxAge and drops
// finished contexts from the registry. Returns how many were evicted.
func (r *Registry) Sweep(maxAge time.Duration) int {
	r.mu.RLock()
	stale := make([]*Context, 0)
	finished := make([]primitives.TxID, 0)
	for id, ctx := range r.contexts {
		switch {
		case !ctx.IsActive():
			finished = append(finished, id)
		case ctx.Age() > maxAge:
			stale = append(stale, ctx)
		}
	}
	r.mu.RUnlock()

	for _, id := range finished {
		r.Remove(id)
	}

	evicted := 0
	for _, ctx := range stale {
		if err := ctx.rollback("evicted"); err == nil {
			logging.WithTx(ctx.id).Warn("abandoned transaction swept", "age", ctx.Age())
			evicted++
		}
		r.Remove(ctx.id)
	}
	return evicted
}
