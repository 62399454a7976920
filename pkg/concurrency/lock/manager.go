package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"verlock/pkg/logging"
	"verlock/pkg/metrics"
	"verlock/pkg/primitives"
)

// Manager serializes access to record keys for pessimistic transactions.
// It coordinates the lock table (granted locks) and the wait queue
// (pending requests); both are only ever touched while the Manager mutex
// is held, and the critical section covers only the grant/release
// decision; callers never execute their own logic under it.
type Manager struct {
	mu    sync.Mutex
	table *table
	queue *waitQueue
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		table: newTable(),
		queue: newWaitQueue(),
	}
}

// Acquire obtains a lock on key for holder, waiting up to timeout for it
// to become free.
//
// Outcomes:
//   - Success: the lock is granted (immediately re-entrant if holder
//     already has a sufficient lock, upgraded in place for S→X when
//     holder is the sole holder).
//   - LockHeldByOther: timeout was zero (no-wait probe) and another
//     transaction holds the key.
//   - LockTimeout: the wait budget elapsed; Waited carries the measured
//     wait.
//   - Cancelled: ctx was cancelled while waiting. No lock is held on
//     return.
//
// A holder must not issue concurrent Acquire calls for the same key from
// multiple goroutines.
func (m *Manager) Acquire(ctx context.Context, key primitives.Key, holder primitives.TxID, mode Mode, timeout time.Duration) primitives.Outcome {
	start := time.Now()

	m.mu.Lock()
	if m.table.hasSufficient(holder, key, mode) {
		m.mu.Unlock()
		return primitives.Success(key, primitives.NoVersion)
	}

	if mode == Exclusive && m.table.canUpgrade(holder, key) {
		m.table.upgrade(holder, key)
		m.mu.Unlock()
		return primitives.Success(key, primitives.NoVersion)
	}

	if m.table.canGrant(holder, key, mode) {
		m.table.grant(holder, key, mode)
		m.mu.Unlock()
		metrics.LockWaitSeconds.Observe(0)
		return primitives.Success(key, primitives.NoVersion)
	}

	other := m.table.someOtherHolder(holder, key)
	if timeout <= 0 {
		m.mu.Unlock()
		return primitives.LockHeldByOther(key, other)
	}

	req := newRequest(holder, mode)
	if err := m.queue.add(req, key); err != nil {
		m.mu.Unlock()
		logging.WithTxKey(holder, key).Warn("rejected duplicate lock wait", "error", err)
		return primitives.LockHeldByOther(key, other)
	}
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-req.grant:
		waited := time.Since(start)
		metrics.LockWaitSeconds.Observe(waited.Seconds())
		return primitives.Success(key, primitives.NoVersion)

	case <-timer.C:
		m.mu.Lock()
		// The grant may have landed between the timer firing and us
		// reacquiring the mutex; grants happen under the mutex, so this
		// check is race-free.
		select {
		case <-req.grant:
			m.mu.Unlock()
			waited := time.Since(start)
			metrics.LockWaitSeconds.Observe(waited.Seconds())
			return primitives.Success(key, primitives.NoVersion)
		default:
		}
		m.queue.remove(holder, key)
		m.mu.Unlock()

		metrics.LockTimeoutsTotal.Inc()
		return primitives.LockTimeout(key, time.Since(start))

	case <-ctx.Done():
		m.mu.Lock()
		select {
		case <-req.grant:
			// Granted while we were being cancelled; hand it back so the
			// caller really holds nothing.
			m.table.release(holder, key)
			m.processQueueLocked(key)
		default:
			m.queue.remove(holder, key)
		}
		m.mu.Unlock()
		return primitives.Cancelled(key)
	}
}

// Release gives up holder's lock on key. Releasing a key the caller does
// not hold returns ErrNotHolder (wrapped with the actual holder when
// there is one) and leaves the real lock untouched.
func (m *Manager) Release(key primitives.Key, holder primitives.TxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.table.release(holder, key) {
		if actual := m.table.someOtherHolder(holder, key); !actual.IsZero() {
			return fmt.Errorf("release %q: %w (held by %s)", key, ErrNotHolder, actual.Short())
		}
		return fmt.Errorf("release %q: %w (key not locked)", key, ErrNotHolder)
	}

	m.processQueueLocked(key)
	return nil
}

// ReleaseAll gives up every lock held by holder and abandons its pending
// waits. This is the commit/rollback/eviction path and must succeed for
// any holder, including one that holds nothing.
func (m *Manager) ReleaseAll(holder primitives.TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.table.releaseAll(holder)
	m.queue.removeAll(holder)

	for _, key := range keys {
		m.processQueueLocked(key)
	}
}

// processQueueLocked walks a key's FIFO queue after a release and grants
// every request that is now compatible, signaling the waiters. Grant
// happens before the signal, so a waiter that sees its channel fire
// already owns the lock.
func (m *Manager) processQueueLocked(key primitives.Key) {
	for _, req := range m.queue.requests(key) {
		if !m.table.canGrant(req.holder, key, req.mode) {
			continue
		}

		if req.mode == Exclusive && m.table.hasMode(req.holder, key, Shared) {
			m.table.upgrade(req.holder, key)
		} else {
			m.table.grant(req.holder, key, req.mode)
		}
		m.queue.remove(req.holder, key)

		select {
		case req.grant <- struct{}{}:
		default:
			// Waiter is timing out or cancelling; it re-checks the
			// channel under the mutex and either keeps or undoes the
			// grant.
		}
	}
}

// IsLocked reports whether any lock is held on key.
func (m *Manager) IsLocked(key primitives.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.locked(key)
}

// HeldMode returns the mode holder has on key, if any.
func (m *Manager) HeldMode(holder primitives.TxID, key primitives.Key) (Mode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, ok := m.table.holderLocks[holder][key]
	return held, ok
}

// HeldKeys returns the keys holder currently has locked.
func (m *Manager) HeldKeys(holder primitives.TxID) []primitives.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.heldKeys(holder)
}
