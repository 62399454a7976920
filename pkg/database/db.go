package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"verlock/pkg/concurrency/lock"
	"verlock/pkg/concurrency/optimistic"
	"verlock/pkg/concurrency/transaction"
	"verlock/pkg/config"
	"verlock/pkg/logging"
	"verlock/pkg/policy"
	"verlock/pkg/primitives"
	"verlock/pkg/storage/record"
)

// DB wires the concurrency control layer together: the record store, the
// lock manager, the transaction registry, and the default conflict
// policy. It is the entry point surrounding application code talks to.
type DB struct {
	cfg      config.Config
	store    *record.Store
	locks    *lock.Manager
	guard    *optimistic.Guard
	registry *transaction.Registry
	policy   policy.Policy
	logger   *slog.Logger

	closeOnce sync.Once
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Open loads (or creates) a database rooted at dir. If the config
// enables sweeping, a background goroutine evicts abandoned transactions
// until Close.
func Open(dir string, cfg config.Config) (*DB, error) {
	store, err := record.Open(dir, record.Options{
		SyncOnCommit:  cfg.SyncOnCommit,
		CacheMaxBytes: cfg.CacheMaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	locks := lock.NewManager()
	db := &DB{
		cfg:      cfg,
		store:    store,
		locks:    locks,
		guard:    optimistic.NewGuard(store),
		registry: transaction.NewRegistry(store, locks, cfg.LockTimeout()),
		policy:   policy.FromConfig(cfg),
		logger:   logging.WithOp("database"),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	if cfg.SweepInterval() > 0 {
		go db.sweepLoop()
	} else {
		close(db.sweepDone)
	}

	db.logger.Info("database open", "dir", dir, "records", store.Len())
	return db, nil
}

// Begin starts a new transaction.
func (db *DB) Begin() *transaction.Context {
	return db.registry.Begin()
}

// OpenRecord begins a transaction and optimistically reads key in one
// step, returning the context together with the payload and version
// observed. The version is what Commit will validate against.
func (db *DB) OpenRecord(key primitives.Key) (*transaction.Context, []byte, primitives.Version, error) {
	tx := db.Begin()
	payload, version, err := tx.Read(context.Background(), key, transaction.ReadOptimistic)
	if err != nil {
		db.Rollback(tx)
		return nil, nil, primitives.NoVersion, err
	}
	return tx, payload, version, nil
}

// Commit finishes the transaction and forgets it. The outcome carries
// either the committed version or the conflict that aborted it.
func (db *DB) Commit(tx *transaction.Context) (primitives.Outcome, error) {
	out, err := tx.Commit()
	db.registry.Remove(tx.ID())
	return out, err
}

// Rollback abandons the transaction and forgets it. Rolling back an
// already-finished transaction reports transaction.ErrFinished.
func (db *DB) Rollback(tx *transaction.Context) error {
	err := tx.Rollback()
	db.registry.Remove(tx.ID())
	return err
}

// Update runs fn inside a fresh transaction and commits, consulting the
// conflict policy on VersionMismatch and retrying with a new transaction
// after the advised delay. fn must do all its reads through the passed
// context so each attempt observes fresh versions. Lock conflicts are
// never retried here; they come back to the caller as-is.
func (db *DB) Update(ctx context.Context, fn func(tx *transaction.Context) error) (primitives.Outcome, error) {
	for attempt := 1; ; attempt++ {
		tx := db.Begin()
		if err := fn(tx); err != nil {
			db.Rollback(tx)
			return primitives.Outcome{}, err
		}

		out, err := db.Commit(tx)
		if err != nil || out.OK() {
			return out, err
		}

		decision := db.policy.Decide(out, attempt)
		if !decision.Retry {
			return out, nil
		}

		db.logger.Debug("retrying after conflict",
			"attempt", attempt, "delay", decision.Delay, "conflict", out.String())

		select {
		case <-time.After(decision.Delay):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// EvictHolder releases everything held by the named transaction
// identity. Hook for external liveness signals reporting a dead holder.
func (db *DB) EvictHolder(id primitives.TxID) {
	db.registry.EvictHolder(id)
}

// Store exposes the underlying record store for direct (non-transactional)
// reads.
func (db *DB) Store() *record.Store {
	return db.store
}

// Guard exposes the optimistic version guard for callers that drive the
// read/validate cycle themselves.
func (db *DB) Guard() *optimistic.Guard {
	return db.guard
}

// Locks exposes the lock manager. Most callers should go through
// transactions instead.
func (db *DB) Locks() *lock.Manager {
	return db.locks
}

// Close stops the sweeper and releases the store. Active transactions
// are not waited for; their buffered writes are simply never applied.
func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		close(db.sweepStop)
		<-db.sweepDone
		err = db.store.Close()
		db.logger.Info("database closed")
	})
	return err
}

func (db *DB) sweepLoop() {
	defer close(db.sweepDone)

	ticker := time.NewTicker(db.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := db.registry.Sweep(db.cfg.MaxTxAge()); n > 0 {
				db.logger.Warn("swept abandoned transactions", "count", n)
			}
		case <-db.sweepStop:
			return
		}
	}
}
