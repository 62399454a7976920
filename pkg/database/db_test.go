package database

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"verlock/pkg/concurrency/transaction"
	"verlock/pkg/config"
	"verlock/pkg/primitives"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.Default()
	cfg.SweepIntervalMs = 0 // tests drive eviction explicitly

	db, err := Open(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRecordRoundTrip(t *testing.T) {
	db := openTestDB(t)

	// First open sees an absent record.
	tx, payload, version, err := db.OpenRecord("acct:1")
	if err != nil {
		t.Fatalf("OpenRecord: %v", err)
	}
	if payload != nil || version != primitives.NoVersion {
		t.Fatalf("absent record read as %q v%d", payload, version)
	}

	tx.Write("acct:1", []byte("100"))
	out, err := db.Commit(tx)
	if err != nil || !out.OK() {
		t.Fatalf("commit: %v %s", err, out)
	}

	// Second open sees the committed state.
	tx2, payload, version, err := db.OpenRecord("acct:1")
	if err != nil {
		t.Fatalf("OpenRecord: %v", err)
	}
	defer db.Rollback(tx2)
	if string(payload) != "100" || version != 1 {
		t.Errorf("read %q v%d, want %q v1", payload, version, "100")
	}
}

func TestCommitForgetsTransaction(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	tx.Write("k", []byte("v"))
	if out, err := db.Commit(tx); err != nil || !out.OK() {
		t.Fatalf("commit: %v %s", err, out)
	}

	if err := db.Rollback(tx); !errors.Is(err, transaction.ErrFinished) {
		t.Errorf("rollback after commit: %v, want ErrFinished", err)
	}
}

// Update keeps retrying version conflicts until the increment lands, so
// concurrent updaters lose no writes.
func TestUpdateRetriesUnderContention(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	tx.Write("counter", []byte("0"))
	if out, err := db.Commit(tx); err != nil || !out.OK() {
		t.Fatalf("seed: %v %s", err, out)
	}

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := db.Update(context.Background(), func(tx *transaction.Context) error {
				payload, _, err := tx.Read(context.Background(), "counter", transaction.ReadOptimistic)
				if err != nil {
					return err
				}
				n, _ := strconv.Atoi(string(payload))
				return tx.Write("counter", []byte(strconv.Itoa(n+1)))
			})
			if err != nil {
				t.Errorf("Update error: %v", err)
			} else if !out.OK() {
				t.Errorf("Update gave up: %s", out)
			}
		}()
	}
	wg.Wait()

	rec, err := db.Store().Get("counter")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(rec.Payload) != strconv.Itoa(workers) {
		t.Fatalf("lost updates: counter=%q want %d", rec.Payload, workers)
	}
}

func TestUpdatePropagatesCallbackError(t *testing.T) {
	db := openTestDB(t)

	boom := errors.New("boom")
	_, err := db.Update(context.Background(), func(tx *transaction.Context) error {
		tx.Write("k", []byte("v"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error: %v, want boom", err)
	}

	// The failed attempt's write must not have landed.
	if _, err := db.Store().Get("k"); err == nil {
		t.Error("write from failed Update attempt reached the store")
	}
}

func TestUpdateStopsOnContextCancel(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	tx.Write("k", []byte("v"))
	if out, err := db.Commit(tx); err != nil || !out.OK() {
		t.Fatalf("seed: %v %s", err, out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Every attempt conflicts: read version 1, then bump the record
	// behind the transaction's back before it commits.
	_, err := db.Update(ctx, func(tx *transaction.Context) error {
		payload, _, err := tx.Read(context.Background(), "k", transaction.ReadOptimistic)
		if err != nil {
			return err
		}
		if _, err := db.Store().ForceSet("k", append(payload, '!')); err != nil {
			return err
		}
		return tx.Write("k", []byte("never"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Update error: %v, want context.Canceled", err)
	}
}

func TestEvictHolderFreesLocks(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	tx.Write("k", []byte("v"))
	if out, err := db.Commit(tx); err != nil || !out.OK() {
		t.Fatalf("seed: %v %s", err, out)
	}

	abandoned := db.Begin()
	if _, _, err := abandoned.Read(context.Background(), "k", transaction.ReadExclusive); err != nil {
		t.Fatalf("exclusive read: %v", err)
	}

	db.EvictHolder(abandoned.ID())

	if db.Locks().IsLocked("k") {
		t.Error("lock survived eviction")
	}
	if abandoned.Status() != transaction.StatusRolledBack {
		t.Errorf("evicted status %s", abandoned.Status())
	}
}

func TestSweeperEvictsAbandonedTransactions(t *testing.T) {
	cfg := config.Default()
	cfg.SweepIntervalMs = 20
	cfg.MaxTxAgeMs = 40

	db, err := Open(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx := db.Begin()
	tx.Write("k", []byte("v"))
	if out, err := db.Commit(tx); err != nil || !out.OK() {
		t.Fatalf("seed: %v %s", err, out)
	}

	abandoned := db.Begin()
	if _, _, err := abandoned.Read(context.Background(), "k", transaction.ReadExclusive); err != nil {
		t.Fatalf("exclusive read: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for db.Locks().IsLocked("k") {
		select {
		case <-deadline:
			t.Fatal("sweeper never evicted the abandoned transaction")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if abandoned.Status() != transaction.StatusRolledBack {
		t.Errorf("abandoned status %s, want ROLLED_BACK", abandoned.Status())
	}
}

func TestReopenPreservesRecords(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SweepIntervalMs = 0

	db, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tx := db.Begin()
	tx.Write("persist", []byte("me"))
	if out, err := db.Commit(tx); err != nil || !out.OK() {
		t.Fatalf("commit: %v %s", err, out)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	rec, err := db2.Store().Get("persist")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(rec.Payload) != "me" || rec.Version != 1 {
		t.Errorf("after reopen: %q v%d", rec.Payload, rec.Version)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
