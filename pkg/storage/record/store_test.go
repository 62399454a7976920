package record

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"verlock/pkg/primitives"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompareAndSetCreatesAtFirstVersion(t *testing.T) {
	s := openTestStore(t)

	out, err := s.CompareAndSet("acct:1", primitives.NoVersion, []byte("100"))
	if err != nil {
		t.Fatalf("CompareAndSet failed: %v", err)
	}
	if !out.OK() {
		t.Fatalf("expected success, got %s", out)
	}
	if out.NewVersion != primitives.FirstVersion {
		t.Errorf("expected version %d, got %d", primitives.FirstVersion, out.NewVersion)
	}

	rec, err := s.Get("acct:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(rec.Payload, []byte("100")) {
		t.Errorf("payload mismatch: %q", rec.Payload)
	}
	if rec.Version != 1 {
		t.Errorf("expected version 1, got %d", rec.Version)
	}
}

func TestCompareAndSetMismatchLeavesRecordUntouched(t *testing.T) {
	s := openTestStore(t)

	mustCAS(t, s, "k", 0, "v1")

	out, err := s.CompareAndSet("k", 0, []byte("v2"))
	if err != nil {
		t.Fatalf("CompareAndSet failed: %v", err)
	}
	if out.Kind != primitives.OutcomeVersionMismatch {
		t.Fatalf("expected VersionMismatch, got %s", out)
	}
	if out.Expected != 0 || out.Actual != 1 {
		t.Errorf("expected (expected=0, actual=1), got (%d, %d)", out.Expected, out.Actual)
	}

	rec, _ := s.Get("k")
	if string(rec.Payload) != "v1" || rec.Version != 1 {
		t.Errorf("record mutated by failed CAS: %q v%d", rec.Payload, rec.Version)
	}
}

func TestVersionsStrictlyIncrease(t *testing.T) {
	s := openTestStore(t)

	var last primitives.Version
	for i := 0; i < 10; i++ {
		out, err := s.CompareAndSet("k", last, fmt.Appendf(nil, "v%d", i))
		if err != nil || !out.OK() {
			t.Fatalf("write %d failed: %v %s", i, err, out)
		}
		if out.NewVersion <= last {
			t.Fatalf("version did not increase: %d -> %d", last, out.NewVersion)
		}
		last = out.NewVersion
	}

	v, err := s.ForceSet("k", []byte("forced"))
	if err != nil {
		t.Fatalf("ForceSet failed: %v", err)
	}
	if v != last+1 {
		t.Errorf("ForceSet version: expected %d, got %d", last+1, v)
	}
}

// Exactly one of any set of concurrent CAS calls with the same expected
// version may win; every loser must observe the winner's version.
func TestConcurrentCompareAndSetSingleWinner(t *testing.T) {
	s := openTestStore(t)
	mustCAS(t, s, "contended", 0, "base")

	const writers = 32
	var wg sync.WaitGroup
	outcomes := make([]primitives.Outcome, writers)

	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.CompareAndSet("contended", 1, fmt.Appendf(nil, "writer-%d", i))
			if err != nil {
				t.Errorf("writer %d error: %v", i, err)
				return
			}
			outcomes[i] = out
		}()
	}
	wg.Wait()

	winners := 0
	for i, out := range outcomes {
		switch out.Kind {
		case primitives.OutcomeSuccess:
			winners++
			if out.NewVersion != 2 {
				t.Errorf("winner %d got version %d, want 2", i, out.NewVersion)
			}
		case primitives.OutcomeVersionMismatch:
			if out.Actual != 2 {
				t.Errorf("loser %d observed actual=%d, want 2", i, out.Actual)
			}
		default:
			t.Errorf("writer %d unexpected outcome %s", i, out)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}

func TestApplyBatchAllOrNothing(t *testing.T) {
	s := openTestStore(t)
	mustCAS(t, s, "a", 0, "a1")
	mustCAS(t, s, "b", 0, "b1")

	// Second check is stale: nothing must apply.
	_, out, err := s.ApplyBatch(
		[]Check{{Key: "a", Expected: 1}, {Key: "b", Expected: 99}},
		[]Write{{Key: "a", Payload: []byte("a2")}, {Key: "b", Payload: []byte("b2")}},
	)
	if err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if out.Kind != primitives.OutcomeVersionMismatch || out.Key != "b" {
		t.Fatalf("expected mismatch on b, got %s", out)
	}

	for _, key := range []primitives.Key{"a", "b"} {
		rec, _ := s.Get(key)
		if rec.Version != 1 {
			t.Errorf("%s partially applied: version %d", key, rec.Version)
		}
	}

	// With correct checks, both apply.
	versions, out, err := s.ApplyBatch(
		[]Check{{Key: "a", Expected: 1}, {Key: "b", Expected: 1}},
		[]Write{{Key: "a", Payload: []byte("a2")}, {Key: "b", Payload: []byte("b2")}},
	)
	if err != nil || !out.OK() {
		t.Fatalf("ApplyBatch failed: %v %s", err, out)
	}
	if versions["a"] != 2 || versions["b"] != 2 {
		t.Errorf("unexpected versions: %v", versions)
	}
}

func TestReopenReplaysLog(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustCAS(t, s, "k1", 0, "old")
	mustCAS(t, s, "k1", 1, "new")
	mustCAS(t, s, "k2", 0, "only")
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	rec, err := s2.Get("k1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(rec.Payload) != "new" || rec.Version != 2 {
		t.Errorf("k1 after reopen: %q v%d, want %q v2", rec.Payload, rec.Version, "new")
	}

	if got := s2.Len(); got != 2 {
		t.Errorf("expected 2 records after reopen, got %d", got)
	}

	// Versions keep increasing across restarts.
	out, err := s2.CompareAndSet("k1", 2, []byte("newer"))
	if err != nil || !out.OK() {
		t.Fatalf("CAS after reopen: %v %s", err, out)
	}
	if out.NewVersion != 3 {
		t.Errorf("expected version 3 after reopen, got %d", out.NewVersion)
	}
}

func TestKeysOrdered(t *testing.T) {
	s := openTestStore(t)
	for _, k := range []primitives.Key{"b", "c", "a"} {
		mustCAS(t, s, k, 0, "v")
	}

	keys := s.Keys()
	want := []primitives.Key{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := openTestStore(t)
	mustCAS(t, s, "k", 0, "abc")

	rec, _ := s.Get("k")
	rec.Payload[0] = 'X'

	again, _ := s.Get("k")
	if string(again.Payload) != "abc" {
		t.Errorf("caller mutation leaked into store: %q", again.Payload)
	}
}

func mustCAS(t *testing.T, s *Store, key primitives.Key, expected primitives.Version, payload string) {
	t.Helper()
	out, err := s.CompareAndSet(key, expected, []byte(payload))
	if err != nil || !out.OK() {
		t.Fatalf("CAS %s@%d failed: %v %s", key, expected, err, out)
	}
}
