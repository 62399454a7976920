package record

import (
	"os"
	"path/filepath"
	"testing"

	"verlock/pkg/primitives"
)

func TestTornTailTruncatedOnReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, logFileName)

	s, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustCAS(t, s, "good", 0, "payload")
	s.Close()

	// Simulate a crash mid-append: garbage after the last intact frame.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.Write([]byte{0x00, 0x00, 0x01, 0xFF, 0xde, 0xad}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	s2, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("reopen with torn tail failed: %v", err)
	}
	defer s2.Close()

	rec, err := s2.Get("good")
	if err != nil {
		t.Fatalf("intact record lost: %v", err)
	}
	if string(rec.Payload) != "payload" || rec.Version != 1 {
		t.Errorf("intact record damaged: %q v%d", rec.Payload, rec.Version)
	}

	// The log must be usable again after truncation.
	out, err := s2.CompareAndSet("good", 1, []byte("after-crash"))
	if err != nil || !out.OK() {
		t.Fatalf("write after truncation failed: %v %s", err, out)
	}

	s2.Close()
	s3, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("third open failed: %v", err)
	}
	defer s3.Close()

	rec, err = s3.Get("good")
	if err != nil {
		t.Fatalf("Get after third open: %v", err)
	}
	if string(rec.Payload) != "after-crash" || rec.Version != 2 {
		t.Errorf("post-crash write lost: %q v%d", rec.Payload, rec.Version)
	}
}

func TestBatchFrameSurvivesRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, Options{SyncOnCommit: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	writes := []Write{
		{Key: "x", Payload: []byte("xx")},
		{Key: "y", Payload: nil}, // zero-length payloads are legal
		{Key: "z", Payload: []byte("zzz")},
	}
	if _, out, err := s.ApplyBatch(nil, writes); err != nil || !out.OK() {
		t.Fatalf("ApplyBatch failed: %v %s", err, out)
	}
	s.Close()

	s2, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	for _, w := range writes {
		rec, err := s2.Get(w.Key)
		if err != nil {
			t.Fatalf("Get %s: %v", w.Key, err)
		}
		if string(rec.Payload) != string(w.Payload) {
			t.Errorf("%s payload: got %q want %q", w.Key, rec.Payload, w.Payload)
		}
		if rec.Version != primitives.FirstVersion {
			t.Errorf("%s version: got %d want 1", w.Key, rec.Version)
		}
	}
}
