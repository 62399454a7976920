package record

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/tidwall/btree"

	"verlock/pkg/logging"
	"verlock/pkg/metrics"
	"verlock/pkg/primitives"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("record not found")

// Record is a point-in-time copy of a stored record. The payload is the
// caller's to keep; mutating it does not affect the store.
type Record struct {
	Key     primitives.Key
	Payload []byte
	Version primitives.Version
}

// Check is an expected-version assertion evaluated by ApplyBatch before
// anything is written.
type Check struct {
	Key      primitives.Key
	Expected primitives.Version
}

// Write is one pending mutation applied by ApplyBatch. The version is
// assigned by the store at apply time.
type Write struct {
	Key     primitives.Key
	Payload []byte
}

// meta is the in-memory index entry for a key: its current version and
// where the current payload lives in the log.
type meta struct {
	version primitives.Version
	loc     payloadLoc
}

// Options configures a Store.
type Options struct {
	// SyncOnCommit fsyncs the record log on every applied batch.
	SyncOnCommit bool
	// CacheMaxBytes bounds the payload read cache. Zero selects a default.
	CacheMaxBytes int64
}

const (
	logFileName          = "records.log"
	defaultCacheMaxBytes = 64 << 20
)

// Store is the durable, versioned record store. The full key index lives
// in memory (key -> version + log location); payload bytes live in the
// append-only log and are fetched through the read cache.
//
// Every mutation funnels through applyLocked under one mutex, which is
// what makes CompareAndSet linearizable and a batch apply atomic with
// respect to concurrent readers.
type Store struct {
	mu     sync.RWMutex
	index  btree.Map[string, meta]
	wal    *Log
	cache  *payloadCache
	dir    string
	logger *slog.Logger
}

// Open loads (or creates) a store rooted at dir, replaying the record
// log to rebuild the index.
func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	cacheMax := opts.CacheMaxBytes
	if cacheMax <= 0 {
		cacheMax = defaultCacheMaxBytes
	}
	cache, err := newPayloadCache(cacheMax)
	if err != nil {
		return nil, err
	}

	wal, err := OpenLog(filepath.Join(dir, logFileName), opts.SyncOnCommit)
	if err != nil {
		cache.close()
		return nil, err
	}

	s := &Store{
		wal:    wal,
		cache:  cache,
		dir:    dir,
		logger: logging.WithOp("record-store"),
	}

	err = wal.Replay(func(key primitives.Key, version primitives.Version, loc payloadLoc) {
		// Later frames win; versions in the log are strictly increasing
		// per key, so the last occurrence is the current state.
		s.index.Set(string(key), meta{version: version, loc: loc})
	})
	if err != nil {
		wal.Close()
		cache.close()
		return nil, err
	}

	metrics.RecordsTotal.Set(float64(s.index.Len()))
	s.logger.Info("store opened", "dir", dir, "records", s.index.Len())
	return s, nil
}

// Get returns the current payload and version for key, or ErrNotFound.
// Side-effect free with respect to store state.
func (s *Store) Get(key primitives.Key) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.index.Get(string(key))
	if !ok {
		return Record{}, fmt.Errorf("get %q: %w", key, ErrNotFound)
	}

	payload, err := s.payloadLocked(key, m)
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Payload: payload, Version: m.version}, nil
}

// payloadLocked fetches a payload through the cache. Callers hold at
// least the read lock.
func (s *Store) payloadLocked(key primitives.Key, m meta) ([]byte, error) {
	if cached, ok := s.cache.get(key, m.version); ok {
		return slices.Clone(cached), nil
	}

	payload, err := s.wal.ReadPayload(m.loc)
	if err != nil {
		return nil, fmt.Errorf("load payload for %q: %w", key, err)
	}
	s.cache.put(key, m.version, payload)
	return slices.Clone(payload), nil
}

// CompareAndSet atomically checks that key is at expected and, if so,
// stores payload under the next version. On mismatch nothing changes and
// the outcome reports the actual current version. Expected NoVersion (0)
// on an absent key creates the record at FirstVersion.
//
// The error return is for storage failures only; conflicts come back as
// the outcome.
func (s *Store) CompareAndSet(key primitives.Key, expected primitives.Version, payload []byte) (primitives.Outcome, error) {
	versions, out, err := s.ApplyBatch(
		[]Check{{Key: key, Expected: expected}},
		[]Write{{Key: key, Payload: payload}},
	)
	if err != nil || !out.OK() {
		return out, err
	}
	return primitives.Success(key, versions[key]), nil
}

// ForceSet stores payload unconditionally, still incrementing the
// version. Reserved for callers that hold external exclusivity (the
// pessimistic commit path).
func (s *Store) ForceSet(key primitives.Key, payload []byte) (primitives.Version, error) {
	versions, _, err := s.ApplyBatch(nil, []Write{{Key: key, Payload: payload}})
	if err != nil {
		return primitives.NoVersion, err
	}
	return versions[key], nil
}

// ApplyBatch validates every check and, only if all pass, applies every
// write, all under a single mutex hold and a single log frame. Readers
// therefore see either none or all of the batch, and a crash mid-append
// replays to the pre-batch state.
//
// On success the returned map carries the version assigned to each
// written key. On a failed check the first offending key (in input
// order) is reported and nothing is written.
func (s *Store) ApplyBatch(checks []Check, writes []Write) (map[primitives.Key]primitives.Version, primitives.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range checks {
		actual := primitives.NoVersion
		if m, ok := s.index.Get(string(c.Key)); ok {
			actual = m.version
		}
		if actual != c.Expected {
			return nil, primitives.VersionMismatch(c.Key, c.Expected, actual), nil
		}
	}

	logWrites := make([]logWrite, len(writes))
	versions := make(map[primitives.Key]primitives.Version, len(writes))
	created := 0
	for i, w := range writes {
		current := primitives.NoVersion
		if v, dup := versions[w.Key]; dup {
			// Same key twice in one batch: chain off the version the
			// earlier write will receive.
			current = v
		} else if m, ok := s.index.Get(string(w.Key)); ok {
			current = m.version
		} else {
			created++
		}
		next := current + 1
		logWrites[i] = logWrite{key: w.Key, version: next, payload: w.Payload}
		versions[w.Key] = next
	}

	locs, err := s.wal.Append(logWrites)
	if err != nil {
		return nil, primitives.Outcome{}, err
	}

	for i, lw := range logWrites {
		s.index.Set(string(lw.key), meta{version: lw.version, loc: locs[i]})
		s.cache.put(lw.key, lw.version, slices.Clone(lw.payload))
	}

	if created > 0 {
		metrics.RecordsTotal.Add(float64(created))
	}
	return versions, primitives.Outcome{Kind: primitives.OutcomeSuccess}, nil
}

// Len returns the number of records in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// Keys returns all record keys in lexicographic order.
func (s *Store) Keys() []primitives.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]primitives.Key, 0, s.index.Len())
	s.index.Scan(func(k string, _ meta) bool {
		keys = append(keys, primitives.Key(k))
		return true
	})
	return keys
}

// Close releases the log file and cache. The store must not be used
// afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.close()
	return s.wal.Close()
}
