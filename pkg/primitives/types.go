package primitives

// Key identifies a record in the store. Keys are plain strings so callers
// can use whatever naming scheme they like ("acct:1", "user/42", ...);
// the store orders them lexicographically.
type Key string

// Version is a per-key monotonically increasing stamp. Every successful
// write to a key bumps it by one; it never decreases and never repeats
// for the same key.
type Version uint64

const (
	// NoVersion is the expected version for a key that does not exist yet.
	// A compare-and-set against NoVersion creates the record.
	NoVersion Version = 0

	// FirstVersion is the version assigned to a record on creation.
	FirstVersion Version = 1
)

func (k Key) String() string {
	return string(k)
}
