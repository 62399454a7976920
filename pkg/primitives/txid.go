package primitives

import (
	"strings"

	"github.com/google/uuid"
)

// TxID identifies a transaction (and therefore a lock holder). It is a
// value type and comparable, so it can be used directly as a map key.
type TxID struct {
	id uuid.UUID
}

// NewTxID generates a fresh random transaction identity.
func NewTxID() TxID {
	return TxID{id: uuid.New()}
}

// TxIDFromString parses a previously serialized TxID, with or without
// the "tx-" prefix String adds. Used when a holder identity crosses a
// process boundary (e.g. an external liveness signal naming the holder
// to evict).
func TxIDFromString(s string) (TxID, error) {
	id, err := uuid.Parse(strings.TrimPrefix(s, "tx-"))
	if err != nil {
		return TxID{}, err
	}
	return TxID{id: id}, nil
}

// IsZero reports whether the TxID is the zero value, i.e. no holder.
func (t TxID) IsZero() bool {
	return t.id == uuid.Nil
}

func (t TxID) String() string {
	return "tx-" + t.id.String()
}

// Short returns an abbreviated form for log output.
func (t TxID) Short() string {
	return "tx-" + t.id.String()[:8]
}
