package lock

import (
	"verlock/pkg/primitives"
)

// table tracks granted locks with a dual index: key -> locks held on it,
// and holder -> mode per key. It has no locking of its own; the Manager
// mutex guards every call.
type table struct {
	keyLocks    map[primitives.Key][]*Lock
	holderLocks map[primitives.TxID]map[primitives.Key]Mode
}

func newTable() *table {
	return &table{
		keyLocks:    make(map[primitives.Key][]*Lock),
		holderLocks: make(map[primitives.TxID]map[primitives.Key]Mode),
	}
}

// hasSufficient reports whether holder already holds a lock on key that
// satisfies the requested mode: exclusive satisfies everything, shared
// satisfies shared.
func (t *table) hasSufficient(holder primitives.TxID, key primitives.Key, want Mode) bool {
	held, ok := t.holderLocks[holder][key]
	if !ok {
		return false
	}
	return held == Exclusive || want == Shared
}

// hasMode reports whether holder holds exactly the given mode on key.
func (t *table) hasMode(holder primitives.TxID, key primitives.Key, mode Mode) bool {
	held, ok := t.holderLocks[holder][key]
	return ok && held == mode
}

// canGrant reports whether a lock in the given mode can be granted to
// holder right now. Exclusive requires no other holder on the key;
// shared requires no other exclusive holder.
func (t *table) canGrant(holder primitives.TxID, key primitives.Key, mode Mode) bool {
	for _, l := range t.keyLocks[key] {
		if l.Holder == holder {
			continue
		}
		if mode == Exclusive || l.Mode == Exclusive {
			return false
		}
	}
	return true
}

// canUpgrade reports whether holder's shared lock on key can become
// exclusive: holder must own a shared lock and be the key's only holder.
func (t *table) canUpgrade(holder primitives.TxID, key primitives.Key) bool {
	if !t.hasMode(holder, key, Shared) {
		return false
	}
	for _, l := range t.keyLocks[key] {
		if l.Holder != holder {
			return false
		}
	}
	return true
}

// grant records a new lock. Callers have already established it is safe.
func (t *table) grant(holder primitives.TxID, key primitives.Key, mode Mode) {
	t.keyLocks[key] = append(t.keyLocks[key], newLock(holder, mode))
	if t.holderLocks[holder] == nil {
		t.holderLocks[holder] = make(map[primitives.Key]Mode)
	}
	t.holderLocks[holder][key] = mode
}

// upgrade flips holder's shared lock on key to exclusive.
func (t *table) upgrade(holder primitives.TxID, key primitives.Key) {
	for _, l := range t.keyLocks[key] {
		if l.Holder == holder {
			l.Mode = Exclusive
			break
		}
	}
	t.holderLocks[holder][key] = Exclusive
}

// release removes holder's lock on key, reporting whether a lock was
// actually held.
func (t *table) release(holder primitives.TxID, key primitives.Key) bool {
	if _, ok := t.holderLocks[holder][key]; !ok {
		return false
	}

	t.dropFromKey(holder, key)
	delete(t.holderLocks[holder], key)
	if len(t.holderLocks[holder]) == 0 {
		delete(t.holderLocks, holder)
	}
	return true
}

// releaseAll removes every lock held by holder and returns the affected
// keys so the manager can wake their wait queues.
func (t *table) releaseAll(holder primitives.TxID) []primitives.Key {
	held, ok := t.holderLocks[holder]
	if !ok {
		return nil
	}

	keys := make([]primitives.Key, 0, len(held))
	for key := range held {
		keys = append(keys, key)
		t.dropFromKey(holder, key)
	}
	delete(t.holderLocks, holder)
	return keys
}

func (t *table) dropFromKey(holder primitives.TxID, key primitives.Key) {
	locks := t.keyLocks[key]
	kept := make([]*Lock, 0, len(locks))
	for _, l := range locks {
		if l.Holder != holder {
			kept = append(kept, l)
		}
	}
	if len(kept) > 0 {
		t.keyLocks[key] = kept
	} else {
		delete(t.keyLocks, key)
	}
}

// locked reports whether any lock is held on key.
func (t *table) locked(key primitives.Key) bool {
	return len(t.keyLocks[key]) > 0
}

// someOtherHolder returns a holder on key other than the given one,
// preferring an exclusive holder. Used to populate LockHeldByOther.
func (t *table) someOtherHolder(holder primitives.TxID, key primitives.Key) primitives.TxID {
	var other primitives.TxID
	for _, l := range t.keyLocks[key] {
		if l.Holder == holder {
			continue
		}
		if l.Mode == Exclusive {
			return l.Holder
		}
		other = l.Holder
	}
	return other
}

// heldKeys returns the keys holder currently has locked.
func (t *table) heldKeys(holder primitives.TxID) []primitives.Key {
	held := t.holderLocks[holder]
	keys := make([]primitives.Key, 0, len(held))
	for key := range held {
		keys = append(keys, key)
	}
	return keys
}
