package lock

import (
	"fmt"
	"slices"

	"verlock/pkg/primitives"
)

// waitQueue holds pending acquisitions with a two-way mapping:
//
//   - keyQueue: key -> ordered FIFO slice of pending requests. Order
//     decides who is considered first when the key frees up.
//   - waiting: reverse index, holder -> keys it is waiting on, enabling
//     whole-holder cleanup on rollback or eviction.
//
// Like table, it is guarded entirely by the Manager mutex.
type waitQueue struct {
	keyQueue map[primitives.Key][]*request
	waiting  map[primitives.TxID][]primitives.Key
}

func newWaitQueue() *waitQueue {
	return &waitQueue{
		keyQueue: make(map[primitives.Key][]*request),
		waiting:  make(map[primitives.TxID][]primitives.Key),
	}
}

// add enqueues a request at the tail of the key's FIFO queue. A holder
// may wait on at most one request per key at a time.
func (wq *waitQueue) add(req *request, key primitives.Key) error {
	if wq.contains(req.holder, key) {
		return fmt.Errorf("holder %s already waiting on %q", req.holder.Short(), key)
	}

	wq.keyQueue[key] = append(wq.keyQueue[key], req)
	wq.waiting[req.holder] = append(wq.waiting[req.holder], key)
	return nil
}

// remove drops a specific (holder, key) request from both structures.
// Called when the request is granted, times out, or is cancelled.
func (wq *waitQueue) remove(holder primitives.TxID, key primitives.Key) {
	queue := wq.keyQueue[key]
	kept := slices.DeleteFunc(slices.Clone(queue), func(r *request) bool {
		return r.holder == holder
	})
	if len(kept) > 0 {
		wq.keyQueue[key] = kept
	} else {
		delete(wq.keyQueue, key)
	}

	keys := slices.DeleteFunc(slices.Clone(wq.waiting[holder]), func(k primitives.Key) bool {
		return k == key
	})
	if len(keys) > 0 {
		wq.waiting[holder] = keys
	} else {
		delete(wq.waiting, holder)
	}
}

// removeAll drops every pending request of a holder. Rollback and
// eviction cleanup.
func (wq *waitQueue) removeAll(holder primitives.TxID) {
	for _, key := range slices.Clone(wq.waiting[holder]) {
		wq.remove(holder, key)
	}
}

// requests returns the FIFO-ordered pending requests for a key.
func (wq *waitQueue) requests(key primitives.Key) []*request {
	return slices.Clone(wq.keyQueue[key])
}

func (wq *waitQueue) contains(holder primitives.TxID, key primitives.Key) bool {
	return slices.ContainsFunc(wq.keyQueue[key], func(r *request) bool {
		return r.holder == holder
	})
}
