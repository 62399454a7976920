// Package database assembles the concurrency control layer into a single
// embeddable engine.
//
// A caller opens a [DB], begins a transaction, reads records in
// optimistic or pessimistic mode, buffers writes, and commits:
//
//	db, err := database.Open(dir, config.Default())
//	...
//	tx, payload, version, err := db.OpenRecord("acct:1")
//	...mutate payload...
//	tx.Write("acct:1", payload)
//	out, err := db.Commit(tx)
//	if !out.OK() {
//	    // out describes the conflict; consult pkg/policy or give up
//	}
//
// [DB.Update] packages that loop together with the configured conflict
// policy, retrying version conflicts with backoff and jitter.
//
// There is no wire protocol and no ambient global transaction: every
// operation takes the transaction context explicitly.
package database
