package logging

import (
	"log/slog"

	"verlock/pkg/primitives"
)

// WithTx creates a logger with transaction context.
// Use this to automatically include the transaction ID in all logs.
//
// Example:
//
//	log := logging.WithTx(tx.ID())
//	log.Info("commit starting", "writes", n)
func WithTx(id primitives.TxID) *slog.Logger {
	return GetLogger().With("tx_id", id.Short())
}

// WithKey creates a logger with record-key context.
//
// Example:
//
//	log := logging.WithKey(key)
//	log.Debug("lock granted", "mode", mode)
func WithKey(key primitives.Key) *slog.Logger {
	return GetLogger().With("key", string(key))
}

// WithTxKey creates a logger with both transaction and key context.
func WithTxKey(id primitives.TxID, key primitives.Key) *slog.Logger {
	return GetLogger().With("tx_id", id.Short(), "key", string(key))
}

// WithOp creates a logger with operation context. Useful for store and
// lock-table internals.
func WithOp(op string) *slog.Logger {
	return GetLogger().With("op", op)
}
