// Package logging provides a process-wide structured logger for verlock.
//
// The package wraps [log/slog] and exposes a single global logger that is
// initialized once and then retrieved via GetLogger. All subsystems obtain
// their logger through this package rather than constructing their own
// slog.Logger values, so that log level and output destination are
// controlled from a single place.
//
// Call Init (or InitDefault) once at program startup:
//
//	if err := logging.Init(logging.Config{Level: logging.LevelDebug}); err != nil {
//	    log.Fatal(err)
//	}
//
// If GetLogger is called before Init, a default stderr logger is created
// lazily so that packages that log during init are safe.
//
// Context helpers return child loggers pre-populated with structured
// fields, reducing repetition in hot paths:
//
//	log := logging.WithTx(txID)        // adds tx_id field
//	log := logging.WithKey(key)        // adds key field
//	log := logging.WithTxKey(txID, k)  // adds both
package logging
