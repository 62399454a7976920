// Package policy decides what a caller should do after a conflict. It is
// consumed by callers (and the database façade's Update helper), never by
// the store or lock layers themselves: keeping retry judgment out of the
// core is what keeps conflict rates visible.
package policy

import (
	"math/rand"
	"time"

	"verlock/pkg/config"
	"verlock/pkg/primitives"
)

// Decision is the outcome of consulting a policy: retry after a delay,
// or give up and surface the conflict.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// GiveUp is the terminal decision.
var GiveUp = Decision{}

// Policy maps a conflict outcome and an attempt count to a decision.
// Implementations must be pure: same inputs (modulo jitter), same
// decision, no side effects.
type Policy interface {
	// Decide is consulted after a failed attempt; attempt is 1 for the
	// first failure.
	Decide(out primitives.Outcome, attempt int) Decision
}

// Backoff is the default policy: retry VersionMismatch with capped
// exponential backoff plus uniform jitter, up to MaxRetries attempts.
// Lock outcomes (LockTimeout, LockHeldByOther) are never retried
// automatically: those signal contention that needs caller-level
// judgment, e.g. surfacing to an end user.
type Backoff struct {
	MaxRetries int
	Base       time.Duration
	Jitter     time.Duration
	MaxDelay   time.Duration
}

// Default returns the stock backoff shape: 5 retries, 10ms base, 10ms
// jitter, capped at 500ms.
func Default() Backoff {
	return Backoff{
		MaxRetries: 5,
		Base:       10 * time.Millisecond,
		Jitter:     10 * time.Millisecond,
		MaxDelay:   500 * time.Millisecond,
	}
}

// FromConfig builds the backoff policy from the layer configuration.
func FromConfig(cfg config.Config) Backoff {
	return Backoff{
		MaxRetries: cfg.MaxOptimisticRetries,
		Base:       cfg.BackoffBase(),
		Jitter:     cfg.BackoffJitter(),
		MaxDelay:   500 * time.Millisecond,
	}
}

// Decide implements Policy.
func (b Backoff) Decide(out primitives.Outcome, attempt int) Decision {
	if out.Kind != primitives.OutcomeVersionMismatch {
		return GiveUp
	}
	if attempt > b.MaxRetries {
		return GiveUp
	}

	// Exponent capped so the shift cannot overflow; MaxDelay caps the
	// result anyway.
	exp := min(attempt-1, 16)
	delay := min(b.Base<<uint(exp), b.MaxDelay)
	if b.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return Decision{Retry: true, Delay: delay}
}
