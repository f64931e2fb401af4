// Package backoff holds the retry timing policy shared by error-driven
// reconnection and pause/resume re-subscription.
package backoff

import "time"

// Defaults for the exponential policy.
const (
	DefaultBase        = 1 * time.Second
	DefaultMax         = 30 * time.Second
	DefaultMaxAttempts = 5
)

// Policy is a capped exponential backoff: Delay(n) = min(Base * 2^n, Max).
// Delay is a pure function of the attempt index so independent schedulers
// (per-error retries, bulk resume) can share one attempt counter without
// sharing timer state.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Default returns the policy with standard settings.
func Default() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax, MaxAttempts: DefaultMaxAttempts}
}

// Delay returns the wait before the given retry attempt (0-based).
// Non-decreasing in attempt and bounded above by Max.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	max := p.Max
	if max <= 0 {
		max = DefaultMax
	}
	if attempt < 0 {
		attempt = 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d < 0 { // overflow guard
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Attempts returns the configured retry ceiling.
func (p Policy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}
