// Package retry computes backoff delays for failed send attempts.
package retry

import (
	"math/rand"
	"time"
)

// Policy is an exponential backoff with full jitter on top:
//
//	delay(attempt) = min(MaxDelay, BaseDelay * 2^clamp(attempt, 0, CapExp)) + jitter[0, BaseDelay)
//
// The attempt exponent is clamped before shifting so arbitrarily large
// attempt counts (crash loops, clock weirdness) fail safe to MaxDelay
// instead of overflowing to zero or negative durations.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// CapExp bounds the exponent; 0 means the default of 16.
	CapExp int

	// rng is injectable for deterministic tests; nil uses the package
	// default source.
	rng *rand.Rand
}

// WithRand returns a copy of the policy using the provided source for
// jitter.
func (p Policy) WithRand(rng *rand.Rand) Policy {
	p.rng = rng
	return p
}

// NextDelay returns the delay before the next attempt. attempt is the number
// of failed attempts so far (>= 0). The result is always positive and never
// exceeds MaxDelay + BaseDelay.
func (p Policy) NextDelay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	capExp := p.CapExp
	if capExp <= 0 {
		capExp = 16
	}

	if attempt < 0 {
		attempt = 0
	}
	if attempt > capExp {
		attempt = capExp
	}

	delay := base << uint(attempt)
	// shift overflow or anything past the ceiling fails safe to MaxDelay
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}
	return delay + p.jitter(base)
}

func (p Policy) jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if p.rng != nil {
		return time.Duration(p.rng.Int63n(int64(base)))
	}
	return time.Duration(rand.Int63n(int64(base)))
}
