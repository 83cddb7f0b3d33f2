// Package breaker implements the endpoint-health circuit breaker.
//
// The state machine is CLOSED -> OPEN -> HALF_OPEN. While OPEN, sends are
// short-circuited without network I/O. After the open window elapses a
// single probe batch is admitted; its outcome either closes the circuit or
// re-opens it with a doubled window (capped). State persists in the store
// so a restart cannot silently reset a tripped breaker.
package breaker

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	pebblestore "github.com/rzbill/beacon/internal/storage/pebble"
)

// State is the circuit position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Verdict is the gate decision for one flush attempt.
type Verdict int

const (
	// Deny short-circuits the flush with no network I/O.
	Deny Verdict = iota
	// Allow admits a normal batch (circuit closed).
	Allow
	// AllowProbe admits the single half-open probe batch.
	AllowProbe
)

var stateKey = []byte("tq/meta/circuit")

// Options configures thresholds and windows.
type Options struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// circuit.
	FailureThreshold int
	// OpenDuration is the initial open window.
	OpenDuration time.Duration
	// MaxOpenDuration caps the doubling of the open window.
	MaxOpenDuration time.Duration
}

// Breaker tracks endpoint health. All methods are safe for concurrent use,
// though in practice only the single flush goroutine drives it.
type Breaker struct {
	db   *pebblestore.DB
	opts Options

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAtMs          int64
	openForMs           int64
	probing             bool
}

// New builds a breaker, restoring persisted state when present. db may be
// nil for a memory-only breaker (tests).
func New(db *pebblestore.DB, opts Options) (*Breaker, error) {
	if opts.FailureThreshold <= 0 {
		return nil, errors.New("breaker: FailureThreshold must be positive")
	}
	if opts.OpenDuration <= 0 {
		return nil, errors.New("breaker: OpenDuration must be positive")
	}
	if opts.MaxOpenDuration < opts.OpenDuration {
		opts.MaxOpenDuration = opts.OpenDuration
	}
	b := &Breaker{db: db, opts: opts, openForMs: opts.OpenDuration.Milliseconds()}
	if db != nil {
		if v, err := db.Get(stateKey); err == nil && len(v) >= 21 {
			b.state = State(v[0])
			b.consecutiveFailures = int(binary.BigEndian.Uint32(v[1:5]))
			b.openedAtMs = int64(binary.BigEndian.Uint64(v[5:13]))
			b.openForMs = int64(binary.BigEndian.Uint64(v[13:21]))
			// a restart aborts any probe that was in flight
			if b.state == HalfOpen {
				b.state = Open
			}
		}
	}
	return b, nil
}

// Allow evaluates the gate for a flush attempt at nowMs.
func (b *Breaker) Allow(nowMs int64) Verdict {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return Allow
	case Open:
		if nowMs-b.openedAtMs < b.openForMs {
			return Deny
		}
		b.state = HalfOpen
		b.probing = true
		b.persist()
		return AllowProbe
	case HalfOpen:
		if b.probing {
			return Deny
		}
		b.probing = true
		return AllowProbe
	default:
		return Deny
	}
}

// OnSuccess records a successful send. In CLOSED it resets the failure
// counter; in HALF_OPEN it closes the circuit and resets the open window.
func (b *Breaker) OnSuccess(nowMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.probing = false
	if b.state != Closed {
		b.state = Closed
		b.openForMs = b.opts.OpenDuration.Milliseconds()
	}
	b.persist()
}

// OnFailure records a retryable send failure. Permanent rejections are a
// payload problem, not an endpoint-health problem, and must not be reported
// here.
func (b *Breaker) OnFailure(nowMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.opts.FailureThreshold {
			b.state = Open
			b.openedAtMs = nowMs
			b.openForMs = b.opts.OpenDuration.Milliseconds()
		}
	case HalfOpen:
		// failed probe: reopen with a doubled window
		b.state = Open
		b.openedAtMs = nowMs
		b.openForMs *= 2
		if capMs := b.opts.MaxOpenDuration.Milliseconds(); b.openForMs > capMs {
			b.openForMs = capMs
		}
		b.probing = false
	case Open:
		// synthetic failures while open keep the window as is
	}
	b.persist()
}

// OnProbeAbandoned releases the probe slot when an admitted probe turned
// out to have nothing to send. The circuit stays HALF_OPEN with no window
// doubling; the next flush attempt gets the probe instead.
func (b *Breaker) OnProbeAbandoned() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen && b.probing {
		b.probing = false
		b.persist()
	}
}

// State returns the current circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// persist writes the state record. Callers hold b.mu.
func (b *Breaker) persist() {
	if b.db == nil {
		return
	}
	var v [21]byte
	v[0] = byte(b.state)
	binary.BigEndian.PutUint32(v[1:5], uint32(b.consecutiveFailures))
	binary.BigEndian.PutUint64(v[5:13], uint64(b.openedAtMs))
	binary.BigEndian.PutUint64(v[13:21], uint64(b.openForMs))
	_ = b.db.Set(stateKey, v[:])
}
