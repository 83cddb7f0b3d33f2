package breaker

import (
	"testing"
	"time"

	pebblestore "github.com/rzbill/beacon/internal/storage/pebble"
)

func newTestBreaker(t *testing.T) *Breaker {
	t.Helper()
	b, err := New(nil, Options{
		FailureThreshold: 3,
		OpenDuration:     10 * time.Second,
		MaxOpenDuration:  40 * time.Second,
	})
	if err != nil {
		t.Fatalf("new breaker: %v", err)
	}
	return b
}

func TestTripsAfterThreshold(t *testing.T) {
	b := newTestBreaker(t)
	now := int64(1000)
	for i := 0; i < 2; i++ {
		b.OnFailure(now)
		if b.State() != Closed {
			t.Fatalf("tripped early after %d failures", i+1)
		}
	}
	b.OnFailure(now)
	if b.State() != Open {
		t.Fatalf("want OPEN after 3 failures, got %v", b.State())
	}
	if b.Allow(now+1) != Deny {
		t.Fatalf("open breaker must deny")
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b := newTestBreaker(t)
	b.OnFailure(0)
	b.OnFailure(0)
	b.OnSuccess(0)
	b.OnFailure(0)
	b.OnFailure(0)
	if b.State() != Closed {
		t.Fatalf("streak not reset by success")
	}
	if b.ConsecutiveFailures() != 2 {
		t.Fatalf("want streak 2, got %d", b.ConsecutiveFailures())
	}
}

func TestHalfOpenSingleProbe(t *testing.T) {
	b := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.OnFailure(0)
	}
	if v := b.Allow(9_999); v != Deny {
		t.Fatalf("window not elapsed, want Deny, got %v", v)
	}
	if v := b.Allow(10_000); v != AllowProbe {
		t.Fatalf("want AllowProbe after window, got %v", v)
	}
	// probe in flight: no second probe
	if v := b.Allow(10_001); v != Deny {
		t.Fatalf("second probe admitted while one in flight")
	}
}

func TestProbeFailureDoublesWindowUpToCap(t *testing.T) {
	b := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.OnFailure(0)
	}
	now := int64(10_000)
	for _, wantMs := range []int64{20_000, 40_000, 40_000} {
		if v := b.Allow(now); v != AllowProbe {
			t.Fatalf("want probe at %d, got %v", now, v)
		}
		b.OnFailure(now)
		if b.State() != Open {
			t.Fatalf("failed probe must reopen")
		}
		// one ms before the doubled window elapses: still denied
		if v := b.Allow(now + wantMs - 1); v != Deny {
			t.Fatalf("window %dms not honored", wantMs)
		}
		now += wantMs
	}
}

func TestAbandonedProbeFreesSlot(t *testing.T) {
	b := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.OnFailure(0)
	}
	if v := b.Allow(10_000); v != AllowProbe {
		t.Fatalf("want probe")
	}
	// the flush had nothing to send: no outcome will ever arrive
	b.OnProbeAbandoned()
	if v := b.Allow(10_001); v != AllowProbe {
		t.Fatalf("abandoned probe must free the slot, got %v", v)
	}
	b.OnSuccess(10_002)
	if b.State() != Closed {
		t.Fatalf("want CLOSED after reissued probe succeeds, got %v", b.State())
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	b := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.OnFailure(0)
	}
	if v := b.Allow(10_000); v != AllowProbe {
		t.Fatalf("want probe")
	}
	b.OnSuccess(10_001)
	if b.State() != Closed {
		t.Fatalf("probe success must close the circuit")
	}
	if b.Allow(10_002) != Allow {
		t.Fatalf("closed breaker must allow")
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	opts := Options{FailureThreshold: 3, OpenDuration: 10 * time.Second, MaxOpenDuration: 40 * time.Second}
	b, err := New(db, opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 3; i++ {
		b.OnFailure(5_000)
	}
	// "restart": rebuild from the same db
	b2, err := New(db, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if b2.State() != Open {
		t.Fatalf("open state lost across restart: %v", b2.State())
	}
	if v := b2.Allow(5_001); v != Deny {
		t.Fatalf("restarted breaker must still deny inside window")
	}
	if v := b2.Allow(15_000); v != AllowProbe {
		t.Fatalf("restarted breaker must probe after window")
	}
}
