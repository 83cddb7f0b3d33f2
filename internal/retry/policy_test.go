package retry

import (
	"math/rand"
	"testing"
	"time"
)

func fixedPolicy() Policy {
	return Policy{
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
	}.WithRand(rand.New(rand.NewSource(1)))
}

func TestDelayGrowsExponentially(t *testing.T) {
	p := fixedPolicy()
	for attempt := 0; attempt < 5; attempt++ {
		d := p.NextDelay(attempt)
		want := time.Second << uint(attempt)
		if d < want || d >= want+time.Second {
			t.Fatalf("attempt %d: delay %v outside [%v, %v)", attempt, d, want, want+time.Second)
		}
	}
}

func TestDelayMonotonicBelowCap(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute}
	// compare without jitter by using the floor of each delay
	prevFloor := time.Duration(0)
	for attempt := 0; attempt <= 10; attempt++ {
		d := p.WithRand(rand.New(rand.NewSource(42))).NextDelay(attempt)
		floor := d - time.Second // jitter < BaseDelay
		if floor < prevFloor {
			t.Fatalf("attempt %d: floor %v < previous %v", attempt, floor, prevFloor)
		}
		prevFloor = floor
	}
}

func TestHugeAttemptFailsSafeToMaxDelay(t *testing.T) {
	p := fixedPolicy()
	for _, attempt := range []int{63, 64, 100, 1000} {
		d := p.NextDelay(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", attempt, d)
		}
		if d > time.Minute+time.Second {
			t.Fatalf("attempt %d: delay %v exceeds max+jitter", attempt, d)
		}
		if d < time.Minute {
			t.Fatalf("attempt %d: delay %v below MaxDelay floor", attempt, d)
		}
	}
}

func TestNegativeAttemptClampsToZero(t *testing.T) {
	p := fixedPolicy()
	d := p.NextDelay(-5)
	if d < time.Second || d >= 2*time.Second {
		t.Fatalf("negative attempt: delay %v outside [1s, 2s)", d)
	}
}

func TestZeroValuePolicyUsesDefaults(t *testing.T) {
	var p Policy
	d := p.NextDelay(0)
	if d <= 0 {
		t.Fatalf("zero-value policy produced %v", d)
	}
}
