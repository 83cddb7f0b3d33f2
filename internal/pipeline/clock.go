package pipeline

import "time"

// Clock abstracts wall time in milliseconds so backoff and breaker windows
// are testable with a fake.
type Clock interface {
	NowMs() int64
}

type systemClock struct{}

func (systemClock) NowMs() int64 { return time.Now().UnixMilli() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
