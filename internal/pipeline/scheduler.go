package pipeline

import (
	"context"
	"math/rand"
	"time"
)

// Start launches the flush scheduler: a cancellable loop that flushes on a
// jittered periodic timer and on explicit triggers (foreground, regained
// connectivity, high-water mark). Start is idempotent.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	go func() {
		defer close(done)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			interval := p.flushInterval + time.Duration(rng.Int63n(int64(p.flushInterval/10+1)))
			select {
			case <-stop:
				return
			case <-time.After(interval):
			case <-p.wake:
			}
			p.Flush(context.Background())
		}
	}()
}

// Stop halts the scheduler and waits for any in-flight flush to finish.
// Events remaining in the queue survive in the durable store; an
// interrupted send replays on the next start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stop)
	<-p.done
}

// NotifyForeground signals a background-to-foreground transition and
// requests an early flush.
func (p *Pipeline) NotifyForeground() { p.trigger() }

// NotifyOnline signals regained connectivity and requests an early flush.
func (p *Pipeline) NotifyOnline() { p.trigger() }

// trigger coalesces wakeups: a trigger arriving while one is pending (or a
// flush is in flight) folds into the single buffered slot.
func (p *Pipeline) trigger() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
