package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/beacon/internal/event"
	pebblestore "github.com/rzbill/beacon/internal/storage/pebble"
)

// ErrQueueFull reports that enqueueing forced an eviction or a drop. It is
// non-fatal; callers log it and move on.
var ErrQueueFull = errors.New("queue full")

// Store is the persistent event store. All mutations are atomic Pebble
// batches; Enqueue is safe for concurrent producers.
type Store struct {
	db       *pebblestore.DB
	capacity int

	mu       sync.Mutex
	lastSeq  uint64
	count    int
	inflight map[uint64]struct{}
}

// Item is a queued event together with its queue position and retry state.
type Item struct {
	Seq              uint64
	Event            event.Event
	NextEligibleAtMs int64
}

// RetryUpdate reschedules one event after a retryable failure.
type RetryUpdate struct {
	Seq              uint64
	Attempt          int
	NextEligibleAtMs int64
}

// Open initializes the store and restores lastSeq/count from metadata.
// When metadata is missing (first run or recovered store) it rebuilds both
// by scanning the entry range.
func Open(db *pebblestore.DB, capacity int) (*Store, error) {
	if capacity <= 0 {
		return nil, errors.New("queue: capacity must be positive")
	}
	s := &Store{db: db, capacity: capacity, inflight: make(map[uint64]struct{})}
	meta, err := db.Get(metaKey)
	switch {
	case err == nil && len(meta) >= 12:
		s.lastSeq = binary.BigEndian.Uint64(meta[0:8])
		s.count = int(binary.BigEndian.Uint32(meta[8:12]))
	case errors.Is(err, pebblestore.ErrNotFound) || err == nil:
		if err := s.rebuildMeta(); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildMeta() error {
	lo, hi := EntryRange()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		s.count++
		s.lastSeq = SeqFromEntryKey(iter.Key())
	}
	return nil
}

func (s *Store) putMeta(b *pebble.Batch, lastSeq uint64, count int) error {
	var m [12]byte
	binary.BigEndian.PutUint64(m[0:8], lastSeq)
	binary.BigEndian.PutUint32(m[8:12], uint32(count))
	return b.Set(metaKey, m[:], nil)
}

// Enqueue durably appends an event. On overflow it evicts the oldest
// non-in-flight event to make room (or drops the new event when everything
// resident is in flight) and returns ErrQueueFull.
func (s *Store) Enqueue(ctx context.Context, ev event.Event) error {
	rec, err := event.Encode(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	evicted := false
	count := s.count
	if count >= s.capacity {
		victim, ok := s.oldestEvictable()
		if !ok {
			// every resident event is mid-send; drop the newcomer
			return ErrQueueFull
		}
		if err := b.Delete(EntryKey(victim), nil); err != nil {
			return err
		}
		if err := b.Delete(RetryKey(victim), nil); err != nil {
			return err
		}
		count--
		evicted = true
	}

	seq := s.lastSeq + 1
	if err := b.Set(EntryKey(seq), rec, nil); err != nil {
		return err
	}
	count++
	if err := s.putMeta(b, seq, count); err != nil {
		return err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	s.lastSeq = seq
	s.count = count
	if evicted {
		return ErrQueueFull
	}
	return nil
}

// oldestEvictable scans from the head for the first sequence not in flight.
func (s *Store) oldestEvictable() (uint64, bool) {
	lo, hi := EntryRange()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, false
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		seq := SeqFromEntryKey(iter.Key())
		if _, busy := s.inflight[seq]; !busy {
			return seq, true
		}
	}
	return 0, false
}

// PeekBatch returns up to maxCount events from the head of the queue whose
// retry schedule makes them eligible at nowMs, bounded by maxBytes of
// payload+header size. The first eligible event is always included so a
// single oversized event cannot wedge the queue. FIFO order is preserved.
func (s *Store) PeekBatch(maxCount, maxBytes int, nowMs int64) []Item {
	if maxCount <= 0 {
		maxCount = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := EntryRange()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil
	}
	defer iter.Close()

	items := make([]Item, 0, maxCount)
	bytes := 0
	for ok := iter.First(); ok && len(items) < maxCount; ok = iter.Next() {
		seq := SeqFromEntryKey(iter.Key())
		if _, busy := s.inflight[seq]; busy {
			continue
		}
		attempt, nextMs, _ := s.retryState(seq)
		if nextMs > nowMs {
			continue
		}
		ev, okDec := event.Decode(iter.Value())
		if !okDec {
			continue
		}
		sz := len(iter.Value())
		if maxBytes > 0 && len(items) > 0 && bytes+sz > maxBytes {
			break
		}
		ev.Attempt = attempt
		items = append(items, Item{Seq: seq, Event: ev, NextEligibleAtMs: nextMs})
		bytes += sz
	}
	return items
}

// MarkInflight shields the sequences from capacity eviction while a send is
// in progress. In-flight marks live in process memory only: after a crash
// nothing is marked and every resident event replays.
func (s *Store) MarkInflight(seqs []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range seqs {
		s.inflight[seq] = struct{}{}
	}
}

// ReleaseInflight clears in-flight marks after a send completes.
func (s *Store) ReleaseInflight(seqs []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range seqs {
		delete(s.inflight, seq)
	}
}

// Remove deletes acknowledged (or dead-lettered) events and their retry
// records in one atomic batch.
func (s *Store) Remove(ctx context.Context, seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	removed := 0
	for _, seq := range seqs {
		if _, err := s.db.Get(EntryKey(seq)); err != nil {
			continue
		}
		if err := b.Delete(EntryKey(seq), nil); err != nil {
			return err
		}
		if err := b.Delete(RetryKey(seq), nil); err != nil {
			return err
		}
		removed++
	}
	if removed == 0 {
		return nil
	}
	count := s.count - removed
	if count < 0 {
		count = 0
	}
	if err := s.putMeta(b, s.lastSeq, count); err != nil {
		return err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	s.count = count
	for _, seq := range seqs {
		delete(s.inflight, seq)
	}
	return nil
}

// ScheduleRetries persists new attempt counts and eligibility times after a
// retryable failure. Events stay in the queue.
func (s *Store) ScheduleRetries(ctx context.Context, updates []RetryUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	for _, u := range updates {
		var v [12]byte
		binary.BigEndian.PutUint32(v[0:4], uint32(u.Attempt))
		binary.BigEndian.PutUint64(v[4:12], uint64(u.NextEligibleAtMs))
		if err := b.Set(RetryKey(u.Seq), v[:], nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

// RetryState reads the persisted attempt count and eligibility time.
func (s *Store) RetryState(seq uint64) (attempt int, nextEligibleAtMs int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryState(seq)
}

func (s *Store) retryState(seq uint64) (int, int64, bool) {
	v, err := s.db.Get(RetryKey(seq))
	if err != nil || len(v) < 12 {
		return 0, 0, false
	}
	return int(binary.BigEndian.Uint32(v[0:4])), int64(binary.BigEndian.Uint64(v[4:12])), true
}

// Size returns the number of resident events.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
