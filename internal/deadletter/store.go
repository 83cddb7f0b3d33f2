package deadletter

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/rzbill/beacon/internal/event"
	pebblestore "github.com/rzbill/beacon/internal/storage/pebble"
)

// Reason records why an event was dead-lettered.
type Reason string

const (
	ReasonMaxRetries Reason = "MAX_RETRIES_EXCEEDED"
	ReasonPermanent  Reason = "PERMANENT_REJECTION"
)

// Entry is one dead-lettered event with its disposition.
type Entry struct {
	Event     event.Event `json:"event"`
	Reason    Reason      `json:"reason"`
	MovedAtMs int64       `json:"movedAt"`
}

// entryHeader is the durable metadata half of a dead-letter record; the
// payload travels in the frame body.
type entryHeader struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	CreatedAtMs int64     `json:"createdAt"`
	Attempt     int       `json:"attempt"`
	Reason      Reason    `json:"reason"`
	MovedAtMs   int64     `json:"movedAt"`
}

// Store is the bounded dead-letter store.
type Store struct {
	db       *pebblestore.DB
	capacity int

	mu      sync.Mutex
	lastSeq uint64
	count   int

	purgeStop chan struct{}
}

// Open initializes the store and restores metadata, rebuilding it by scan
// when absent.
func Open(db *pebblestore.DB, capacity int) (*Store, error) {
	if capacity <= 0 {
		return nil, errors.New("deadletter: capacity must be positive")
	}
	s := &Store{db: db, capacity: capacity}
	meta, err := db.Get(metaKey)
	switch {
	case err == nil && len(meta) >= 12:
		s.lastSeq = binary.BigEndian.Uint64(meta[0:8])
		s.count = int(binary.BigEndian.Uint32(meta[8:12]))
	case errors.Is(err, pebblestore.ErrNotFound) || err == nil:
		lo, hi := EntryRange()
		iter, iterErr := db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
		if iterErr != nil {
			return nil, iterErr
		}
		for ok := iter.First(); ok; ok = iter.Next() {
			s.count++
			s.lastSeq = SeqFromEntryKey(iter.Key())
		}
		_ = iter.Close()
	default:
		return nil, err
	}
	return s, nil
}

func (s *Store) putMeta(b *pebble.Batch, lastSeq uint64, count int) error {
	var m [12]byte
	binary.BigEndian.PutUint64(m[0:8], lastSeq)
	binary.BigEndian.PutUint32(m[8:12], uint32(count))
	return b.Set(metaKey, m[:], nil)
}

// Add appends entries, evicting oldest entries beyond capacity. The whole
// operation is one atomic batch.
func (s *Store) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	lastSeq := s.lastSeq
	count := s.count
	for _, e := range entries {
		h, err := json.Marshal(entryHeader{
			ID:          e.Event.ID,
			Type:        e.Event.Type,
			CreatedAtMs: e.Event.CreatedAtMs,
			Attempt:     e.Event.Attempt,
			Reason:      e.Reason,
			MovedAtMs:   e.MovedAtMs,
		})
		if err != nil {
			return err
		}
		lastSeq++
		if err := b.Set(EntryKey(lastSeq), event.Frame(h, e.Event.Payload), nil); err != nil {
			return err
		}
		count++
	}

	// oldest-first eviction beyond capacity: committed entries first
	if count > s.capacity {
		lo, hi := EntryRange()
		iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
		if err == nil {
			for ok := iter.First(); ok && count > s.capacity; ok = iter.Next() {
				if err := b.Delete(iter.Key(), nil); err != nil {
					_ = iter.Close()
					return err
				}
				count--
			}
			_ = iter.Close()
		}
	}
	// still over: the surplus is staged in this very batch, invisible to the
	// iterator. Delete the oldest staged sequences; a delete after a set on
	// the same key within one batch wins.
	for seq := s.lastSeq + 1; count > s.capacity && seq <= lastSeq; seq++ {
		if err := b.Delete(EntryKey(seq), nil); err != nil {
			return err
		}
		count--
	}

	if err := s.putMeta(b, lastSeq, count); err != nil {
		return err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	s.lastSeq = lastSeq
	s.count = count
	return nil
}

// List returns up to limit entries, oldest first.
func (s *Store) List(limit int) []Entry {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := EntryRange()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil
	}
	defer iter.Close()

	out := make([]Entry, 0, limit)
	for ok := iter.First(); ok && len(out) < limit; ok = iter.Next() {
		if e, okDec := decodeEntry(iter.Value()); okDec {
			out = append(out, e)
		}
	}
	return out
}

func decodeEntry(rec []byte) (Entry, bool) {
	h, payload, ok := event.Unframe(rec)
	if !ok {
		return Entry{}, false
	}
	var hdr entryHeader
	if err := json.Unmarshal(h, &hdr); err != nil {
		return Entry{}, false
	}
	return Entry{
		Event: event.Event{
			ID:          hdr.ID,
			Type:        hdr.Type,
			Payload:     payload,
			CreatedAtMs: hdr.CreatedAtMs,
			Attempt:     hdr.Attempt,
		},
		Reason:    hdr.Reason,
		MovedAtMs: hdr.MovedAtMs,
	}, true
}

// PurgeOlderThan deletes entries moved before cutoffMs, committing in
// bounded batches. Returns the number of deleted entries.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoffMs int64, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := EntryRange()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		b := s.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			e, okDec := decodeEntry(iter.Value())
			if okDec && e.MovedAtMs >= cutoffMs {
				// entries are ordered by move time; nothing newer purges
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			deleted++
			n++
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			break
		}
		count := s.count - n
		if count < 0 {
			count = 0
		}
		if err := s.putMeta(b, s.lastSeq, count); err != nil {
			b.Close()
			return deleted, err
		}
		if err := s.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		s.count = count
	}
	return deleted, nil
}

// Depth returns the number of resident entries.
func (s *Store) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// StartPurger runs a background loop purging entries older than maxAge on a
// jittered interval.
func (s *Store) StartPurger(interval, maxAge time.Duration) {
	if s.purgeStop != nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	s.purgeStop = make(chan struct{})
	stop := s.purgeStop
	go func() {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-stop:
				return
			case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
				cutoff := time.Now().Add(-maxAge).UnixMilli()
				_, _ = s.PurgeOlderThan(context.Background(), cutoff, 1024)
			}
		}
	}()
}

// StopPurger stops the background purger.
func (s *Store) StopPurger() {
	if s.purgeStop != nil {
		close(s.purgeStop)
		s.purgeStop = nil
	}
}
