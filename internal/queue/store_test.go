package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/rzbill/beacon/internal/event"
	pebblestore "github.com/rzbill/beacon/internal/storage/pebble"
)

func openTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := Open(db, capacity)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func enqueueN(t *testing.T, s *Store, n int) []event.Event {
	t.Helper()
	ctx := context.Background()
	evs := make([]event.Event, 0, n)
	for i := 0; i < n; i++ {
		ev := event.New("tap", []byte(`{"n":1}`), int64(1000+i))
		if err := s.Enqueue(ctx, ev); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		evs = append(evs, ev)
	}
	return evs
}

func TestEnqueuePeekFIFO(t *testing.T) {
	s := openTestStore(t, 100)
	evs := enqueueN(t, s, 5)
	items := s.PeekBatch(10, 0, 2000)
	if len(items) != 5 {
		t.Fatalf("want 5 items, got %d", len(items))
	}
	for i, it := range items {
		if it.Event.ID != evs[i].ID {
			t.Fatalf("FIFO violated at %d: %v vs %v", i, it.Event.ID, evs[i].ID)
		}
	}
}

func TestPeekBatchBounds(t *testing.T) {
	s := openTestStore(t, 100)
	enqueueN(t, s, 5)
	if got := len(s.PeekBatch(2, 0, 2000)); got != 2 {
		t.Fatalf("count bound: want 2, got %d", got)
	}
	// tiny byte budget still yields the first event
	if got := len(s.PeekBatch(10, 1, 2000)); got != 1 {
		t.Fatalf("byte bound: want 1, got %d", got)
	}
}

func TestDurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	s, err := Open(db, 100)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	ev := event.New("launch", []byte(`{}`), 1000)
	if err := s.Enqueue(ctx, ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.ScheduleRetries(ctx, []RetryUpdate{{Seq: 1, Attempt: 2, NextEligibleAtMs: 5000}}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	s2, err := Open(db2, 100)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if s2.Size() != 1 {
		t.Fatalf("size after reopen: want 1, got %d", s2.Size())
	}
	// attempt count survives the restart
	attempt, next, ok := s2.RetryState(1)
	if !ok || attempt != 2 || next != 5000 {
		t.Fatalf("retry state after reopen: %d %d %v", attempt, next, ok)
	}
	// not yet eligible
	if got := len(s2.PeekBatch(10, 0, 4999)); got != 0 {
		t.Fatalf("ineligible event peeked: %d", got)
	}
	items := s2.PeekBatch(10, 0, 5000)
	if len(items) != 1 || items[0].Event.ID != ev.ID || items[0].Event.Attempt != 2 {
		t.Fatalf("eligible peek after reopen: %+v", items)
	}
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	s := openTestStore(t, 3)
	evs := enqueueN(t, s, 3)
	ctx := context.Background()
	newest := event.New("tap", []byte(`{}`), 2000)
	err := s.Enqueue(ctx, newest)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	if s.Size() != 3 {
		t.Fatalf("size after eviction: want 3, got %d", s.Size())
	}
	items := s.PeekBatch(10, 0, 3000)
	if len(items) != 3 {
		t.Fatalf("want 3 items, got %d", len(items))
	}
	if items[0].Event.ID != evs[1].ID {
		t.Fatalf("oldest was not evicted")
	}
	if items[2].Event.ID != newest.ID {
		t.Fatalf("newest missing after eviction")
	}
}

func TestCapacityNeverEvictsInflight(t *testing.T) {
	s := openTestStore(t, 2)
	evs := enqueueN(t, s, 2)
	s.MarkInflight([]uint64{1, 2})
	ctx := context.Background()
	err := s.Enqueue(ctx, event.New("tap", []byte(`{}`), 2000))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	// both in-flight events survive; the newcomer was dropped
	s.ReleaseInflight([]uint64{1, 2})
	items := s.PeekBatch(10, 0, 3000)
	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d", len(items))
	}
	for i := range items {
		if items[i].Event.ID != evs[i].ID {
			t.Fatalf("in-flight event evicted at %d", i)
		}
	}
}

func TestRemoveDeletesEventAndRetryRecord(t *testing.T) {
	s := openTestStore(t, 10)
	enqueueN(t, s, 2)
	ctx := context.Background()
	if err := s.ScheduleRetries(ctx, []RetryUpdate{{Seq: 1, Attempt: 1, NextEligibleAtMs: 0}}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Remove(ctx, []uint64{1}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Size() != 1 {
		t.Fatalf("size: want 1, got %d", s.Size())
	}
	if _, _, ok := s.RetryState(1); ok {
		t.Fatalf("retry record leaked after remove")
	}
	// removing an already-removed seq is a no-op
	if err := s.Remove(ctx, []uint64{1}); err != nil {
		t.Fatalf("idempotent remove: %v", err)
	}
	if s.Size() != 1 {
		t.Fatalf("size drifted on duplicate remove: %d", s.Size())
	}
}
