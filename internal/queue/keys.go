package queue

import "encoding/binary"

// Keyspace helpers. The "tq/" prefix keeps pipeline state apart from any
// other keyspace sharing the Pebble instance.

var (
	metaKey     = []byte("tq/q/m")
	entryPrefix = []byte("tq/q/e/")
	retryPrefix = []byte("tq/q/r/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// EntryKey builds the event record key with a big-endian sequence so keys
// sort in enqueue order.
func EntryKey(seq uint64) []byte {
	return appendBE8(append([]byte(nil), entryPrefix...), seq)
}

// RetryKey builds the retry record key for a sequence.
func RetryKey(seq uint64) []byte {
	return appendBE8(append([]byte(nil), retryPrefix...), seq)
}

// EntryRange returns the [low, high) bounds covering all event records.
func EntryRange() (lo, hi []byte) {
	lo = append([]byte(nil), entryPrefix...)
	hi = append(EntryKey(^uint64(0)), 0x00)
	return lo, hi
}

// SeqFromEntryKey extracts the sequence from an event record key.
func SeqFromEntryKey(k []byte) uint64 {
	if len(k) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k[len(k)-8:])
}
