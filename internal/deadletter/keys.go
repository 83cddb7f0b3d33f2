package deadletter

import "encoding/binary"

var (
	metaKey     = []byte("tq/dlq/m")
	entryPrefix = []byte("tq/dlq/e/")
)

// EntryKey builds the dead-letter record key with a big-endian sequence.
func EntryKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(append([]byte(nil), entryPrefix...), b[:]...)
}

// EntryRange returns the [low, high) bounds covering all entries.
func EntryRange() (lo, hi []byte) {
	lo = append([]byte(nil), entryPrefix...)
	hi = append(EntryKey(^uint64(0)), 0x00)
	return lo, hi
}

// SeqFromEntryKey extracts the sequence from an entry key.
func SeqFromEntryKey(k []byte) uint64 {
	if len(k) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k[len(k)-8:])
}
