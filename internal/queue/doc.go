// Package queue implements the durable, ordered, bounded store for pending
// telemetry events.
//
// Layout in Pebble (lexicographically sortable):
//   - tq/q/m            queue metadata: lastSeq (8B BE) | count (4B BE)
//   - tq/q/e/{seq_be8}  framed event records, FIFO by sequence
//   - tq/q/r/{seq_be8}  retry record: attempt (4B BE) | nextEligibleAt ms (8B BE)
//
// Every mutation commits data and metadata in one atomic batch, so the
// counters survive crashes without a repair pass. Retry records persist
// attempt counts across restarts; a crash-looping process cannot reset its
// own backoff.
//
// Capacity overflow evicts the oldest event that is not currently in flight
// and reports ErrQueueFull to the caller. Telemetry loss on overflow is
// accepted by design; the error exists so producers can count drops.
package queue
