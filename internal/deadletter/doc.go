// Package deadletter implements the bounded store for events that exhausted
// their retry budget or were permanently rejected by the collector.
//
// Layout in Pebble:
//   - tq/dlq/m            metadata: lastSeq (8B BE) | count (4B BE)
//   - tq/dlq/e/{seq_be8}  framed entries, ordered by move time
//
// The store is diagnostic-only: entries are never redelivered automatically.
// Capacity is small relative to the main queue and overflow evicts oldest
// first. A background purger bounds growth by age.
package deadletter
