// Package pebblestore wraps a Pebble database for beacon's durable stores.
//
// The wrapper fixes the fsync policy at open time and exposes batch commit,
// point reads/writes, and raw iterators. Both the pending-event queue and
// the dead-letter queue share a single Pebble instance and carve the
// keyspace with prefixes (see internal/queue and internal/deadletter).
//
// OpenRecover implements the unreadable-store fail-safe: a store that
// cannot be opened is moved aside and replaced with an empty one so the
// host application never crashes on telemetry state.
package pebblestore
