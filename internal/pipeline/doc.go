// Package pipeline orchestrates the telemetry delivery pipeline: the
// durable queue, dead-letter store, circuit breaker, retry policy, and
// transport, driven by a serialized flush scheduler.
//
// Producers call Track, which is fire-and-forget: it filters, assigns an
// ID, and durably enqueues, never raising into the host application.
// Flushes run one at a time; triggers arriving mid-flush coalesce into a
// single pending wakeup. Delivery is at-least-once: an event leaves the
// system only via a collector ack or the dead-letter store (capacity
// eviction aside).
package pipeline
