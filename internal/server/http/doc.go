// Package httpserver exposes the agent's loopback diagnostics API: health,
// pipeline stats, dead-letter inspection and purge, and an HTTP track
// endpoint.
package httpserver
