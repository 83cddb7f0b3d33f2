// Package agentrun wires the durable store, pipeline, and diagnostics
// server into the long-running beacon agent process.
package agentrun
