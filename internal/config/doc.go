// Package config loads pipeline configuration from defaults, an optional
// JSON file, and BEACON_* environment variable overlays (applied in that
// order).
package config
