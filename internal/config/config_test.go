package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreRunnable(t *testing.T) {
	cfg := Default()
	cfg.Endpoint = "http://127.0.0.1:9100/v1/events"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.MaxDeadLetterSize >= cfg.MaxQueueSize {
		t.Fatalf("DLQ capacity should be smaller than the main queue")
	}
}

func TestValidateRequiresEndpoint(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing endpoint must fail validation")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.json")
	body := `{"endpoint":"http://c.example/v1/events","maxQueueSize":42,"flushIntervalMs":1000}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != "http://c.example/v1/events" || cfg.MaxQueueSize != 42 || cfg.FlushIntervalMs != 1000 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	// untouched keys keep defaults
	if cfg.MaxRetries != Default().MaxRetries {
		t.Fatalf("defaults clobbered: %+v", cfg)
	}
}

func TestFromEnvOverlay(t *testing.T) {
	t.Setenv("BEACON_ENDPOINT", "http://env.example/v1/events")
	t.Setenv("BEACON_MAX_RETRIES", "3")
	t.Setenv("BEACON_BATCH_MAX_COUNT", "not-a-number")
	cfg := Default()
	FromEnv(&cfg)
	if cfg.Endpoint != "http://env.example/v1/events" {
		t.Fatalf("endpoint overlay missing")
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("maxRetries overlay missing: %d", cfg.MaxRetries)
	}
	if cfg.BatchMaxCount != Default().BatchMaxCount {
		t.Fatalf("invalid env value must be ignored")
	}
}

func TestEffectiveHighWaterMark(t *testing.T) {
	cfg := Default()
	cfg.MaxQueueSize = 100
	if got := cfg.EffectiveHighWaterMark(); got != 80 {
		t.Fatalf("derived hwm: want 80, got %d", got)
	}
	cfg.HighWaterMark = 10
	if got := cfg.EffectiveHighWaterMark(); got != 10 {
		t.Fatalf("explicit hwm: want 10, got %d", got)
	}
}
