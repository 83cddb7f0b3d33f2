package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Config is the top-level pipeline configuration.
type Config struct {
	// Endpoint is the collector URL batches are posted to.
	Endpoint string `json:"endpoint"`
	// DataDir holds the durable queue state. Empty uses the OS default.
	DataDir string `json:"dataDir"`

	MaxQueueSize      int `json:"maxQueueSize"`
	MaxDeadLetterSize int `json:"maxDeadLetterSize"`
	BatchMaxCount     int `json:"batchMaxCount"`
	BatchMaxBytes     int `json:"batchMaxBytes"`

	BaseRetryDelayMs int `json:"baseRetryDelayMs"`
	MaxRetryDelayMs  int `json:"maxRetryDelayMs"`
	MaxRetries       int `json:"maxRetries"`

	BreakerFailureThreshold int `json:"breakerFailureThreshold"`
	BreakerOpenDurationMs   int `json:"breakerOpenDurationMs"`

	FlushIntervalMs int `json:"flushIntervalMs"`
	SendTimeoutMs   int `json:"sendTimeoutMs"`

	// HighWaterMark triggers an early flush when queue depth crosses it.
	// Zero derives 80% of MaxQueueSize.
	HighWaterMark int `json:"highWaterMark"`

	// FilterExpr is an optional CEL expression; events it rejects are
	// dropped before enqueue.
	FilterExpr string `json:"filterExpr"`

	// DeadLetterMaxAgeHours bounds DLQ growth by age via the background
	// purger.
	DeadLetterMaxAgeHours int `json:"deadLetterMaxAgeHours"`
}

// Default returns built-in defaults. The endpoint has no sensible default
// and must be set by file, env, or flag.
func Default() Config {
	return Config{
		MaxQueueSize:            10_000,
		MaxDeadLetterSize:       2_500,
		BatchMaxCount:           100,
		BatchMaxBytes:           512 << 10,
		BaseRetryDelayMs:        1_000,
		MaxRetryDelayMs:         300_000,
		MaxRetries:              8,
		BreakerFailureThreshold: 5,
		BreakerOpenDurationMs:   30_000,
		FlushIntervalMs:         30_000,
		SendTimeoutMs:           15_000,
		DeadLetterMaxAgeHours:   72,
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("config: endpoint is required")
	}
	if c.MaxQueueSize <= 0 || c.MaxDeadLetterSize <= 0 {
		return errors.New("config: queue sizes must be positive")
	}
	if c.BatchMaxCount <= 0 {
		return errors.New("config: batchMaxCount must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("config: maxRetries must not be negative")
	}
	return nil
}

// EffectiveHighWaterMark resolves the high-water mark, deriving 80% of the
// queue capacity when unset.
func (c Config) EffectiveHighWaterMark() int {
	if c.HighWaterMark > 0 {
		return c.HighWaterMark
	}
	hwm := c.MaxQueueSize * 8 / 10
	if hwm < 1 {
		hwm = 1
	}
	return hwm
}

// Load reads configuration from a JSON file over defaults. An empty path
// returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch filepath.Ext(path) {
	case ".json", "":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, errors.New("config: only JSON files are supported")
	}
	return cfg, nil
}
