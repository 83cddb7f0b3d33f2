package config

import (
	"os"
	"strconv"
)

// FromEnv overlays BEACON_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("BEACON_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("BEACON_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BEACON_FILTER_EXPR"); v != "" {
		cfg.FilterExpr = v
	}
	overlayInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	overlayInt("BEACON_MAX_QUEUE_SIZE", &cfg.MaxQueueSize)
	overlayInt("BEACON_MAX_DEAD_LETTER_SIZE", &cfg.MaxDeadLetterSize)
	overlayInt("BEACON_BATCH_MAX_COUNT", &cfg.BatchMaxCount)
	overlayInt("BEACON_BATCH_MAX_BYTES", &cfg.BatchMaxBytes)
	overlayInt("BEACON_BASE_RETRY_DELAY_MS", &cfg.BaseRetryDelayMs)
	overlayInt("BEACON_MAX_RETRY_DELAY_MS", &cfg.MaxRetryDelayMs)
	overlayInt("BEACON_MAX_RETRIES", &cfg.MaxRetries)
	overlayInt("BEACON_BREAKER_FAILURE_THRESHOLD", &cfg.BreakerFailureThreshold)
	overlayInt("BEACON_BREAKER_OPEN_DURATION_MS", &cfg.BreakerOpenDurationMs)
	overlayInt("BEACON_FLUSH_INTERVAL_MS", &cfg.FlushIntervalMs)
	overlayInt("BEACON_SEND_TIMEOUT_MS", &cfg.SendTimeoutMs)
	overlayInt("BEACON_HIGH_WATER_MARK", &cfg.HighWaterMark)
	overlayInt("BEACON_DEAD_LETTER_MAX_AGE_HOURS", &cfg.DeadLetterMaxAgeHours)
}
