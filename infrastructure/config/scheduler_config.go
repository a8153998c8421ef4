package config

import (
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// SchedulerConfig struct-decodes every cron cadence from the environment
// in one pass via envdecode. Values are milliseconds, matching the rest
// of the environment variable table.
type SchedulerConfig struct {
	InvariantEngineIntervalMs    int64 `env:"INVARIANT_ENGINE_INTERVAL_MS,default=60000"`
	PerformanceEngineIntervalMs  int64 `env:"PERFORMANCE_ENGINE_INTERVAL_MS,default=30000"`
	SecurityEngineIntervalMs     int64 `env:"SECURITY_ENGINE_INTERVAL_MS,default=60000"`
	HealthScorerIntervalMs       int64 `env:"HEALTH_SCORER_INTERVAL_MS,default=60000"`
	BackupValidationIntervalMs   int64 `env:"BACKUP_VALIDATION_INTERVAL_MS,default=86400000"`
	ExecutiveReportIntervalMs    int64 `env:"EXECUTIVE_REPORT_INTERVAL_MS,default=86400000"`
	IdempotencyCleanupIntervalMs int64 `env:"IDEMPOTENCY_CLEANUP_INTERVAL_MS,default=300000"`
	RatelimiterCleanupIntervalMs int64 `env:"RATELIMITER_CLEANUP_INTERVAL_MS,default=300000"`
}

// DefaultSchedulerConfig returns the cadence table with every job on its
// documented default interval, used both as the envdecode starting point
// and as the fallback if decoding itself fails outright.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		InvariantEngineIntervalMs:    60000,
		PerformanceEngineIntervalMs:  30000,
		SecurityEngineIntervalMs:     60000,
		HealthScorerIntervalMs:       60000,
		BackupValidationIntervalMs:   86400000,
		ExecutiveReportIntervalMs:    86400000,
		IdempotencyCleanupIntervalMs: 300000,
		RatelimiterCleanupIntervalMs: 300000,
	}
}

// LoadSchedulerConfig decodes SchedulerConfig from the environment,
// starting from DefaultSchedulerConfig so any variable left unset keeps
// its documented default.
func LoadSchedulerConfig() (*SchedulerConfig, error) {
	cfg := DefaultSchedulerConfig()
	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when none of the tagged fields have an
		// explicit override in the environment; that's the common case
		// (every job running on its default cadence), not a failure.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, err
		}
	}
	return cfg, nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// InvariantEngineInterval returns the configured cadence as a time.Duration.
func (c *SchedulerConfig) InvariantEngineInterval() time.Duration {
	return msToDuration(c.InvariantEngineIntervalMs)
}

// PerformanceEngineInterval returns the configured cadence as a time.Duration.
func (c *SchedulerConfig) PerformanceEngineInterval() time.Duration {
	return msToDuration(c.PerformanceEngineIntervalMs)
}

// SecurityEngineInterval returns the configured cadence as a time.Duration.
func (c *SchedulerConfig) SecurityEngineInterval() time.Duration {
	return msToDuration(c.SecurityEngineIntervalMs)
}

// HealthScorerInterval returns the configured cadence as a time.Duration.
func (c *SchedulerConfig) HealthScorerInterval() time.Duration {
	return msToDuration(c.HealthScorerIntervalMs)
}

// BackupValidationInterval returns the configured cadence as a time.Duration.
func (c *SchedulerConfig) BackupValidationInterval() time.Duration {
	return msToDuration(c.BackupValidationIntervalMs)
}

// ExecutiveReportInterval returns the configured cadence as a time.Duration.
func (c *SchedulerConfig) ExecutiveReportInterval() time.Duration {
	return msToDuration(c.ExecutiveReportIntervalMs)
}

// IdempotencyCleanupInterval returns the configured cadence as a time.Duration.
func (c *SchedulerConfig) IdempotencyCleanupInterval() time.Duration {
	return msToDuration(c.IdempotencyCleanupIntervalMs)
}

// RatelimiterCleanupInterval returns the configured cadence as a time.Duration.
func (c *SchedulerConfig) RatelimiterCleanupInterval() time.Duration {
	return msToDuration(c.RatelimiterCleanupIntervalMs)
}
