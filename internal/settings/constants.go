package settings

// DB config keys and defaults for runtime-tunable settings.
const (
	// SweepIntervalSecondsKey controls the reconciliation sweep interval in seconds.
	SweepIntervalSecondsKey = "SWEEP_INTERVAL_SECONDS"
	// SweepMaxConcurrencyKey controls the max concurrent external lookups per sweep.
	SweepMaxConcurrencyKey = "SWEEP_MAX_CONCURRENCY"
	// UsageRetentionDaysKey controls how long usage log entries are kept.
	UsageRetentionDaysKey = "USAGE_RETENTION_DAYS"
	// DefaultSweepIntervalSeconds is the fallback sweep interval (seconds).
	DefaultSweepIntervalSeconds = 3600
	// DefaultSweepMaxConcurrency is the fallback max concurrency.
	DefaultSweepMaxConcurrency = 5
	// DefaultUsageRetentionDays is the fallback usage retention window.
	DefaultUsageRetentionDays = 90
)
