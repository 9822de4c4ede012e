package models

import "time"

// UsageLogEntry records a single credit consumption, keyed by an idempotency
// key. A given key produces at most one ledger decrement no matter how many
// times consumption is retried with it.
type UsageLogEntry struct {
	ID string `gorm:"type:text;primaryKey"` // Idempotency key, caller-supplied or generated.

	TenantID string `gorm:"type:text;not null;index"` // Owning tenant.

	Type   string `gorm:"type:text;not null;index"` // Feature key that was charged.
	Source string `gorm:"type:text"`                // Origin marker (api, system, ...).

	CreditsConsumed int64 `gorm:"not null"` // Credits deducted by this entry.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
