package credits

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/elienai21/Momentum-Premium-sub001/internal/models"
	"github.com/elienai21/Momentum-Premium-sub001/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConsumeMeta describes a consumption for the usage log.
type ConsumeMeta struct {
	FeatureKey string
	Source     string
	UsageLogID string // Idempotency key; a fresh key is generated when empty.
}

// Snapshot is the credits read model for UI display.
type Snapshot struct {
	Available      int64     `json:"available"`
	MonthlyQuota   int64     `json:"monthly_quota"`
	Used           int64     `json:"used"`
	RenewsAt       time.Time `json:"renews_at"`
	PlanNormalized string    `json:"plan"`
	PeriodSource   string    `json:"period_source"`
}

// Ledger owns tenant credit balances. All mutations run inside single-row
// transactions so concurrent consumers for one tenant serialize through the
// database and the balance never underflows.
type Ledger struct {
	db *gorm.DB
}

// NewLedger constructs a Ledger backed by GORM.
func NewLedger(db *gorm.DB) *Ledger { return &Ledger{db: db} }

// Check verifies that a tenant can cover amount without mutating the balance.
// A due quota reset is applied first so the comparison sees the fresh cycle.
func (l *Ledger) Check(ctx context.Context, tenantID, plan string, amount int64) error {
	if l == nil || l.db == nil {
		return errors.New("credits: db not initialized")
	}
	if amount <= 0 {
		return nil
	}

	tenant, _, errFresh := l.ensureFresh(ctx, tenantID, plan)
	if errFresh != nil {
		return errFresh
	}
	if tenant.CreditsAvailable < amount {
		return &InsufficientCreditsError{TenantID: tenant.ID, Required: amount, Available: tenant.CreditsAvailable}
	}
	return nil
}

// Consume atomically deducts amount from a tenant's balance and appends the
// usage log entry. A consume retried with the same usage log ID is a no-op
// success: the log lookup and the balance write share one transaction, so
// replay-safety and balance-safety are both transaction-local.
func (l *Ledger) Consume(ctx context.Context, tenantID string, amount int64, meta ConsumeMeta) error {
	if l == nil || l.db == nil {
		return errors.New("credits: db not initialized")
	}
	if amount <= 0 {
		return nil
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return errors.New("credits: tenant id is required")
	}

	usageLogID := strings.TrimSpace(meta.UsageLogID)
	callerKey := usageLogID != ""
	if !callerKey {
		usageLogID = uuid.NewString()
	}

	source := strings.TrimSpace(meta.Source)
	if source == "" {
		source = "api"
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if callerKey {
			var existing models.UsageLogEntry
			errFind := tx.Where("id = ?", usageLogID).First(&existing).Error
			if errFind == nil {
				// Idempotent replay: this consumption already happened.
				return nil
			}
			if !errors.Is(errFind, gorm.ErrRecordNotFound) {
				return errFind
			}
		}

		var tenant models.Tenant
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", tenantID).
			First(&tenant).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return store.ErrTenantNotFound
			}
			return errFind
		}

		if tenant.CreditsAvailable < amount {
			return &InsufficientCreditsError{TenantID: tenantID, Required: amount, Available: tenant.CreditsAvailable}
		}

		now := time.Now().UTC()
		if errUpdate := tx.Model(&models.Tenant{}).
			Where("id = ?", tenantID).
			Updates(map[string]any{
				"credits_available":  gorm.Expr("credits_available - ?", amount),
				"credits_updated_at": now,
			}).Error; errUpdate != nil {
			return errUpdate
		}

		entry := models.UsageLogEntry{
			ID:              usageLogID,
			TenantID:        tenantID,
			Type:            strings.TrimSpace(meta.FeatureKey),
			Source:          source,
			CreditsConsumed: amount,
			CreatedAt:       now,
		}
		return tx.Create(&entry).Error
	})
}

// GetCredits returns the credits read model, applying a due reset first.
func (l *Ledger) GetCredits(ctx context.Context, tenantID, plan string) (Snapshot, error) {
	if l == nil || l.db == nil {
		return Snapshot{}, errors.New("credits: db not initialized")
	}

	tenant, decision, errFresh := l.ensureFresh(ctx, tenantID, plan)
	if errFresh != nil {
		return Snapshot{}, errFresh
	}

	used := tenant.MonthlyQuota - tenant.CreditsAvailable
	if used < 0 {
		used = 0
	}
	return Snapshot{
		Available:      tenant.CreditsAvailable,
		MonthlyQuota:   tenant.MonthlyQuota,
		Used:           used,
		RenewsAt:       decision.renewsAt,
		PlanNormalized: NormalizePlan(plan),
		PeriodSource:   decision.periodSource,
	}, nil
}

// ensureFresh applies the quota reset policy transactionally and returns the
// up-to-date tenant together with the renewal boundary for the current cycle.
func (l *Ledger) ensureFresh(ctx context.Context, tenantID, plan string) (*models.Tenant, resetDecision, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, resetDecision{}, errors.New("credits: tenant id is required")
	}

	now := time.Now().UTC()
	var tenant models.Tenant
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", tenantID).
			First(&tenant).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return store.ErrTenantNotFound
			}
			return errFind
		}

		decision := evaluateReset(&tenant, plan, now)
		applyReset(&tenant, decision, now)
		if !decision.reset {
			return nil
		}
		return tx.Model(&models.Tenant{}).
			Where("id = ?", tenantID).
			Updates(map[string]any{
				"credits_available":  tenant.CreditsAvailable,
				"monthly_quota":      tenant.MonthlyQuota,
				"last_reset_at":      tenant.LastResetAt,
				"credits_updated_at": now,
			}).Error
	})
	if errTx != nil {
		return nil, resetDecision{}, errTx
	}

	// Recompute against the post-reset state so renewsAt reflects the new cycle.
	decision := evaluateReset(&tenant, plan, now)
	return &tenant, decision, nil
}
