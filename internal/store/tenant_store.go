package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/elienai21/Momentum-Premium-sub001/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTenantNotFound reports that no tenant matched the lookup.
var ErrTenantNotFound = errors.New("store: tenant not found")

// CreateOutcome is the closed result set of a create-if-absent write. Callers
// branch on this instead of inspecting driver error codes.
type CreateOutcome int

const (
	// CreateFailed indicates the write failed; the returned error carries the cause.
	CreateFailed CreateOutcome = iota
	// Created indicates a fresh record was written.
	Created
	// AlreadyExists indicates a record with the same key was already present.
	AlreadyExists
)

// BillingPatch describes a partial update of a tenant's billing state. Nil
// fields are left untouched.
type BillingPatch struct {
	Status             *string
	SubscriptionID     *string
	StripeCustomerID   *string
	PlanPriceID        *string
	Plan               *string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// TenantStore provides typed access to tenant and webhook-event records.
type TenantStore struct {
	db *gorm.DB
}

// NewTenantStore constructs a TenantStore backed by GORM.
func NewTenantStore(db *gorm.DB) *TenantStore { return &TenantStore{db: db} }

// GetTenant loads a tenant by ID.
func (s *TenantStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, errors.New("store: tenant id is required")
	}

	var tenant models.Tenant
	errFind := s.db.WithContext(ctx).Where("id = ?", tenantID).First(&tenant).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrTenantNotFound
	}
	if errFind != nil {
		return nil, errFind
	}
	return &tenant, nil
}

// GetTenantByCustomerID loads a tenant by its external customer identifier.
func (s *TenantStore) GetTenantByCustomerID(ctx context.Context, customerID string) (*models.Tenant, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db not initialized")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrTenantNotFound
	}

	var tenant models.Tenant
	errFind := s.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		Order("created_at ASC").
		First(&tenant).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrTenantNotFound
	}
	if errFind != nil {
		return nil, errFind
	}
	return &tenant, nil
}

// ListTenantsWithCustomerID returns all tenants linked to an external customer.
func (s *TenantStore) ListTenantsWithCustomerID(ctx context.Context) ([]models.Tenant, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db not initialized")
	}

	var tenants []models.Tenant
	if errFind := s.db.WithContext(ctx).
		Where("stripe_customer_id <> ''").
		Order("id ASC").
		Find(&tenants).Error; errFind != nil {
		return nil, errFind
	}
	return tenants, nil
}

// CreateTenant inserts a new tenant record.
func (s *TenantStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if s == nil || s.db == nil {
		return errors.New("store: db not initialized")
	}
	if tenant == nil || strings.TrimSpace(tenant.ID) == "" {
		return errors.New("store: tenant id is required")
	}
	return s.db.WithContext(ctx).Create(tenant).Error
}

// CreateEventIfAbsent attempts an atomic create of a webhook event record.
// A key conflict is reported as AlreadyExists, never as an error.
func (s *TenantStore) CreateEventIfAbsent(ctx context.Context, event *models.WebhookEvent) (CreateOutcome, error) {
	if s == nil || s.db == nil {
		return CreateFailed, errors.New("store: db not initialized")
	}
	if event == nil || strings.TrimSpace(event.ID) == "" {
		return CreateFailed, errors.New("store: event id is required")
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return CreateFailed, res.Error
	}
	if res.RowsAffected == 0 {
		return AlreadyExists, nil
	}
	return Created, nil
}

// UpdateEventStatus records the final processing state of a webhook event.
func (s *TenantStore) UpdateEventStatus(ctx context.Context, eventID, status string) error {
	if s == nil || s.db == nil {
		return errors.New("store: db not initialized")
	}
	return s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", eventID).
		Update("status", status).Error
}

// PatchBillingState applies a partial billing update inside one transaction,
// locking the tenant row for the duration of the read-modify-write.
func (s *TenantStore) PatchBillingState(ctx context.Context, tenantID string, patch BillingPatch) error {
	if s == nil || s.db == nil {
		return errors.New("store: db not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return errors.New("store: tenant id is required")
	}

	updates := map[string]any{}
	if patch.Status != nil {
		updates["billing_status"] = *patch.Status
	}
	if patch.SubscriptionID != nil {
		updates["subscription_id"] = *patch.SubscriptionID
	}
	if patch.StripeCustomerID != nil {
		updates["stripe_customer_id"] = *patch.StripeCustomerID
	}
	if patch.PlanPriceID != nil {
		updates["plan_price_id"] = *patch.PlanPriceID
	}
	if patch.Plan != nil {
		updates["plan"] = *patch.Plan
	}
	if patch.CurrentPeriodStart != nil {
		updates["current_period_start"] = *patch.CurrentPeriodStart
	}
	if patch.CurrentPeriodEnd != nil {
		updates["current_period_end"] = *patch.CurrentPeriodEnd
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenant models.Tenant
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", tenantID).
			First(&tenant).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrTenantNotFound
			}
			return errFind
		}
		return tx.Model(&models.Tenant{}).
			Where("id = ?", tenantID).
			Updates(updates).Error
	})
}
