package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elienai21/Momentum-Premium-sub001/internal/cache"
	"github.com/elienai21/Momentum-Premium-sub001/internal/models"
	"github.com/elienai21/Momentum-Premium-sub001/internal/store"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/datatypes"
)

// ErrInvalidSignature reports a webhook delivery whose signature did not
// verify against the shared secret. No state is mutated for such requests.
var ErrInvalidSignature = errors.New("billing: invalid webhook signature")

// Event types the intake applies. Everything else is acknowledged and ignored.
const (
	eventSubscriptionCreated = "customer.subscription.created"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
	eventPaymentSucceeded    = "invoice.payment_succeeded"
)

// IntakeResult summarizes one webhook delivery.
type IntakeResult struct {
	EventID   string
	EventType string
	Duplicate bool // The event was already processed; no state was reapplied.
	Applied   bool // A billing state patch was written.
	TenantID  string
}

// Intake ingests external billing events idempotently and patches tenant
// billing state. It is one of the two exclusive writers of that state (the
// reconciliation sweeper is the other).
type Intake struct {
	store  *store.TenantStore
	cache  cache.Service
	secret string
}

// NewIntake constructs a webhook Intake.
func NewIntake(tenantStore *store.TenantStore, billingCache cache.Service, webhookSecret string) *Intake {
	return &Intake{store: tenantStore, cache: billingCache, secret: webhookSecret}
}

// HandleEvent processes one raw webhook delivery: verify signature, claim the
// idempotency record, resolve the tenant, apply the type-specific patch.
// Duplicate deliveries and unresolvable tenants succeed without mutation so
// the sender's at-least-once retries stay cheap.
func (i *Intake) HandleEvent(ctx context.Context, payload []byte, signatureHeader, traceID string) (IntakeResult, error) {
	if i == nil || i.store == nil {
		return IntakeResult{}, errors.New("billing: intake not initialized")
	}

	event, errVerify := webhook.ConstructEventWithOptions(payload, signatureHeader, i.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if errVerify != nil {
		log.WithError(errVerify).Warn("billing: webhook signature verification failed")
		return IntakeResult{}, fmt.Errorf("%w: %v", ErrInvalidSignature, errVerify)
	}

	result := IntakeResult{EventID: event.ID, EventType: string(event.Type)}

	record := &models.WebhookEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Status:     models.WebhookEventStatusReceived,
		TraceID:    strings.TrimSpace(traceID),
		Payload:    datatypes.JSON(payload),
		ReceivedAt: time.Now().UTC(),
	}
	switch outcome, errCreate := i.store.CreateEventIfAbsent(ctx, record); outcome {
	case store.AlreadyExists:
		result.Duplicate = true
		log.Debugf("billing: duplicate webhook delivery (event=%s type=%s)", event.ID, event.Type)
		return result, nil
	case store.Created:
	default:
		return result, errCreate
	}

	applied, tenantID, errApply := i.applyEvent(ctx, &event)
	if errApply != nil {
		return result, errApply
	}
	result.Applied = applied
	result.TenantID = tenantID

	status := models.WebhookEventStatusSkipped
	if applied {
		status = models.WebhookEventStatusApplied
	}
	if errStatus := i.store.UpdateEventStatus(ctx, event.ID, status); errStatus != nil {
		log.WithError(errStatus).Warnf("billing: update event status failed (event=%s)", event.ID)
	}
	return result, nil
}

// applyEvent dispatches the type-specific billing state patch. It reports
// whether a patch was written and for which tenant.
func (i *Intake) applyEvent(ctx context.Context, event *stripe.Event) (bool, string, error) {
	switch string(event.Type) {
	case eventSubscriptionCreated, eventSubscriptionUpdated, eventSubscriptionDeleted:
		var sub stripe.Subscription
		if errUnmarshal := json.Unmarshal(event.Data.Raw, &sub); errUnmarshal != nil {
			return false, "", fmt.Errorf("billing: decode subscription event %s: %w", event.ID, errUnmarshal)
		}
		return i.applySubscription(ctx, event, &sub)
	case eventPaymentSucceeded:
		var invoice stripe.Invoice
		if errUnmarshal := json.Unmarshal(event.Data.Raw, &invoice); errUnmarshal != nil {
			return false, "", fmt.Errorf("billing: decode invoice event %s: %w", event.ID, errUnmarshal)
		}
		return i.applyInvoice(ctx, event, &invoice)
	default:
		log.Debugf("billing: ignoring webhook event type %s (event=%s)", event.Type, event.ID)
		return false, "", nil
	}
}

func (i *Intake) applySubscription(ctx context.Context, event *stripe.Event, sub *stripe.Subscription) (bool, string, error) {
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	tenant, errResolve := i.resolveTenant(ctx, sub.Metadata, customerID)
	if errResolve != nil {
		return false, "", errResolve
	}
	if tenant == nil {
		log.Warnf("billing: webhook tenant unresolved (event=%s type=%s customer=%s)", event.ID, event.Type, customerID)
		return false, "", nil
	}

	status := string(sub.Status)
	if string(event.Type) == eventSubscriptionDeleted {
		status = models.BillingStatusCanceled
	}

	patch := store.BillingPatch{
		Status:         &status,
		SubscriptionID: &sub.ID,
	}
	if customerID != "" {
		patch.StripeCustomerID = &customerID
	}
	if sub.CurrentPeriodStart > 0 {
		start := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		patch.CurrentPeriodStart = &start
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		patch.CurrentPeriodEnd = &end
	}
	if priceID := subscriptionPriceID(sub); priceID != "" {
		patch.PlanPriceID = &priceID
	}
	if plan := strings.TrimSpace(sub.Metadata["plan"]); plan != "" {
		patch.Plan = &plan
	}

	if errPatch := i.store.PatchBillingState(ctx, tenant.ID, patch); errPatch != nil {
		return false, "", errPatch
	}
	i.invalidate(ctx, tenant.ID)
	return true, tenant.ID, nil
}

func (i *Intake) applyInvoice(ctx context.Context, event *stripe.Event, invoice *stripe.Invoice) (bool, string, error) {
	customerID := ""
	if invoice.Customer != nil {
		customerID = invoice.Customer.ID
	}
	tenant, errResolve := i.resolveTenant(ctx, invoice.Metadata, customerID)
	if errResolve != nil {
		return false, "", errResolve
	}
	if tenant == nil {
		log.Warnf("billing: webhook tenant unresolved (event=%s type=%s customer=%s)", event.ID, event.Type, customerID)
		return false, "", nil
	}

	status := models.BillingStatusActive
	patch := store.BillingPatch{Status: &status}
	if customerID != "" {
		patch.StripeCustomerID = &customerID
	}
	if invoice.Subscription != nil && invoice.Subscription.ID != "" {
		patch.SubscriptionID = &invoice.Subscription.ID
	}
	if start, end, ok := invoicePeriod(invoice); ok {
		patch.CurrentPeriodStart = &start
		patch.CurrentPeriodEnd = &end
	}

	if errPatch := i.store.PatchBillingState(ctx, tenant.ID, patch); errPatch != nil {
		return false, "", errPatch
	}
	i.invalidate(ctx, tenant.ID)
	return true, tenant.ID, nil
}

// resolveTenant prefers an explicit tenant reference in event metadata and
// falls back to the external customer identifier. A nil tenant with nil error
// means the event is not actionable.
func (i *Intake) resolveTenant(ctx context.Context, metadata map[string]string, customerID string) (*models.Tenant, error) {
	if tenantID := strings.TrimSpace(metadata["tenant_id"]); tenantID != "" {
		tenant, errGet := i.store.GetTenant(ctx, tenantID)
		if errGet == nil {
			return tenant, nil
		}
		if !errors.Is(errGet, store.ErrTenantNotFound) {
			return nil, errGet
		}
	}

	tenant, errGet := i.store.GetTenantByCustomerID(ctx, customerID)
	if errGet == nil {
		return tenant, nil
	}
	if errors.Is(errGet, store.ErrTenantNotFound) {
		return nil, nil
	}
	return nil, errGet
}

func (i *Intake) invalidate(ctx context.Context, tenantID string) {
	if i.cache == nil {
		return
	}
	i.cache.Invalidate(ctx, tenantID)
}

// subscriptionPriceID extracts the plan/price identifier from a subscription.
func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

// invoicePeriod derives the billing period from the first invoice line.
func invoicePeriod(invoice *stripe.Invoice) (time.Time, time.Time, bool) {
	if invoice == nil || invoice.Lines == nil {
		return time.Time{}, time.Time{}, false
	}
	for _, line := range invoice.Lines.Data {
		if line == nil || line.Period == nil {
			continue
		}
		if line.Period.Start <= 0 || line.Period.End <= 0 {
			continue
		}
		return time.Unix(line.Period.Start, 0).UTC(), time.Unix(line.Period.End, 0).UTC(), true
	}
	return time.Time{}, time.Time{}, false
}
