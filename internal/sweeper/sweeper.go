// Package sweeper implements the periodic reconciliation sweep that re-derives
// tenant billing truth from the external subscription system and corrects
// drift the webhook stream may have missed.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elienai21/Momentum-Premium-sub001/internal/cache"
	"github.com/elienai21/Momentum-Premium-sub001/internal/models"
	internalsettings "github.com/elienai21/Momentum-Premium-sub001/internal/settings"
	"github.com/elienai21/Momentum-Premium-sub001/internal/store"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
)

const (
	defaultSweepInterval  = time.Hour
	defaultRequestTimeout = 20 * time.Second
	maxConcurrentLookups  = 5
	noTenantRetryInterval = 10 * time.Second
)

// SubscriptionLister looks up a customer's subscriptions in the external
// billing system.
type SubscriptionLister interface {
	ListByCustomer(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
}

// Sweeper periodically cross-checks stored billing state against external
// truth. Each tenant's lookup is bounded independently so one slow tenant
// cannot stall the batch, and per-tenant failures never abort the sweep.
type Sweeper struct {
	store          *store.TenantStore
	cache          cache.Service
	subscriptions  SubscriptionLister
	interval       time.Duration
	requestTimeout time.Duration
	hadTenants     bool
}

// NewSweeper constructs a reconciliation sweeper.
func NewSweeper(tenantStore *store.TenantStore, billingCache cache.Service, subscriptions SubscriptionLister) *Sweeper {
	if tenantStore == nil || subscriptions == nil {
		return nil
	}
	return &Sweeper{
		store:          tenantStore,
		cache:          billingCache,
		subscriptions:  subscriptions,
		interval:       defaultSweepInterval,
		requestTimeout: defaultRequestTimeout,
	}
}

// Start launches the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("reconciliation sweeper started (interval=%s)", s.interval)
}

func (s *Sweeper) run(ctx context.Context) {
	for {
		if ctx != nil && ctx.Err() != nil {
			return
		}
		interval := s.Sweep(ctx)
		if ctx != nil && ctx.Err() != nil {
			return
		}
		if interval <= 0 {
			interval = s.interval
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// Sweep runs one reconciliation pass over all tenants with an external
// customer identifier and returns the interval until the next pass.
func (s *Sweeper) Sweep(ctx context.Context) time.Duration {
	if s == nil {
		return 0
	}
	if ctx == nil {
		ctx = context.Background()
	}

	interval, maxConcurrency := s.resolveSweepConfig()
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	tenants, errList := s.store.ListTenantsWithCustomerID(ctx)
	if errList != nil {
		log.WithError(errList).Warn("sweeper: load tenants failed")
		return interval
	}
	if len(tenants) == 0 {
		if !s.hadTenants {
			return noTenantRetryInterval
		}
		return interval
	}
	s.hadTenants = true

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	shouldStop := false

	for idx := range tenants {
		if shouldStop {
			break
		}
		tenant := tenants[idx]
		if strings.TrimSpace(tenant.StripeCustomerID) == "" {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			shouldStop = true
		}
		if shouldStop {
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if errReconcile := s.reconcileTenant(ctx, &tenant); errReconcile != nil {
				log.WithError(errReconcile).Warnf("sweeper: reconcile failed (tenant=%s)", tenant.ID)
			}
		}()
	}

	wg.Wait()
	return interval
}

// reconcileTenant compares one tenant's stored billing state with external
// truth and overwrites internal state on divergence.
func (s *Sweeper) reconcileTenant(ctx context.Context, tenant *models.Tenant) error {
	if s == nil {
		return errors.New("sweeper: not initialized")
	}
	if tenant == nil || strings.TrimSpace(tenant.ID) == "" {
		return errors.New("sweeper: tenant not found")
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	subs, errList := s.subscriptions.ListByCustomer(reqCtx, tenant.StripeCustomerID)
	if errList != nil {
		return fmt.Errorf("sweeper: list subscriptions (customer=%s): %w", tenant.StripeCustomerID, errList)
	}

	sub := selectRelevantSubscription(subs)
	if sub == nil {
		log.Debugf("sweeper: no active subscription (tenant=%s customer=%s)", tenant.ID, tenant.StripeCustomerID)
		return nil
	}

	patch, diverged := diffBillingState(tenant, sub)
	if !diverged {
		return nil
	}

	if errPatch := s.store.PatchBillingState(ctx, tenant.ID, patch); errPatch != nil {
		return fmt.Errorf("sweeper: patch billing state: %w", errPatch)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, tenant.ID)
	}
	log.Infof("sweeper: corrected billing drift (tenant=%s subscription=%s status=%s)", tenant.ID, sub.ID, sub.Status)
	return nil
}

// selectRelevantSubscription picks the subscription reconciliation should
// trust: active beats trialing, then the most recently created one.
func selectRelevantSubscription(subs []*stripe.Subscription) *stripe.Subscription {
	var best *stripe.Subscription
	bestRank := -1
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		rank := -1
		switch sub.Status {
		case stripe.SubscriptionStatusActive:
			rank = 2
		case stripe.SubscriptionStatusTrialing:
			rank = 1
		default:
			continue
		}
		if rank > bestRank || (rank == bestRank && best != nil && sub.Created > best.Created) {
			best = sub
			bestRank = rank
		}
	}
	return best
}

// diffBillingState reports whether the stored state diverges from the
// external subscription and builds the overwrite patch when it does. The plan
// tier is read from the same metadata key the webhook intake uses; it gates
// quota resolution, so a lost plan-change event must be corrected here too.
func diffBillingState(tenant *models.Tenant, sub *stripe.Subscription) (store.BillingPatch, bool) {
	status := string(sub.Status)
	priceID := subscriptionPriceID(sub)
	plan := strings.TrimSpace(sub.Metadata["plan"])

	diverged := tenant.BillingStatus != status ||
		tenant.SubscriptionID != sub.ID ||
		(priceID != "" && tenant.PlanPriceID != priceID) ||
		(plan != "" && tenant.Plan != plan) ||
		periodDiverged(tenant.CurrentPeriodEnd, sub.CurrentPeriodEnd)
	if !diverged {
		return store.BillingPatch{}, false
	}

	patch := store.BillingPatch{
		Status:         &status,
		SubscriptionID: &sub.ID,
	}
	if priceID != "" {
		patch.PlanPriceID = &priceID
	}
	if plan != "" {
		patch.Plan = &plan
	}
	if sub.CurrentPeriodStart > 0 {
		start := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		patch.CurrentPeriodStart = &start
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		patch.CurrentPeriodEnd = &end
	}
	return patch, true
}

func periodDiverged(stored *time.Time, external int64) bool {
	if external <= 0 {
		return false
	}
	if stored == nil {
		return true
	}
	return stored.UTC().Unix() != external
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

// resolveSweepConfig reads runtime-tunable sweep settings, clamping
// concurrency to a safe bound.
func (s *Sweeper) resolveSweepConfig() (time.Duration, int) {
	interval := internalsettings.SweepInterval()
	maxConcurrency := internalsettings.SweepMaxConcurrency()
	if maxConcurrency > maxConcurrentLookups {
		maxConcurrency = maxConcurrentLookups
	}
	return interval, maxConcurrency
}
