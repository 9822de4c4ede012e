package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elienai21/Momentum-Premium-sub001/internal/models"
	"github.com/elienai21/Momentum-Premium-sub001/internal/store"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Tenant{}, &models.UsageLogEntry{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func seedTenant(t *testing.T, db *gorm.DB, tenant *models.Tenant) {
	t.Helper()
	if tenant.Name == "" {
		tenant.Name = "Acme"
	}
	if tenant.Plan == "" {
		tenant.Plan = "starter"
	}
	if errCreate := db.Create(tenant).Error; errCreate != nil {
		t.Fatalf("seed tenant: %v", errCreate)
	}
}

func loadTenant(t *testing.T, db *gorm.DB, tenantID string) *models.Tenant {
	t.Helper()
	var tenant models.Tenant
	if errFind := db.Where("id = ?", tenantID).First(&tenant).Error; errFind != nil {
		t.Fatalf("load tenant: %v", errFind)
	}
	return &tenant
}

func TestCheckPassesWhenBalanceCovers(t *testing.T) {
	db := setupLedgerDB(t)
	lastReset := time.Now().UTC().Add(-time.Hour)
	seedTenant(t, db, &models.Tenant{ID: "t1", CreditsAvailable: 100, MonthlyQuota: 300, LastResetAt: &lastReset})

	ledger := NewLedger(db)
	if err := ledger.Check(context.Background(), "t1", "starter", 100); err != nil {
		t.Fatalf("expected check to pass, got %v", err)
	}
}

func TestCheckRejectsInsufficientBalance(t *testing.T) {
	db := setupLedgerDB(t)
	lastReset := time.Now().UTC().Add(-time.Hour)
	seedTenant(t, db, &models.Tenant{ID: "t1", CreditsAvailable: 10, MonthlyQuota: 300, LastResetAt: &lastReset})

	ledger := NewLedger(db)
	err := ledger.Check(context.Background(), "t1", "starter", 50)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits error, got %v", err)
	}
	var typed *InsufficientCreditsError
	if !errors.As(err, &typed) {
		t.Fatalf("expected *InsufficientCreditsError, got %T", err)
	}
	if typed.Required != 50 || typed.Available != 10 {
		t.Fatalf("unexpected error detail: required=%d available=%d", typed.Required, typed.Available)
	}
}

func TestCheckUnknownTenant(t *testing.T) {
	db := setupLedgerDB(t)
	ledger := NewLedger(db)
	if err := ledger.Check(context.Background(), "missing", "starter", 1); !errors.Is(err, store.ErrTenantNotFound) {
		t.Fatalf("expected tenant not found, got %v", err)
	}
}

func TestConsumeDecrementsAndLogs(t *testing.T) {
	db := setupLedgerDB(t)
	lastReset := time.Now().UTC().Add(-time.Hour)
	seedTenant(t, db, &models.Tenant{ID: "t1", CreditsAvailable: 300, MonthlyQuota: 300, LastResetAt: &lastReset})

	ledger := NewLedger(db)
	errConsume := ledger.Consume(context.Background(), "t1", 25, ConsumeMeta{FeatureKey: "report.generate", Source: "api"})
	if errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}

	tenant := loadTenant(t, db, "t1")
	if tenant.CreditsAvailable != 275 {
		t.Fatalf("expected 275 credits, got %d", tenant.CreditsAvailable)
	}

	var entries []models.UsageLogEntry
	if errFind := db.Where("tenant_id = ?", "t1").Find(&entries).Error; errFind != nil {
		t.Fatalf("load usage log: %v", errFind)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 usage log entry, got %d", len(entries))
	}
	if entries[0].Type != "report.generate" || entries[0].CreditsConsumed != 25 || entries[0].Source != "api" {
		t.Fatalf("unexpected usage log entry: %+v", entries[0])
	}
	if entries[0].ID == "" {
		t.Fatal("expected a generated usage log id")
	}
}

func TestConsumeIdempotentReplay(t *testing.T) {
	db := setupLedgerDB(t)
	lastReset := time.Now().UTC().Add(-time.Hour)
	seedTenant(t, db, &models.Tenant{ID: "t1", CreditsAvailable: 300, MonthlyQuota: 300, LastResetAt: &lastReset})

	ledger := NewLedger(db)
	meta := ConsumeMeta{FeatureKey: "report.generate", UsageLogID: "retry-key-1"}
	for i := 0; i < 2; i++ {
		if errConsume := ledger.Consume(context.Background(), "t1", 40, meta); errConsume != nil {
			t.Fatalf("consume attempt %d: %v", i+1, errConsume)
		}
	}

	tenant := loadTenant(t, db, "t1")
	if tenant.CreditsAvailable != 260 {
		t.Fatalf("expected a single deduction to 260, got %d", tenant.CreditsAvailable)
	}
	var count int64
	if errCount := db.Model(&models.UsageLogEntry{}).Where("tenant_id = ?", "t1").Count(&count).Error; errCount != nil {
		t.Fatalf("count usage log: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 usage log entry, got %d", count)
	}
}

func TestConsumeInsufficientLeavesStateUntouched(t *testing.T) {
	db := setupLedgerDB(t)
	lastReset := time.Now().UTC().Add(-time.Hour)
	seedTenant(t, db, &models.Tenant{ID: "t1", CreditsAvailable: 30, MonthlyQuota: 300, LastResetAt: &lastReset})

	ledger := NewLedger(db)
	errConsume := ledger.Consume(context.Background(), "t1", 31, ConsumeMeta{FeatureKey: "report.generate"})
	if !errors.Is(errConsume, ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits error, got %v", errConsume)
	}

	tenant := loadTenant(t, db, "t1")
	if tenant.CreditsAvailable != 30 {
		t.Fatalf("balance must be unchanged, got %d", tenant.CreditsAvailable)
	}
	var count int64
	if errCount := db.Model(&models.UsageLogEntry{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count usage log: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected no usage log entries, got %d", count)
	}
}

func TestConsumeNonPositiveAmountIsNoOp(t *testing.T) {
	db := setupLedgerDB(t)
	lastReset := time.Now().UTC().Add(-time.Hour)
	seedTenant(t, db, &models.Tenant{ID: "t1", CreditsAvailable: 10, MonthlyQuota: 300, LastResetAt: &lastReset})

	ledger := NewLedger(db)
	if errConsume := ledger.Consume(context.Background(), "t1", 0, ConsumeMeta{}); errConsume != nil {
		t.Fatalf("consume zero: %v", errConsume)
	}
	if tenant := loadTenant(t, db, "t1"); tenant.CreditsAvailable != 10 {
		t.Fatalf("balance must be unchanged, got %d", tenant.CreditsAvailable)
	}
}

func TestResetAfterFallbackWindow(t *testing.T) {
	db := setupLedgerDB(t)
	lastReset := time.Now().UTC().Add(-31 * 24 * time.Hour)
	seedTenant(t, db, &models.Tenant{ID: "t1", CreditsAvailable: 5, MonthlyQuota: 300, LastResetAt: &lastReset})

	ledger := NewLedger(db)
	snapshot, errGet := ledger.GetCredits(context.Background(), "t1", "starter")
	if errGet != nil {
		t.Fatalf("get credits: %v", errGet)
	}
	if snapshot.Available != 300 || snapshot.MonthlyQuota != 300 || snapshot.Used != 0 {
		t.Fatalf("expected refilled snapshot, got %+v", snapshot)
	}
	if snapshot.PeriodSource != PeriodSourceFallback {
		t.Fatalf("expected fallback period source, got %s", snapshot.PeriodSource)
	}

	tenant := loadTenant(t, db, "t1")
	if tenant.LastResetAt == nil || time.Since(*tenant.LastResetAt) > time.Minute {
		t.Fatalf("expected last reset anchored to now, got %v", tenant.LastResetAt)
	}
}

func TestExternalPeriodOverridesFallbackWindow(t *testing.T) {
	db := setupLedgerDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	lastReset := now.Add(-31 * 24 * time.Hour)
	periodStart := now.Add(-20 * 24 * time.Hour)
	periodEnd := now.Add(10 * 24 * time.Hour)
	seedTenant(t, db, &models.Tenant{
		ID:                 "t1",
		CreditsAvailable:   120,
		MonthlyQuota:       300,
		LastResetAt:        &lastReset,
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
	})

	ledger := NewLedger(db)
	snapshot, errGet := ledger.GetCredits(context.Background(), "t1", "starter")
	if errGet != nil {
		t.Fatalf("get credits: %v", errGet)
	}
	// The 30-day fallback has elapsed but the billing system says the cycle is
	// still open, so no refill happens.
	if snapshot.Available != 120 {
		t.Fatalf("expected no refill, got %d", snapshot.Available)
	}
	if snapshot.PeriodSource != PeriodSourceExternal {
		t.Fatalf("expected external period source, got %s", snapshot.PeriodSource)
	}
	if !snapshot.RenewsAt.Equal(periodEnd) {
		t.Fatalf("expected renews at %v, got %v", periodEnd, snapshot.RenewsAt)
	}
}

func TestExpiredExternalPeriodResetsOnce(t *testing.T) {
	db := setupLedgerDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	lastReset := now.Add(-40 * 24 * time.Hour)
	periodStart := now.Add(-2 * 24 * time.Hour)
	periodEnd := now.Add(-24 * time.Hour)
	seedTenant(t, db, &models.Tenant{
		ID:                 "t1",
		CreditsAvailable:   7,
		MonthlyQuota:       300,
		LastResetAt:        &lastReset,
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
	})

	ledger := NewLedger(db)
	snapshot, errGet := ledger.GetCredits(context.Background(), "t1", "starter")
	if errGet != nil {
		t.Fatalf("get credits: %v", errGet)
	}
	if snapshot.Available != 300 {
		t.Fatalf("expected refill to 300, got %d", snapshot.Available)
	}

	tenant := loadTenant(t, db, "t1")
	if tenant.LastResetAt == nil || !tenant.LastResetAt.UTC().Equal(periodStart) {
		t.Fatalf("expected reset anchored to period start %v, got %v", periodStart, tenant.LastResetAt)
	}

	// The stale external period must not trigger a second refill.
	if errConsume := ledger.Consume(context.Background(), "t1", 10, ConsumeMeta{FeatureKey: "report.generate"}); errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	snapshot, errGet = ledger.GetCredits(context.Background(), "t1", "starter")
	if errGet != nil {
		t.Fatalf("get credits: %v", errGet)
	}
	if snapshot.Available != 290 {
		t.Fatalf("expected 290 after consume without refill, got %d", snapshot.Available)
	}
}

func TestPlanChangeForcesReset(t *testing.T) {
	db := setupLedgerDB(t)
	lastReset := time.Now().UTC().Add(-time.Hour)
	seedTenant(t, db, &models.Tenant{ID: "t1", CreditsAvailable: 40, MonthlyQuota: 300, LastResetAt: &lastReset})

	ledger := NewLedger(db)
	snapshot, errGet := ledger.GetCredits(context.Background(), "t1", "pro")
	if errGet != nil {
		t.Fatalf("get credits: %v", errGet)
	}
	if snapshot.Available != 2000 || snapshot.MonthlyQuota != 2000 {
		t.Fatalf("expected pro quota after plan change, got %+v", snapshot)
	}
	if snapshot.PlanNormalized != "pro" {
		t.Fatalf("expected normalized plan pro, got %s", snapshot.PlanNormalized)
	}
}

func TestFirstResetForFreshTenant(t *testing.T) {
	db := setupLedgerDB(t)
	seedTenant(t, db, &models.Tenant{ID: "t1"})

	ledger := NewLedger(db)
	snapshot, errGet := ledger.GetCredits(context.Background(), "t1", "starter")
	if errGet != nil {
		t.Fatalf("get credits: %v", errGet)
	}
	if snapshot.Available != 300 || snapshot.MonthlyQuota != 300 {
		t.Fatalf("expected first grant, got %+v", snapshot)
	}
	if tenant := loadTenant(t, db, "t1"); tenant.LastResetAt == nil {
		t.Fatal("expected last reset to be set")
	}
}

func TestConsumeConcurrentNeverOverdraws(t *testing.T) {
	db := setupLedgerDB(t)
	lastReset := time.Now().UTC().Add(-time.Hour)
	seedTenant(t, db, &models.Tenant{ID: "t1", CreditsAvailable: 50, MonthlyQuota: 300, LastResetAt: &lastReset})

	ledger := NewLedger(db)
	const workers = 8
	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			meta := ConsumeMeta{FeatureKey: "report.generate", Source: "api", UsageLogID: fmt.Sprintf("consume-%d", id)}
			for {
				errConsume := ledger.Consume(context.Background(), "t1", 10, meta)
				if errConsume == nil {
					atomic.AddInt32(&granted, 1)
					return
				}
				if errors.Is(errConsume, ErrInsufficientCredits) {
					return
				}
				// sqlite reports busy under write contention; retry.
				time.Sleep(5 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	got := atomic.LoadInt32(&granted)
	if got > 5 {
		t.Fatalf("granted %d consumes of 10 against balance 50", got)
	}
	tenant := loadTenant(t, db, "t1")
	if tenant.CreditsAvailable != 50-10*int64(got) {
		t.Fatalf("balance %d does not match %d granted consumes", tenant.CreditsAvailable, got)
	}
	if tenant.CreditsAvailable < 0 {
		t.Fatalf("balance must never go negative, got %d", tenant.CreditsAvailable)
	}

	var entries int64
	if errCount := db.Model(&models.UsageLogEntry{}).Where("tenant_id = ?", "t1").Count(&entries).Error; errCount != nil {
		t.Fatalf("count usage entries: %v", errCount)
	}
	if entries != int64(got) {
		t.Fatalf("expected %d usage entries, got %d", got, entries)
	}
}
