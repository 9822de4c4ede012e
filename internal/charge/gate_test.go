package charge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/elienai21/Momentum-Premium-sub001/internal/credits"
	"github.com/elienai21/Momentum-Premium-sub001/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupGateDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:gate_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Tenant{}, &models.UsageLogEntry{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func seedGateTenant(t *testing.T, db *gorm.DB, available int64) {
	t.Helper()
	lastReset := time.Now().UTC().Add(-time.Hour)
	tenant := &models.Tenant{
		ID:               "t1",
		Name:             "Acme",
		Plan:             "starter",
		CreditsAvailable: available,
		MonthlyQuota:     300,
		LastResetAt:      &lastReset,
	}
	if errCreate := db.Create(tenant).Error; errCreate != nil {
		t.Fatalf("seed tenant: %v", errCreate)
	}
}

func gateBalance(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var tenant models.Tenant
	if errFind := db.Where("id = ?", "t1").First(&tenant).Error; errFind != nil {
		t.Fatalf("load tenant: %v", errFind)
	}
	return tenant.CreditsAvailable
}

func TestChargeCreditsSuccess(t *testing.T) {
	db := setupGateDB(t)
	seedGateTenant(t, db, 100)
	gate := NewGate(credits.NewLedger(db), NewCostTable(map[string]int64{"report.generate": 10}))

	invoked := false
	out, errCharge := ChargeCredits(context.Background(), gate, Params{
		TenantID:   "t1",
		Plan:       "starter",
		FeatureKey: "report.generate",
	}, func(context.Context) (string, error) {
		invoked = true
		return "done", nil
	})
	if errCharge != nil {
		t.Fatalf("charge: %v", errCharge)
	}
	if !invoked || out != "done" {
		t.Fatalf("expected operation result, got invoked=%v out=%q", invoked, out)
	}
	if balance := gateBalance(t, db); balance != 90 {
		t.Fatalf("expected balance 90, got %d", balance)
	}
}

func TestChargeCreditsRejectsBeforeOperation(t *testing.T) {
	db := setupGateDB(t)
	seedGateTenant(t, db, 5)
	gate := NewGate(credits.NewLedger(db), NewCostTable(map[string]int64{"report.generate": 10}))

	invoked := false
	_, errCharge := ChargeCredits(context.Background(), gate, Params{
		TenantID:   "t1",
		Plan:       "starter",
		FeatureKey: "report.generate",
	}, func(context.Context) (string, error) {
		invoked = true
		return "done", nil
	})
	if !errors.Is(errCharge, credits.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits error, got %v", errCharge)
	}
	if invoked {
		t.Fatal("operation must not run when the precheck fails")
	}
	if balance := gateBalance(t, db); balance != 5 {
		t.Fatalf("balance must be unchanged, got %d", balance)
	}
}

func TestChargeCreditsOperationErrorConsumesNothing(t *testing.T) {
	db := setupGateDB(t)
	seedGateTenant(t, db, 100)
	gate := NewGate(credits.NewLedger(db), NewCostTable(map[string]int64{"report.generate": 10}))

	errBoom := errors.New("upstream failed")
	_, errCharge := ChargeCredits(context.Background(), gate, Params{
		TenantID:   "t1",
		Plan:       "starter",
		FeatureKey: "report.generate",
	}, func(context.Context) (string, error) {
		return "", errBoom
	})
	if !errors.Is(errCharge, errBoom) {
		t.Fatalf("expected operation error to propagate, got %v", errCharge)
	}
	if balance := gateBalance(t, db); balance != 100 {
		t.Fatalf("balance must be unchanged, got %d", balance)
	}
}

func TestChargeCreditsConcurrentDrainSurfacesAfterOperationError(t *testing.T) {
	db := setupGateDB(t)
	seedGateTenant(t, db, 10)
	ledger := credits.NewLedger(db)
	gate := NewGate(ledger, NewCostTable(map[string]int64{"report.generate": 10}))

	// The operation itself drains the balance, standing in for a concurrent
	// request that consumed between the check and the consume.
	_, errCharge := ChargeCredits(context.Background(), gate, Params{
		TenantID:   "t1",
		Plan:       "starter",
		FeatureKey: "report.generate",
	}, func(ctx context.Context) (string, error) {
		errDrain := ledger.Consume(ctx, "t1", 10, credits.ConsumeMeta{FeatureKey: "other", UsageLogID: "drain-1"})
		return "done", errDrain
	})

	var afterOp *AfterOperationError
	if !errors.As(errCharge, &afterOp) {
		t.Fatalf("expected *AfterOperationError, got %v", errCharge)
	}
	if !errors.Is(errCharge, credits.ErrInsufficientCredits) {
		t.Fatalf("expected cause to unwrap to insufficient credits, got %v", errCharge)
	}
	if balance := gateBalance(t, db); balance != 0 {
		t.Fatalf("balance must never go negative, got %d", balance)
	}
}

func TestChargeCreditsExplicitCostOverride(t *testing.T) {
	db := setupGateDB(t)
	seedGateTenant(t, db, 100)
	gate := NewGate(credits.NewLedger(db), NewCostTable(map[string]int64{"report.generate": 10}))

	cost := int64(30)
	_, errCharge := ChargeCredits(context.Background(), gate, Params{
		TenantID:   "t1",
		Plan:       "starter",
		FeatureKey: "report.generate",
		Cost:       &cost,
	}, func(context.Context) (string, error) {
		return "done", nil
	})
	if errCharge != nil {
		t.Fatalf("charge: %v", errCharge)
	}
	if balance := gateBalance(t, db); balance != 70 {
		t.Fatalf("expected balance 70, got %d", balance)
	}
}

func TestChargeCreditsIdempotentRetry(t *testing.T) {
	db := setupGateDB(t)
	seedGateTenant(t, db, 100)
	gate := NewGate(credits.NewLedger(db), NewCostTable(map[string]int64{"report.generate": 10}))

	params := Params{
		TenantID:       "t1",
		Plan:           "starter",
		FeatureKey:     "report.generate",
		IdempotencyKey: "user-action-42",
	}
	for i := 0; i < 2; i++ {
		if _, errCharge := ChargeCredits(context.Background(), gate, params, func(context.Context) (string, error) {
			return "done", nil
		}); errCharge != nil {
			t.Fatalf("charge attempt %d: %v", i+1, errCharge)
		}
	}
	if balance := gateBalance(t, db); balance != 90 {
		t.Fatalf("retry must charge once, got balance %d", balance)
	}
}

func TestEnsureCredits(t *testing.T) {
	db := setupGateDB(t)
	seedGateTenant(t, db, 10)
	gate := NewGate(credits.NewLedger(db), NewCostTable(map[string]int64{"report.generate": 10}))

	if err := gate.EnsureCredits(context.Background(), "t1", 0, "report.generate", "starter"); err != nil {
		t.Fatalf("expected table cost to pass, got %v", err)
	}
	if err := gate.EnsureCredits(context.Background(), "t1", 11, "report.generate", "starter"); !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
}

func TestUsageLogIDDerivation(t *testing.T) {
	if got := usageLogID(Params{IdempotencyKey: " key-1 "}); got != "key-1" {
		t.Fatalf("expected explicit key, got %q", got)
	}
	if got := usageLogID(Params{TraceID: "trace-1", FeatureKey: "report.generate"}); got != "trace-1:report.generate" {
		t.Fatalf("expected trace-derived key, got %q", got)
	}
	if got := usageLogID(Params{}); got != "" {
		t.Fatalf("expected empty key, got %q", got)
	}
}
