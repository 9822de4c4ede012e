package charge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/elienai21/Momentum-Premium-sub001/internal/credits"

	log "github.com/sirupsen/logrus"
)

// Params describes one metered feature invocation.
type Params struct {
	TenantID       string
	Plan           string
	FeatureKey     string
	Cost           *int64 // Explicit cost override; nil means use the cost table.
	IdempotencyKey string // Stable per logical user action to make retries charge-safe.
	TraceID        string
	Source         string
}

// AfterOperationError reports the accepted race where the paid operation
// succeeded but the post-operation consume failed because a concurrent request
// exhausted the balance first. It represents delivered value that could not be
// billed and must be logged distinctly from a pre-flight rejection.
type AfterOperationError struct {
	TenantID   string
	FeatureKey string
	cause      error
}

func (e *AfterOperationError) Error() string {
	return fmt.Sprintf("charge: operation succeeded but consume failed (tenant=%s feature=%s): %v", e.TenantID, e.FeatureKey, e.cause)
}

func (e *AfterOperationError) Unwrap() error { return e.cause }

// Gate orchestrates check -> paid operation -> consume. It is the only entry
// point feature code should use.
type Gate struct {
	ledger *credits.Ledger
	costs  *CostTable
}

// NewGate constructs a Gate.
func NewGate(ledger *credits.Ledger, costs *CostTable) *Gate {
	return &Gate{ledger: ledger, costs: costs}
}

// EnsureCredits is the read-only precheck. On insufficiency it returns the
// typed 402/NO_CREDITS error.
func (g *Gate) EnsureCredits(ctx context.Context, tenantID string, amount int64, featureKey, plan string) error {
	if g == nil || g.ledger == nil {
		return errors.New("charge: gate not initialized")
	}
	if amount <= 0 {
		amount = g.costs.Cost(featureKey)
	}
	return g.ledger.Check(ctx, tenantID, plan, amount)
}

// resolveCost picks the explicit override or the configured feature cost.
func (g *Gate) resolveCost(params Params) int64 {
	if params.Cost != nil {
		return *params.Cost
	}
	return g.costs.Cost(params.FeatureKey)
}

// usageLogID derives the idempotency key for the usage log entry.
func usageLogID(params Params) string {
	if key := strings.TrimSpace(params.IdempotencyKey); key != "" {
		return key
	}
	traceID := strings.TrimSpace(params.TraceID)
	featureKey := strings.TrimSpace(params.FeatureKey)
	if traceID != "" && featureKey != "" {
		return traceID + ":" + featureKey
	}
	return ""
}

// ChargeCredits runs a paid operation behind the credit gate: fail-fast
// availability check, the operation itself, then an atomic consume on success.
// Operation errors propagate untouched and consume nothing.
//
// The check and the consume are not one atomic reservation. A concurrent
// request can drain the balance between them; the consume transaction still
// keeps the balance non-negative, but the operation has already run. That
// failure mode surfaces as *AfterOperationError, never silently.
func ChargeCredits[T any](ctx context.Context, gate *Gate, params Params, operation func(context.Context) (T, error)) (T, error) {
	var zero T
	if gate == nil || gate.ledger == nil {
		return zero, errors.New("charge: gate not initialized")
	}

	cost := gate.resolveCost(params)
	if errCheck := gate.ledger.Check(ctx, params.TenantID, params.Plan, cost); errCheck != nil {
		return zero, errCheck
	}

	result, errOp := operation(ctx)
	if errOp != nil {
		return zero, errOp
	}

	errConsume := gate.ledger.Consume(ctx, params.TenantID, cost, credits.ConsumeMeta{
		FeatureKey: params.FeatureKey,
		Source:     params.Source,
		UsageLogID: usageLogID(params),
	})
	if errConsume != nil {
		if errors.Is(errConsume, credits.ErrInsufficientCredits) {
			log.WithFields(log.Fields{
				"tenant":  params.TenantID,
				"feature": params.FeatureKey,
				"cost":    cost,
			}).Error("charge: consume failed after successful operation")
			return zero, &AfterOperationError{TenantID: params.TenantID, FeatureKey: params.FeatureKey, cause: errConsume}
		}
		log.WithError(errConsume).Warnf("charge: consume failed (tenant=%s feature=%s)", params.TenantID, params.FeatureKey)
		return zero, errConsume
	}

	return result, nil
}
