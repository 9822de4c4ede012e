package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/elienai21/Momentum-Premium-sub001/internal/billing"
	"github.com/elienai21/Momentum-Premium-sub001/internal/cache"
	"github.com/elienai21/Momentum-Premium-sub001/internal/charge"
	"github.com/elienai21/Momentum-Premium-sub001/internal/credits"
	"github.com/elienai21/Momentum-Premium-sub001/internal/store"

	"github.com/gin-gonic/gin"
)

// FeatureInvoker runs the paid operation behind a metered feature. The actual
// model invocation is an external collaborator; only this seam is owned here.
type FeatureInvoker interface {
	Invoke(ctx context.Context, featureKey string, input json.RawMessage) (json.RawMessage, error)
}

// Deps carries the wired components handlers depend on.
type Deps struct {
	Store   *store.TenantStore
	Ledger  *credits.Ledger
	Gate    *charge.Gate
	Intake  *billing.Intake
	Cache   cache.Service
	Invoker FeatureInvoker
}

// RegisterRoutes mounts all HTTP endpoints on the engine.
func RegisterRoutes(engine *gin.Engine, deps Deps) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	webhookHandler := NewWebhookHandler(deps.Intake)
	engine.POST("/webhooks/stripe", webhookHandler.Handle)

	creditsHandler := NewCreditsHandler(deps.Store, deps.Ledger, deps.Cache)
	featureHandler := NewFeatureHandler(deps.Store, deps.Gate, deps.Invoker)

	v0 := engine.Group("/v0", TenantMiddleware())
	v0.GET("/credits", creditsHandler.Get)
	v0.POST("/features/:feature", featureHandler.Invoke)
}
