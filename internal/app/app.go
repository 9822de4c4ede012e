package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/elienai21/Momentum-Premium-sub001/internal/billing"
	"github.com/elienai21/Momentum-Premium-sub001/internal/cache"
	"github.com/elienai21/Momentum-Premium-sub001/internal/charge"
	"github.com/elienai21/Momentum-Premium-sub001/internal/config"
	"github.com/elienai21/Momentum-Premium-sub001/internal/credits"
	"github.com/elienai21/Momentum-Premium-sub001/internal/db"
	internalhttp "github.com/elienai21/Momentum-Premium-sub001/internal/http"
	"github.com/elienai21/Momentum-Premium-sub001/internal/settings"
	"github.com/elienai21/Momentum-Premium-sub001/internal/store"
	"github.com/elienai21/Momentum-Premium-sub001/internal/sweeper"
	internalusage "github.com/elienai21/Momentum-Premium-sub001/internal/usage"
	"github.com/elienai21/Momentum-Premium-sub001/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the credit metering service: database, billing cache,
// webhook intake, reconciliation sweeper, and the HTTP surface.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	fileCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(fileCfg.Log)

	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := settings.RefreshSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("settings snapshot refresh failed, using defaults")
	}

	billingCache := buildBillingCache(ctx, fileCfg.Redis)

	tenantStore := store.NewTenantStore(conn)
	ledger := credits.NewLedger(conn)
	gate := charge.NewGate(ledger, charge.NewCostTable(fileCfg.FeatureCosts))
	intake := billing.NewIntake(tenantStore, billingCache, fileCfg.Stripe.WebhookSecret)

	if fileCfg.SweepOff {
		log.Info("billing reconciliation sweep disabled by config")
	} else if fileCfg.Stripe.APIKey == "" {
		log.Warn("stripe api-key not configured, billing reconciliation sweep disabled")
	} else {
		lister := sweeper.NewStripeLister(fileCfg.Stripe.APIKey)
		sweeper.NewSweeper(tenantStore, billingCache, lister).Start(ctx)
		log.Infof("billing reconciliation sweep enabled (stripe key=%s)", util.MaskSecret(fileCfg.Stripe.APIKey))
	}
	internalusage.NewRetentionCleaner(conn).Start(ctx)

	if !fileCfg.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	internalhttp.RegisterRoutes(engine, internalhttp.Deps{
		Store:   tenantStore,
		Ledger:  ledger,
		Gate:    gate,
		Intake:  intake,
		Cache:   billingCache,
		Invoker: ackInvoker{},
	})

	log.Infof("starting credit metering server on %s (config=%s)", fileCfg.Listen, configPath)
	return runHTTPServer(ctx, engine, fileCfg.Listen)
}

// buildBillingCache returns a redis-backed cache when configured, falling back
// to the in-process cache so reads never depend on redis availability.
func buildBillingCache(ctx context.Context, cfg config.RedisConfig) cache.Service {
	if cfg.Addr == "" {
		return cache.NewMemoryCache(cache.DefaultTTL)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		log.WithError(errPing).Warn("redis unreachable, using in-process billing cache")
		_ = client.Close()
		return cache.NewMemoryCache(cache.DefaultTTL)
	}
	return cache.NewRedisCache(client, cache.DefaultTTL)
}

// setupLogging configures logrus output, optionally rotating to a file.
func setupLogging(cfg config.LogConfig) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	if cfg.File == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
}

// ackInvoker acknowledges metered invocations. Actual feature execution lives
// in the upstream product service; this deployment only meters and charges.
type ackInvoker struct{}

func (ackInvoker) Invoke(_ context.Context, featureKey string, _ json.RawMessage) (json.RawMessage, error) {
	receipt := map[string]any{"feature": featureKey, "accepted": true}
	raw, errMarshal := json.Marshal(receipt)
	if errMarshal != nil {
		return nil, fmt.Errorf("invoker: marshal receipt: %w", errMarshal)
	}
	return raw, nil
}
