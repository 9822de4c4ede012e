package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/elienai21/Momentum-Premium-sub001/internal/app"
	"github.com/elienai21/Momentum-Premium-sub001/internal/config"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the YAML config file")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.AppConfig{ConfigPath: *configPath}
	if *migrateOnly {
		if err := app.Migrate(ctx, cfg); err != nil {
			log.WithError(err).Fatal("migration failed")
		}
		log.Info("migration complete")
		return
	}

	if err := app.RunServer(ctx, cfg); err != nil {
		log.WithError(err).Fatal("server exited with error")
	}
}
