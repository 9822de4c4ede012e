package db

import (
	"fmt"

	"github.com/elienai21/Momentum-Premium-sub001/internal/models"
	"gorm.io/gorm"
)

// Migrate applies schema migrations for all persistent models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.Tenant{},
		&models.UsageLogEntry{},
		&models.WebhookEvent{},
		&models.Setting{},
	)
}
