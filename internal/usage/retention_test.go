package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/elienai21/Momentum-Premium-sub001/internal/models"
	internalsettings "github.com/elienai21/Momentum-Premium-sub001/internal/settings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupRetentionDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:retention_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.UsageLogEntry{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func seedUsageEntry(t *testing.T, db *gorm.DB, id string, createdAt time.Time) {
	t.Helper()
	entry := models.UsageLogEntry{
		ID:              id,
		TenantID:        "t1",
		Type:            "report.generate",
		Source:          "api",
		CreditsConsumed: 1,
		CreatedAt:       createdAt,
	}
	if errCreate := db.Create(&entry).Error; errCreate != nil {
		t.Fatalf("seed entry %s: %v", id, errCreate)
	}
}

func TestCleanupDeletesExpiredEntries(t *testing.T) {
	t.Cleanup(func() { internalsettings.StoreSnapshot(nil) })
	internalsettings.StoreSnapshot(map[string]json.RawMessage{
		internalsettings.UsageRetentionDaysKey: json.RawMessage(`30`),
	})

	db := setupRetentionDB(t)
	now := time.Now().UTC()
	seedUsageEntry(t, db, "old-1", now.AddDate(0, 0, -60))
	seedUsageEntry(t, db, "old-2", now.AddDate(0, 0, -31))
	seedUsageEntry(t, db, "fresh-1", now.AddDate(0, 0, -1))

	cleaner := NewRetentionCleaner(db)
	cleaner.cleanupOnce(context.Background())

	var ids []string
	if errFind := db.Model(&models.UsageLogEntry{}).Order("id ASC").Pluck("id", &ids).Error; errFind != nil {
		t.Fatalf("load ids: %v", errFind)
	}
	if len(ids) != 1 || ids[0] != "fresh-1" {
		t.Fatalf("expected only fresh entry to survive, got %v", ids)
	}
}

func TestCleanupZeroRetentionKeepsEverything(t *testing.T) {
	t.Cleanup(func() { internalsettings.StoreSnapshot(nil) })
	internalsettings.StoreSnapshot(map[string]json.RawMessage{
		internalsettings.UsageRetentionDaysKey: json.RawMessage(`0`),
	})

	db := setupRetentionDB(t)
	seedUsageEntry(t, db, "old-1", time.Now().UTC().AddDate(0, 0, -400))

	cleaner := NewRetentionCleaner(db)
	cleaner.cleanupOnce(context.Background())

	var count int64
	if errCount := db.Model(&models.UsageLogEntry{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count entries: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("retention 0 must disable pruning, got %d rows", count)
	}
}
