package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/elienai21/Momentum-Premium-sub001/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RefreshSnapshot reloads all settings rows from the database into the
// in-memory snapshot. Call at startup; until then the typed accessors serve
// defaults.
func RefreshSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
	}

	StoreSnapshot(values)
	log.Debugf("settings: snapshot refreshed (%d rows)", len(values))
	return nil
}
