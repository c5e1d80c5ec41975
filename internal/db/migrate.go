package db

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"agent_dashboard/internal/model"
)

// Migrate creates or updates the archive tables
func Migrate(db *gorm.DB) error {
	models := []interface{}{
		&model.ArchivedTask{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logrus.WithField("component", "db").Infof("Database migration completed (%d tables)", len(models))
	return nil
}
