package database

import (
	"fmt"

	"foodrescue/internal/model"
	"foodrescue/pkg/log"
)

// Migrate runs the schema migration for every model.
func Migrate() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	err := DB.AutoMigrate(
		&model.User{},
		&model.Lot{},
		&model.Reservation{},
		&model.RedemptionCredential{},
		&model.Notification{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("Database migration completed")
	return nil
}
