package db

import (
	"fmt"

	"github.com/zulandar/costdesk/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the registry's GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.ChatSession{},
		&models.ChatTurn{},
	}
}

// AutoMigrate creates or updates the registry tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// PurgeSessions deletes every session row and its turns. serve calls it on
// startup when the registry is a process-local sqlite database.
func PurgeSessions(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.ChatTurn{}).Error; err != nil {
			return fmt.Errorf("db: purge turns: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&models.ChatSession{}).Error; err != nil {
			return fmt.Errorf("db: purge sessions: %w", err)
		}
		return nil
	})
}
