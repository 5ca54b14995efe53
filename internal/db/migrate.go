package db

import (
	"contest/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Contest{},
		&models.Account{},
		&models.QueueStatus{},
		&models.ActiveQueue{},
		&models.UpdateHistory{},
		&models.SchedulerState{},
	)
}
