package dbhelper

import (
	"time"

	"roopapi/models"
	"roopapi/services"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupDB opens the device database. Everything the daemon persists locally
// lives here: the fixed-key look slot, generation jobs and session records.
func SetupDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(
		services.GetEnv("DEVICE_DB_PATH", "roopai.db"),
	), &gorm.Config{})
	if err != nil {
		panic(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetMaxOpenConns(8)
	sqlDB.SetConnMaxLifetime(time.Minute * 5)
	db.Logger.LogMode(logger.LogLevel(logger.Warn))

	migrateAll(db)
	return db
}

func SetupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		panic(err)
	}
	migrateAll(db)
	return db
}

func migrateAll(db *gorm.DB) {
	Migrate(db, &models.DeviceSlot{})
	Migrate(db, &models.Generation{})
	Migrate(db, &models.UserSession{})
	Migrate(db, &models.UserPushToken{})
}
