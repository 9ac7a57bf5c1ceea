package database

import (
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/lamplight-labs/duet/internal/journal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection, performs schema migrations,
// and seeds the singleton couple state on first boot.
func OpenSQLite(path string, clock func() time.Time, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if clock == nil {
		clock = time.Now
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&journal.CoupleState{}, &journal.Question{}, &journal.Answer{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if err := seedCoupleState(db, clock, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// seedCoupleState inserts the aggregate row once. The last streak update
// is seeded to yesterday so the very first qualifying answer can start
// the streak at 1 the same day.
func seedCoupleState(db *gorm.DB, clock func() time.Time, logger *zap.Logger) error {
	var existing journal.CoupleState
	err := db.Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	state := journal.NewInitialCoupleState(journal.DayBefore(clock()))
	if err := db.Create(&state).Error; err != nil {
		return err
	}
	if logger != nil {
		logger.Info("couple state seeded",
			zap.String("last_streak_update_date", state.LastStreakUpdateDate))
	}
	return nil
}
