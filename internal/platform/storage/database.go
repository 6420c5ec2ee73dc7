package storage

import (
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/storage/migrations"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = "file::memory:"

// Open opens the SQLite database at dsn and applies pending migrations.
// The parent directory of a file DSN is created when missing.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "storage.open", "create data directory", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "open database", err)
	}

	// a single connection keeps in-memory databases coherent across queries
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrations returns a manager with the full schema history registered.
func Migrations(db *gorm.DB) *MigrationManager {
	m := NewMigrationManager(db)
	m.AddMigration(&migrations.Migration001Initial{})
	m.AddMigration(&migrations.Migration002SegmentIndexes{})
	return m
}

// Migrate applies every registered migration that has not run yet.
func Migrate(db *gorm.DB) error {
	return Migrations(db).RunMigrations()
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.KindStorage, "storage.close", "get sql handle", err)
	}
	return sqlDB.Close()
}
