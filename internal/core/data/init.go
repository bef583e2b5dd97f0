// Package data is the persistence layer for accounts, characters and map
// locations. Functions take the *gorm.DB to run against so that callers can pass
// either the root connection or an open transaction.
package data

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrDuplicateRecords is returned alongside the first record when a lookup that
// should match at most one row matched several.
var ErrDuplicateRecords = errors.New("multiple records matched a unique lookup")

// NewDialector selects the gorm driver for engine. For sqlite dsn is the path of
// the database file, for postgres it is a connection string.
func NewDialector(engine, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(engine) {
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", engine)
	}
}

// Open connects to the database and migrates the schema.
func Open(dialector gorm.Dialector, debug bool) (*gorm.DB, error) {
	// By default only log errors but enable full SQL query prints-to-console with debug mode
	log := logger.Default.LogMode(logger.Error)
	if debug {
		log = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables for every model.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Player{}, &Location{}, &Character{}); err != nil {
		return fmt.Errorf("error auto migrating db: %w", err)
	}
	return nil
}

func Close(db *gorm.DB) error {
	database, err := db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}
	return nil
}
