package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqliteParams are appended to file DSNs for the mattn/go-sqlite3 driver.
const sqliteParams = "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
}

// OpenSQLite opens (creating if needed) a SQLite outbox file at path.
// The pool is limited to one long-lived connection; opts are applied after
// that default.
func OpenSQLite(path string, opts ...PoolOption) (*GormStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("outbox: sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?" + sqliteParams
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return NewGormStorageWithPool(db, SQLitePoolConfig(), opts...)
}

// OpenPostgres connects to a PostgreSQL outbox using PostgresPoolConfig.
func OpenPostgres(dsn string, opts ...PoolOption) (*GormStorage, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("outbox: postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormStorageWithPool(db, PostgresPoolConfig(), opts...)
}

// Open dispatches on driver name.
func Open(driver, dsn string, opts ...PoolOption) (*GormStorage, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(dsn, opts...)
	case DriverPostgres:
		return OpenPostgres(dsn, opts...)
	default:
		return nil, fmt.Errorf("outbox: unsupported database driver %q", driver)
	}
}
