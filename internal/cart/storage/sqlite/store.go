// Package sqlite persists the cart event journal and the cart read model
// in two separate SQLite databases.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/storage/sqlite/migrations"
	"github.com/tkarolak/cartledger/internal/platform/storage/sqlitemigrate"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// toMillis normalizes timestamps to UTC millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// EventStore is the SQLite-backed append-only cart event journal. The same
// database file also holds the projection outbox so journal appends and
// outbox enqueues share one transaction.
type EventStore struct {
	sqlDB *sql.DB
}

// ReadModelStore is the SQLite-backed cart read model, kept in a database
// file separate from the journal.
type ReadModelStore struct {
	sqlDB *sql.DB
}

// OpenEvents opens the event journal database and applies embedded migrations.
func OpenEvents(path string) (*EventStore, error) {
	sqlDB, err := openDB(path, migrations.Events, "events")
	if err != nil {
		return nil, err
	}
	return &EventStore{sqlDB: sqlDB}, nil
}

// OpenProjections opens the read model database and applies embedded migrations.
func OpenProjections(path string) (*ReadModelStore, error) {
	sqlDB, err := openDB(path, migrations.Projections, "projections")
	if err != nil {
		return nil, err
	}
	return &ReadModelStore{sqlDB: sqlDB}, nil
}

func openDB(path string, migrationFS fs.FS, migrationRoot string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	// _txlock=immediate takes the write lock at BEGIN so concurrent
	// appenders queue on busy_timeout instead of failing mid-transaction.
	dsn := cleanPath + "?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrationFS, migrationRoot); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

// Close releases the underlying database handle.
func (s *EventStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Close releases the underlying database handle.
func (s *ReadModelStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
