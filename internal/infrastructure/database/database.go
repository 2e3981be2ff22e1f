package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// dirPerm/filePerm keep the database private to the service user.
	dirPerm  = 0750
	filePerm = 0600

	// openVerifyTimeout bounds the initial connectivity ping.
	openVerifyTimeout = 5 * time.Second

	maxIdleConnAge = 30 * time.Minute
)

// DB is the local SQLite store for sensor readings and state history.
// It embeds *sql.DB, so repositories can be handed the raw handle.
type DB struct {
	*sql.DB
	path string
}

// Config maps to the database section of the service config.
type Config struct {
	// Path is the SQLite file location. The parent directory is
	// created on open if missing.
	Path string

	// WALMode enables write-ahead logging so reads don't block the
	// single writer. Recommended on.
	WALMode bool

	// BusyTimeout is how long to wait on a locked database, in seconds.
	BusyTimeout int
}

// Open opens (creating if necessary) the SQLite database described by
// cfg, applies the connection pragmas, and verifies connectivity with a
// bounded ping. The file is chmodded to owner-only once it exists.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas ride on the DSN, see mattn/go-sqlite3 connection string docs.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	handle, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer; a pool of one avoids lock churn from
	// our own connections.
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)
	handle.SetConnMaxLifetime(time.Hour)
	handle.SetConnMaxIdleTime(maxIdleConnAge)

	db := &DB{DB: handle, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), openVerifyTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		handle.Close() //nolint:errcheck // best effort on the error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// On the very first run the file may not exist until the first
	// write, so a chmod failure here is not an error.
	_ = os.Chmod(cfg.Path, filePerm)

	return db, nil
}

// Close releases the underlying connection. Safe on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to prove the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
