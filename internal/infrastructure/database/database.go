package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600

	// openTimeout bounds the first ping when the caller's context has no
	// earlier deadline.
	openTimeout = 5 * time.Second

	integrityOK = "ok"
)

var (
	// ErrNoPath is returned by Open when Config.Path is empty.
	ErrNoPath = errors.New("database: path is empty")

	// ErrCorrupt is returned by HealthCheck when SQLite's integrity check fails.
	ErrCorrupt = errors.New("database: integrity check failed")
)

// DB is an open journal database.
type DB struct {
	*sql.DB
	path    string
	applied int
}

// Config mirrors the database section of clashxw.yaml.
type Config struct {
	// Path is the SQLite file. Its directory is created if needed.
	Path string

	WALMode bool

	// BusyTimeout is how long a writer waits for the lock, in seconds.
	BusyTimeout int

	// Migrations holds *.up.sql files applied by Open. Nil skips them.
	Migrations fs.FS
}

// Open opens the journal database at cfg.Path, creating the file with
// owner-only permissions, and applies any pending migrations.
//
// Parameters:
//   - ctx: Bounds the connection check and the migrations
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Database with an up-to-date schema
//   - error: ErrNoPath, or a wrapped connection or migration failure
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, ErrNoPath
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The journal has a single writer; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := &DB{DB: sqlDB, path: cfg.Path}
	if err := db.open(ctx, cfg.Migrations); err != nil {
		sqlDB.Close() //nolint:errcheck // Already failing
		return nil, err
	}
	return db, nil
}

func (db *DB) open(ctx context.Context, migrations fs.FS) error {
	pingCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("connecting to %s: %w", db.path, err)
	}

	if err := os.Chmod(db.path, filePermissions); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("restricting permissions on %s: %w", db.path, err)
	}

	if migrations == nil {
		return nil
	}
	n, err := db.Migrate(ctx, migrations)
	if err != nil {
		return fmt.Errorf("migrating %s: %w", db.path, err)
	}
	db.applied = n
	return nil
}

// dsn builds the go-sqlite3 connection string.
// See https://github.com/mattn/go-sqlite3#connection-string
func dsn(cfg Config) string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*int(time.Second/time.Millisecond)))
	params.Set("_foreign_keys", "on")
	if cfg.WALMode {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + params.Encode()
}

// Applied returns the number of migrations Open applied.
func (db *DB) Applied() int {
	return db.applied
}

// Close closes the database. It is safe to call on a nil DB.
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", db.path, err)
	}
	return nil
}

// HealthCheck runs SQLite's quick integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	if result != integrityOK {
		return fmt.Errorf("%w: %s: %s", ErrCorrupt, db.path, result)
	}
	return nil
}
