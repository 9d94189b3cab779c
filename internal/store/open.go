// Package store persists structural models with Move-then-Insert archival,
// and derived templates in a second, independent store.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/nethalo/sqlforge/internal/mysql"
)

// Supported backends.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Schema kinds; each has its own migration directory per backend.
const (
	kindActive  = "active"
	kindDerived = "derived"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed migrations/*/*/*.sql
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Options selects and configures a backend.
type Options struct {
	Driver string
	Path   string // sqlite file, or ":memory:"
	MySQL  mysql.ConnectionConfig
}

func openDB(ctx context.Context, opts Options) (*sql.DB, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return openSQLite(ctx, opts.Path)
	case DriverMySQL:
		return mysql.Connect(ctx, opts.MySQL)
	default:
		return nil, fmt.Errorf("unsupported store driver %q (want %s or %s)", opts.Driver, DriverSQLite, DriverMySQL)
	}
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store path is empty")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection: an in-memory database lives and dies with it, and
	// writes are single-writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

func dialectFor(driver string) string {
	if driver == DriverMySQL {
		return DriverMySQL
	}
	return DriverSQLite
}

// migrate runs the embedded migrations for one schema kind.
func migrate(ctx context.Context, db *sql.DB, dialect, kind string) error {
	dir := "migrations/" + dialect + "/" + kind
	if _, err := fs.Stat(migrationsFS, dir); err != nil {
		return fmt.Errorf("no migrations for %s/%s: %w", dialect, kind, err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())

	gooseDialect := "sqlite3"
	if dialect == DriverMySQL {
		gooseDialect = "mysql"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	// Active and derived schemas may share one MySQL database; their version
	// ranges are disjoint, so either may be applied first.
	if err := goose.UpContext(ctx, db, dir, goose.WithAllowMissing()); err != nil {
		return fmt.Errorf("failed to run %s migrations: %w", kind, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}
