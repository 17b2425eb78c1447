// Package migrate applies the embedded, versioned schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/tinytelemetry/logbook/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Runner applies versioned SQL migrations to a DuckDB database.
type Runner struct{ db *sql.DB }

// NewRunner creates a migration runner for the given database connection.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// Migration is one embedded schema step. The version is the numeric file
// name prefix, e.g. 001 in 001_patterns.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Load returns the embedded migrations in version order.
func Load() ([]Migration, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var migs []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		ver, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("parsing version from %s: %w", e.Name(), err)
		}
		data, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		migs = append(migs, Migration{Version: ver, Name: e.Name(), SQL: string(data)})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	return migs, nil
}

func (r *Runner) bootstrap(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	return err
}

func (r *Runner) appliedVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// Run applies all pending migrations in order. Each migration is executed
// in its own transaction and recorded in schema_migrations.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	migs, err := Load()
	if err != nil {
		return err
	}

	current, err := r.appliedVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading applied version: %w", err)
	}

	log := logger.Component("migrate")
	for _, m := range migs {
		if m.Version <= current {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return err
		}
		log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}

	return nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("executing %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("recording %s: %w", m.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.Name, err)
	}
	return nil
}

// Status returns the current applied version and count of pending migrations.
func (r *Runner) Status(ctx context.Context) (current int, pending int, err error) {
	if err = r.bootstrap(ctx); err != nil {
		return 0, 0, fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	current, err = r.appliedVersion(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("reading applied version: %w", err)
	}

	migs, err := Load()
	if err != nil {
		return 0, 0, err
	}

	for _, m := range migs {
		if m.Version > current {
			pending++
		}
	}

	return current, pending, nil
}
