package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/tinytelemetry/logbook/internal/duckdb/migrate"
	"github.com/tinytelemetry/logbook/internal/logger"
	"github.com/tinytelemetry/logbook/internal/model"
	"github.com/tinytelemetry/logbook/internal/partition"
	"github.com/tinytelemetry/logbook/internal/template"
)

// Store manages the DuckDB database connection. It owns the partitioned
// log table, the pattern table and the partition registry.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	dbPath  string
	planner partition.Planner
	engine  *template.Engine
	log     zerolog.Logger

	// patterns is swapped in tests to observe upserts.
	patterns PatternUpserter

	// known holds partitions already created; guarded by mu.
	known map[string]struct{}
}

// StoreConfig holds tunable parameters for the store.
type StoreConfig struct {
	PartitionWidthDays int
}

var (
	_ model.LogWriter = (*Store)(nil)
	_ model.LogReader = (*Store)(nil)
)

// NewStore opens or creates a DuckDB database.
// If dbPath is empty, an in-memory database is used.
func NewStore(dbPath string, conf ...StoreConfig) (*Store, error) {
	width := model.DefaultPartitionWidthDays
	if len(conf) > 0 && conf[0].PartitionWidthDays > 0 {
		width = conf[0].PartitionWidthDays
	}
	planner, err := partition.New(width)
	if err != nil {
		return nil, err
	}

	dsn := ""
	if dbPath != "" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %w", ErrStorage, dir, err)
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrStorage, err)
	}

	s := &Store{
		db:       db,
		dbPath:   dbPath,
		planner:  planner,
		engine:   template.New(),
		log:      logger.Component("duckdb"),
		patterns: PatternStore{},
		known:    make(map[string]struct{}),
	}

	ctx := context.Background()
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if err := migrate.NewRunner(s.db).Run(ctx); err != nil {
		return fmt.Errorf("%w: migrate: %w", ErrStorage, err)
	}
	if _, err := s.db.ExecContext(ctx, partition.RootDDL()); err != nil {
		return fmt.Errorf("%w: root table: %w", ErrStorage, err)
	}

	names, err := registeredNames(ctx, s.db)
	if err != nil {
		return err
	}
	for _, n := range names {
		s.known[n] = struct{}{}
	}
	if err := rebuildView(ctx, s.db, names); err != nil {
		return err
	}

	s.log.Debug().
		Str("path", s.dbPath).
		Int("partition_width_days", s.planner.WidthDays()).
		Int("partitions", len(names)).
		Msg("store opened")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct query access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// PartitionWidthDays returns the configured partition width.
func (s *Store) PartitionWidthDays() int {
	return s.planner.WidthDays()
}
