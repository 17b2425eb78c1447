package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tinytelemetry/logbook/internal/model"
)

// DBTX is the subset of *sql.DB and *sql.Tx the pattern store needs.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Sighting is the batch-aggregated observation of one template.
type Sighting struct {
	Template    string
	Hash        uint64
	FirstSeen   time.Time
	LastSeen    time.Time
	Level       model.Level
	Occurrences int64
}

// PatternUpserter records sightings and returns the pattern id.
type PatternUpserter interface {
	Upsert(ctx context.Context, tx DBTX, s Sighting) (int64, error)
}

// PatternStore upserts into log_patterns keyed by template hash. The first
// sighting's template and level are retained; later sightings only move
// the counters and the seen range.
type PatternStore struct{}

const upsertPatternSQL = `INSERT INTO log_patterns (template, hash, first_seen, last_seen, occurrence_count, level)
VALUES ($template, $hash, $first_seen, $last_seen, $occurrences, $level)
ON CONFLICT (hash) DO UPDATE SET
	occurrence_count = occurrence_count + EXCLUDED.occurrence_count,
	first_seen = LEAST(first_seen, EXCLUDED.first_seen),
	last_seen = GREATEST(last_seen, EXCLUDED.last_seen)
RETURNING id`

// Upsert inserts or updates the pattern for s.Hash inside tx.
func (PatternStore) Upsert(ctx context.Context, tx DBTX, s Sighting) (int64, error) {
	occ := s.Occurrences
	if occ < 1 {
		occ = 1
	}
	last := s.LastSeen
	if last.Before(s.FirstSeen) {
		last = s.FirstSeen
	}

	var id int64
	err := tx.QueryRowContext(ctx, upsertPatternSQL,
		sql.Named("template", s.Template),
		sql.Named("hash", int64(s.Hash)),
		sql.Named("first_seen", s.FirstSeen.UTC()),
		sql.Named("last_seen", last.UTC()),
		sql.Named("occurrences", occ),
		sql.Named("level", string(s.Level)),
	).Scan(&id)
	if err != nil {
		return 0, classify(ctx, fmt.Sprintf("upsert pattern %016x", s.Hash), err)
	}
	return id, nil
}

const patternColumns = `id, template, hash, first_seen, last_seen, occurrence_count, level`

func scanPattern(rows *sql.Rows) (model.LogPattern, error) {
	var (
		p     model.LogPattern
		hash  int64
		level sql.NullString
	)
	if err := rows.Scan(&p.ID, &p.Template, &hash, &p.FirstSeen, &p.LastSeen, &p.OccurrenceCount, &level); err != nil {
		return p, err
	}
	p.Hash = uint64(hash)
	p.FirstSeen = p.FirstSeen.UTC()
	p.LastSeen = p.LastSeen.UTC()
	p.Level = model.Level(level.String)
	return p, nil
}

// TopPatterns returns the most frequent patterns, ties broken by first
// insertion. A non-positive limit uses the default search limit.
func (s *Store) TopPatterns(ctx context.Context, limit int) ([]model.LogPattern, error) {
	if limit <= 0 {
		limit = model.DefaultSearchLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM log_patterns ORDER BY occurrence_count DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, classify(ctx, "top patterns", err)
	}
	defer rows.Close()

	var out []model.LogPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, classify(ctx, "scan pattern", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "top patterns", err)
	}
	return out, nil
}

// PatternByHash returns the stored pattern for hash.
func (s *Store) PatternByHash(ctx context.Context, hash uint64) (model.LogPattern, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+patternColumns+` FROM log_patterns WHERE hash = ?`, int64(hash))
	if err != nil {
		return model.LogPattern{}, false, classify(ctx, "pattern by hash", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return model.LogPattern{}, false, classify(ctx, "pattern by hash", rows.Err())
	}
	p, err := scanPattern(rows)
	if err != nil {
		return model.LogPattern{}, false, classify(ctx, "scan pattern", err)
	}
	return p, true, nil
}
