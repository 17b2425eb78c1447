package duckdb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/tinytelemetry/logbook/internal/model"
	"github.com/tinytelemetry/logbook/internal/partition"
	"github.com/tinytelemetry/logbook/internal/query"
)

const selectColumns = `timestamp, service_name, level, message, CAST(metadata AS VARCHAR),
	trace_id, span_id, hostname, environment, pattern_id`

// SearchSQL builds the statement Search runs for opts. The filter
// expression is compiled to a parameterized predicate; values are never
// interpolated.
func SearchSQL(opts model.SearchOpts) (string, []any, error) {
	where, err := query.Compile(opts.Query)
	if err != nil {
		return "", nil, err
	}

	var conds []string
	args := where.Args()
	if !where.Empty() {
		conds = append(conds, "("+where.SQL+")")
	}
	if !opts.From.IsZero() {
		conds = append(conds, "timestamp >= $from_ts")
		args = append(args, sql.Named("from_ts", opts.From.UTC()))
	}
	if !opts.To.IsZero() {
		conds = append(conds, "timestamp < $to_ts")
		args = append(args, sql.Named("to_ts", opts.To.UTC()))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = model.DefaultSearchLimit
	}
	offset := max(opts.Offset, 0)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumns)
	b.WriteString(" FROM ")
	b.WriteString(partition.ViewName)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY timestamp DESC LIMIT $lim OFFSET $off")
	args = append(args, sql.Named("lim", limit), sql.Named("off", offset))
	return b.String(), args, nil
}

// Search returns entries matching opts, newest first.
func (s *Store) Search(ctx context.Context, opts model.SearchOpts) ([]model.LogEntry, error) {
	stmt, args, err := SearchSQL(opts)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(ctx, "search", err)
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify(ctx, "scan entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "search", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (model.LogEntry, error) {
	var (
		e                          model.LogEntry
		level                      string
		md, trace, span, host, env sql.NullString
		patternID                  sql.NullInt64
	)
	if err := rows.Scan(&e.Timestamp, &e.ServiceName, &level, &e.Message, &md,
		&trace, &span, &host, &env, &patternID); err != nil {
		return e, err
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Level = model.Level(level)
	e.TraceID = trace.String
	e.SpanID = span.String
	e.Hostname = host.String
	e.Environment = env.String
	e.PatternID = patternID.Int64
	if md.Valid {
		meta, err := model.ParseMetadata([]byte(md.String))
		if err != nil {
			return e, err
		}
		e.Metadata = meta
	}
	return e, nil
}
