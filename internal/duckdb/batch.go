package duckdb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/tinytelemetry/logbook/internal/logparse"
	"github.com/tinytelemetry/logbook/internal/model"
	"github.com/tinytelemetry/logbook/internal/partition"
)

// AddBatch stores entries atomically: either every entry is inserted and
// every pattern counter is updated, or nothing is. Partitions needed by the
// batch are created beforehand in their own transaction and survive a
// failed insert. An empty batch is a no-op. Levels that are not canonical
// are normalized before they are stored.
func (s *Store) AddBatch(ctx context.Context, entries []model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return classify(ctx, "add batch", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := make([]time.Time, len(entries))
	for i := range entries {
		stamps[i] = entries[i].Timestamp
	}
	parts := s.planner.Windows(stamps)

	if err := s.ensurePartitions(ctx, parts); err != nil {
		s.log.Error().Err(err).Int("entries", len(entries)).Msg("ensure partitions failed")
		return err
	}

	if err := s.insertBatchTx(ctx, parts, entries); err != nil {
		s.log.Error().Err(err).Int("entries", len(entries)).Msg("batch insert rolled back")
		return err
	}
	return nil
}

// insertBatchTx upserts one pattern per distinct template and inserts the
// entries with one multi-row statement per partition, all in a single
// transaction.
func (s *Store) insertBatchTx(ctx context.Context, parts []model.Partition, entries []model.LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(ctx, "begin batch tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	hashes := make([]uint64, len(entries))
	sightings := make(map[uint64]*Sighting)
	var order []uint64
	for i := range entries {
		e := &entries[i]
		tmpl, h := s.engine.Normalize(e.Message, e.Metadata)
		hashes[i] = h
		ts := e.Timestamp.UTC()
		sg, ok := sightings[h]
		if !ok {
			sightings[h] = &Sighting{
				Template:    tmpl,
				Hash:        h,
				FirstSeen:   ts,
				LastSeen:    ts,
				Level:       canonicalLevel(e.Level),
				Occurrences: 1,
			}
			order = append(order, h)
			continue
		}
		sg.Occurrences++
		if ts.Before(sg.FirstSeen) {
			sg.FirstSeen = ts
		}
		if ts.After(sg.LastSeen) {
			sg.LastSeen = ts
		}
	}

	ids := make(map[uint64]int64, len(order))
	for _, h := range order {
		if err := ctx.Err(); err != nil {
			return classify(ctx, "upsert patterns", err)
		}
		id, err := s.patterns.Upsert(ctx, tx, *sightings[h])
		if err != nil {
			return classify(ctx, "upsert patterns", err)
		}
		ids[h] = id
	}

	byPart := make(map[string][]int, len(parts))
	for i := range entries {
		name := s.planner.Name(entries[i].Timestamp)
		byPart[name] = append(byPart[name], i)
	}

	for _, p := range parts {
		idx := byPart[p.Name]
		if len(idx) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return classify(ctx, "insert rows", err)
		}
		query, args, err := insertStatement(p.Name, entries, idx, hashes, ids)
		if err != nil {
			return classify(ctx, "encode rows", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return classify(ctx, "insert into "+p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(ctx, "commit batch", err)
	}
	committed = true

	s.log.Debug().Int("entries", len(entries)).Int("patterns", len(order)).
		Int("partitions", len(parts)).Msg("batch committed")
	return nil
}

// canonicalLevel passes canonical levels through and normalizes anything
// else, so a stray spelling cannot fail the level constraint.
func canonicalLevel(l model.Level) model.Level {
	if l.Valid() {
		return l
	}
	return logparse.NormalizeLevel(string(l))
}

// insertStatement renders one multi-row INSERT for the entries at idx.
func insertStatement(table string, entries []model.LogEntry, idx []int, hashes []uint64, ids map[uint64]int64) (string, []any, error) {
	cols := len(partition.Columns)
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(partition.QuoteIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(partition.Columns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(idx)*cols)
	for n, i := range idx {
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)

		e := &entries[i]
		md, err := metadataArg(e.Metadata)
		if err != nil {
			return "", nil, err
		}
		args = append(args,
			e.Timestamp.UTC(),
			e.ServiceName,
			string(canonicalLevel(e.Level)),
			e.Message,
			md,
			nullString(e.TraceID),
			nullString(e.SpanID),
			nullString(e.Hostname),
			nullString(e.Environment),
			ids[hashes[i]],
		)
	}
	return b.String(), args, nil
}

func metadataArg(md model.Metadata) (any, error) {
	if md.IsZero() {
		return nil, nil
	}
	data, err := md.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
