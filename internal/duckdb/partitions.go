package duckdb

import (
	"context"
	"fmt"

	"github.com/tinytelemetry/logbook/internal/model"
	"github.com/tinytelemetry/logbook/internal/partition"
)

// ensurePartitions creates the partitions in parts that this store has not
// seen yet, registers them and rebuilds the logs view. It commits in its
// own transaction, so a later rollback of the row insert leaves the
// partitions in place. Callers hold s.mu for writing.
func (s *Store) ensurePartitions(ctx context.Context, parts []model.Partition) error {
	var missing []model.Partition
	for _, p := range parts {
		if _, ok := s.known[p.Name]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(ctx, "begin partition tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, p := range missing {
		for _, stmt := range partition.DDL(p) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return classify(ctx, "create partition "+p.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO log_partitions (name, range_start, range_end, width_days)
VALUES (?, ?, ?, ?) ON CONFLICT (name) DO NOTHING`, p.Name, p.Start, p.End, p.WidthDays); err != nil {
			return classify(ctx, "register partition "+p.Name, err)
		}
	}

	names, err := registeredNames(ctx, tx)
	if err != nil {
		return err
	}
	if err := rebuildView(ctx, tx, names); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(ctx, "commit partitions", err)
	}
	committed = true

	for _, p := range missing {
		s.known[p.Name] = struct{}{}
		s.log.Info().Str("partition", p.Name).
			Time("start", p.Start).Time("end", p.End).
			Msg("partition created")
	}
	return nil
}

func registeredNames(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM log_partitions ORDER BY range_start, name`)
	if err != nil {
		return nil, classify(ctx, "list partitions", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, classify(ctx, "scan partition", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "list partitions", err)
	}
	return names, nil
}

func rebuildView(ctx context.Context, q DBTX, names []string) error {
	ddl, err := partition.ViewDDL(names)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if _, err := q.ExecContext(ctx, ddl); err != nil {
		return classify(ctx, "rebuild view", err)
	}
	return nil
}

// Partitions lists the registered partitions ordered by range start.
func (s *Store) Partitions(ctx context.Context) ([]model.Partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, range_start, range_end, width_days FROM log_partitions ORDER BY range_start, name`)
	if err != nil {
		return nil, classify(ctx, "partitions", err)
	}
	defer rows.Close()

	var out []model.Partition
	for rows.Next() {
		var p model.Partition
		if err := rows.Scan(&p.Name, &p.Start, &p.End, &p.WidthDays); err != nil {
			return nil, classify(ctx, "scan partition", err)
		}
		p.Start = p.Start.UTC()
		p.End = p.End.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "partitions", err)
	}
	return out, nil
}
