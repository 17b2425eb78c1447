package main

import (
	"context"

	"github.com/tinytelemetry/logbook/internal/duckdb"
	"github.com/tinytelemetry/logbook/internal/journal"
	"github.com/tinytelemetry/logbook/internal/logger"
	"github.com/tinytelemetry/logbook/internal/model"
)

// replayJournal stores entries left uncommitted by a previous run and
// commits them batch by batch. It returns the number replayed.
func replayJournal(ctx context.Context, j *journal.Journal, store *duckdb.Store, batchSize int) (int, error) {
	if j == nil {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}

	batch := make([]model.LogEntry, 0, batchSize)
	first := j.Committed() + 1
	last := uint64(0)
	replayed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.AddBatch(ctx, batch); err != nil {
			return err
		}
		if err := j.Commit(first, last); err != nil {
			return err
		}
		replayed += len(batch)
		batch = batch[:0]
		first = last + 1
		return nil
	}

	if err := j.Replay(func(seq uint64, entry model.LogEntry) error {
		batch = append(batch, entry)
		last = seq
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	}); err != nil {
		return replayed, err
	}
	if err := flush(); err != nil {
		return replayed, err
	}

	if replayed > 0 {
		log := logger.Component("journal")
		log.Info().Int("entries", replayed).Msg("replayed uncommitted entries")
	}
	return replayed, nil
}
