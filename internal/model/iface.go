package model

import (
	"context"
	"time"
)

// SearchOpts holds the filter and paging applied to a search.
type SearchOpts struct {
	Query  string    // filter expression; empty = all entries
	From   time.Time // inclusive lower bound; zero = unbounded
	To     time.Time // exclusive upper bound; zero = unbounded
	Limit  int
	Offset int
}

// LogWriter persists batches of log entries atomically.
type LogWriter interface {
	AddBatch(ctx context.Context, entries []LogEntry) error
}

// LogSearcher answers filter-expression searches over stored entries.
type LogSearcher interface {
	Search(ctx context.Context, opts SearchOpts) ([]LogEntry, error)
}

// PatternReader lists stored patterns.
type PatternReader interface {
	TopPatterns(ctx context.Context, limit int) ([]LogPattern, error)
}

// PartitionReader lists the partitions created so far.
type PartitionReader interface {
	Partitions(ctx context.Context) ([]Partition, error)
}

// LogReader is the unified read-side contract.
type LogReader interface {
	LogSearcher
	PatternReader
	PartitionReader
}
