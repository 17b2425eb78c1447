package duckdb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/logbook/internal/model"
	"github.com/tinytelemetry/logbook/internal/query"
	"github.com/tinytelemetry/logbook/internal/template"
)

func newTestStore(t *testing.T, conf ...StoreConfig) *Store {
	t.Helper()
	store, err := NewStore("", conf...)
	if err != nil {
		t.Fatalf("NewStore(\"\") failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func meta(t *testing.T, raw string) model.Metadata {
	t.Helper()
	md, err := model.ParseMetadata([]byte(raw))
	require.NoError(t, err)
	return md
}

func countRows(t *testing.T, store *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// countingUpserter records how often the pattern store is asked to upsert.
type countingUpserter struct {
	mu    sync.Mutex
	inner PatternUpserter
	calls []Sighting
}

func (c *countingUpserter) Upsert(ctx context.Context, tx DBTX, s Sighting) (int64, error) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
	return c.inner.Upsert(ctx, tx, s)
}

var base = time.Date(2025, 1, 12, 14, 0, 0, 0, time.UTC)

func sampleBatch() []model.LogEntry {
	return []model.LogEntry{
		{Timestamp: base, ServiceName: "api", Level: model.LevelWarn, Message: "Retry 1 of 3 failed"},
		{Timestamp: base.Add(time.Second), ServiceName: "api", Level: model.LevelError, Message: "Retry 2 of 3 failed"},
		{Timestamp: base.Add(2 * time.Second), ServiceName: "worker", Level: model.LevelInfo, Message: "Connection established"},
		{Timestamp: base.Add(3 * time.Second), ServiceName: "api", Level: model.LevelError, Message: "Retry 3 of 3 failed"},
	}
}

func TestNewStoreCreatesSchema(t *testing.T) {
	store := newTestStore(t)

	require.Equal(t, 0, countRows(t, store, "logs"))
	require.Equal(t, 0, countRows(t, store, "log_patterns"))
	require.Equal(t, 0, countRows(t, store, "log_partitions"))
	require.Equal(t, 1, store.PartitionWidthDays())
}

func TestNewStoreDefaultsWidth(t *testing.T) {
	store := newTestStore(t, StoreConfig{PartitionWidthDays: -1})
	require.Equal(t, model.DefaultPartitionWidthDays, store.PartitionWidthDays())
}

func TestAddBatchEmptyIsNoop(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddBatch(context.Background(), nil))

	parts, err := store.Partitions(context.Background())
	require.NoError(t, err)
	require.Empty(t, parts)
}

func TestAddBatchUpsertsOncePerTemplate(t *testing.T) {
	store := newTestStore(t)
	counter := &countingUpserter{inner: store.patterns}
	store.patterns = counter

	batch := sampleBatch()
	require.NoError(t, store.AddBatch(context.Background(), batch))

	// 4 entries, 2 distinct templates.
	require.Len(t, counter.calls, 2)
	require.Equal(t, 4, countRows(t, store, "logs"))
	require.Equal(t, 2, countRows(t, store, "log_patterns"))

	retry := counter.calls[0]
	require.Equal(t, "Retry {number} of {number} failed", retry.Template)
	require.EqualValues(t, 3, retry.Occurrences)
	require.Equal(t, base, retry.FirstSeen)
	require.Equal(t, base.Add(3*time.Second), retry.LastSeen)
	require.Equal(t, model.LevelWarn, retry.Level)
}

func TestAddBatchLinksPatternIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddBatch(ctx, sampleBatch()))

	_, hash := template.New().Normalize("Retry 9 of 9 failed", model.Metadata{})
	p, ok, err := store.PatternByHash(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.Search(ctx, model.SearchOpts{Query: `message contains Retry`})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, e := range got {
		require.Equal(t, p.ID, e.PatternID)
	}
}

func TestPatternFirstSightingWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := []model.LogEntry{{Timestamp: base, ServiceName: "api", Level: model.LevelWarn, Message: "Retry 1 of 3 failed"}}
	later := []model.LogEntry{
		{Timestamp: base.Add(time.Hour), ServiceName: "api", Level: model.LevelFatal, Message: "Retry 2 of 3 failed"},
		{Timestamp: base.Add(-time.Hour), ServiceName: "api", Level: model.LevelError, Message: "Retry 3 of 3 failed"},
	}
	require.NoError(t, store.AddBatch(ctx, first))
	require.NoError(t, store.AddBatch(ctx, later))

	patterns, err := store.TopPatterns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	require.Equal(t, "Retry {number} of {number} failed", p.Template)
	require.Equal(t, model.LevelWarn, p.Level)
	require.EqualValues(t, 3, p.OccurrenceCount)
	require.Equal(t, base.Add(-time.Hour), p.FirstSeen)
	require.Equal(t, base.Add(time.Hour), p.LastSeen)
}

// failingUpserter fails every upsert after the first n.
type failingUpserter struct {
	inner PatternUpserter
	n     int
	calls int
}

func (f *failingUpserter) Upsert(ctx context.Context, tx DBTX, sg Sighting) (int64, error) {
	f.calls++
	if f.calls > f.n {
		return 0, errors.New("disk full")
	}
	return f.inner.Upsert(ctx, tx, sg)
}

func TestAddBatchFailureCommitsNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.patterns = &failingUpserter{inner: store.patterns, n: 1}

	err := store.AddBatch(ctx, sampleBatch())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrStorage)

	require.Equal(t, 0, countRows(t, store, "logs"))
	require.Equal(t, 0, countRows(t, store, "log_patterns"))

	// The partition was committed before the rows and stays.
	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, "logs_20250112_1d", parts[0].Name)
}

func TestAddBatchNormalizesLevels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := sampleBatch()
	batch[0].Level = ""
	batch[2].Level = "WARNING"

	require.NoError(t, store.AddBatch(ctx, batch))
	require.Equal(t, 4, countRows(t, store, "logs"))

	got, err := store.Search(ctx, model.SearchOpts{Query: "level = Warn"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Connection established", got[0].Message)

	patterns, err := store.TopPatterns(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, model.LevelInfo, patterns[0].Level, "first sighting had no level")
}

// cancellingUpserter cancels the batch context once it has served n upserts.
type cancellingUpserter struct {
	inner  PatternUpserter
	cancel context.CancelFunc
	n      int
	calls  int
}

func (c *cancellingUpserter) Upsert(ctx context.Context, tx DBTX, sg Sighting) (int64, error) {
	id, err := c.inner.Upsert(ctx, tx, sg)
	c.calls++
	if c.calls == c.n {
		c.cancel()
	}
	return id, err
}

func TestAddBatchCancelledMidTransaction(t *testing.T) {
	tests := []struct {
		name   string
		after  int
		wantOp string
	}{
		// sampleBatch has two distinct templates.
		{"between upserts", 1, "upsert patterns"},
		{"before row insert", 2, "insert rows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			up := &cancellingUpserter{inner: store.patterns, cancel: cancel, n: tt.after}
			store.patterns = up

			err := store.AddBatch(ctx, sampleBatch())
			require.Error(t, err)
			require.ErrorIs(t, err, ErrCancelled)
			require.ErrorIs(t, err, context.Canceled)
			require.Contains(t, err.Error(), tt.wantOp)
			require.Equal(t, tt.after, up.calls)

			require.Equal(t, 0, countRows(t, store, "logs"))
			require.Equal(t, 0, countRows(t, store, "log_patterns"))
		})
	}
}

func TestAddBatchCancelled(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.AddBatch(ctx, sampleBatch())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, countRows(t, store, "logs"))
}

func TestAddBatchSpansPartitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []model.LogEntry{
		{Timestamp: base, Level: model.LevelInfo, Message: "day one"},
		{Timestamp: base.Add(24 * time.Hour), Level: model.LevelInfo, Message: "day two"},
		{Timestamp: base.Add(48 * time.Hour), Level: model.LevelInfo, Message: "day three"},
	}
	require.NoError(t, store.AddBatch(ctx, batch))
	require.NoError(t, store.AddBatch(ctx, batch[:1]))

	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	require.Equal(t, "logs_20250112_1d", parts[0].Name)
	require.Equal(t, "logs_20250113_1d", parts[1].Name)
	require.Equal(t, "logs_20250114_1d", parts[2].Name)

	require.Equal(t, 2, countRows(t, store, `"logs_20250112_1d"`))
	require.Equal(t, 4, countRows(t, store, "logs"))
}

func TestAddBatchWideWindows(t *testing.T) {
	store := newTestStore(t, StoreConfig{PartitionWidthDays: 7})
	ctx := context.Background()

	batch := []model.LogEntry{
		{Timestamp: base, Level: model.LevelInfo, Message: "a"},
		{Timestamp: base.Add(24 * time.Hour), Level: model.LevelInfo, Message: "b"},
	}
	require.NoError(t, store.AddBatch(ctx, batch))

	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, 7, parts[0].WidthDays)
	require.True(t, parts[0].Contains(base))
}

func TestStoreReopenKeepsPartitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "logbook.duckdb")
	ctx := context.Background()

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.AddBatch(ctx, sampleBatch()))
	require.NoError(t, store.Close())

	store, err = NewStore(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Search(ctx, model.SearchOpts{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.NoError(t, store.AddBatch(ctx, sampleBatch()))
	require.Equal(t, 8, countRows(t, store, "logs"))
}

func TestSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := sampleBatch()
	batch[0].Metadata = meta(t, `{"region":"us-east","latency":120}`)
	batch[1].Metadata = meta(t, `{"region":"eu-west","latency":80,"retryable":true}`)
	batch[2].TraceID = "abc123"
	batch[2].Hostname = "web-1"
	require.NoError(t, store.AddBatch(ctx, batch))

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Retry 3 of 3 failed", "Connection established", "Retry 2 of 3 failed", "Retry 1 of 3 failed"}},
		{"level = Error", []string{"Retry 3 of 3 failed", "Retry 2 of 3 failed"}},
		{"level = Error and serviceName = api", []string{"Retry 3 of 3 failed", "Retry 2 of 3 failed"}},
		{`message contains "Connection"`, []string{"Connection established"}},
		{"level = Info or level = Warn and serviceName = api", []string{"Connection established", "Retry 1 of 3 failed"}},
		{"metadata.region = us-east", []string{"Retry 1 of 3 failed"}},
		{"metadata.latency > 100", []string{"Retry 1 of 3 failed"}},
		{"metadata.retryable has", []string{"Retry 2 of 3 failed"}},
		{"metadata has region", []string{"Retry 2 of 3 failed", "Retry 1 of 3 failed"}},
		{`metadata.region contains "eu-west"`, []string{"Retry 2 of 3 failed"}},
		{"traceId = abc123", []string{"Connection established"}},
		{"established", []string{"Connection established"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := store.Search(ctx, model.SearchOpts{Query: tt.query})
			require.NoError(t, err)
			msgs := make([]string, len(got))
			for i, e := range got {
				msgs[i] = e.Message
			}
			require.Equal(t, tt.want, msgs)
		})
	}
}

func TestSearchRoundTripsFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := model.LogEntry{
		Timestamp:   base.Add(123 * time.Microsecond),
		ServiceName: "api",
		Level:       model.LevelError,
		Message:     "boom",
		Metadata:    meta(t, `{"b":1,"a":"x"}`),
		TraceID:     "t1",
		SpanID:      "s1",
		Hostname:    "h1",
		Environment: "prod",
	}
	require.NoError(t, store.AddBatch(ctx, []model.LogEntry{in}))

	got, err := store.Search(ctx, model.SearchOpts{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	out := got[0]
	require.NotZero(t, out.PatternID)
	require.Equal(t, in.Timestamp, out.Timestamp)
	require.Equal(t, in.TraceID, out.TraceID)
	require.Equal(t, in.SpanID, out.SpanID)
	require.Equal(t, in.Hostname, out.Hostname)
	require.Equal(t, in.Environment, out.Environment)
	require.Equal(t, []string{"b", "a"}, out.Metadata.Keys())
	v, ok := out.Metadata.StringValue("a")
	require.True(t, ok)
	require.Equal(t, "x", v)
}

func TestSearchPagingAndRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddBatch(ctx, sampleBatch()))

	got, err := store.Search(ctx, model.SearchOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Connection established", got[0].Message)
	require.Equal(t, "Retry 2 of 3 failed", got[1].Message)

	got, err = store.Search(ctx, model.SearchOpts{
		From: base.Add(time.Second),
		To:   base.Add(3 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Connection established", got[0].Message)
	require.Equal(t, "Retry 2 of 3 failed", got[1].Message)
}

func TestSearchSyntaxError(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Search(context.Background(), model.SearchOpts{Query: `message = "unterminated`})
	require.ErrorIs(t, err, query.ErrSyntax)
	require.False(t, errors.Is(err, ErrStorage))
}

func TestSearchSQLIsParameterized(t *testing.T) {
	stmt, args, err := SearchSQL(model.SearchOpts{Query: `serviceName = "x'; DROP TABLE logs; --"`})
	require.NoError(t, err)
	require.NotContains(t, stmt, "DROP")
	require.Contains(t, stmt, "(service_name = $p0)")
	require.Contains(t, stmt, "ORDER BY timestamp DESC LIMIT $lim OFFSET $off")
	require.Len(t, args, 3)
}

func TestTopPatternsOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddBatch(ctx, sampleBatch()))

	patterns, err := store.TopPatterns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	require.EqualValues(t, 3, patterns[0].OccurrenceCount)
	require.Equal(t, "Connection established", patterns[1].Template)

	patterns, err = store.TopPatterns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
}

func TestAddBatchConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.AddBatch(ctx, sampleBatch()); err != nil {
				t.Errorf("AddBatch: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 32, countRows(t, store, "logs"))
	patterns, err := store.TopPatterns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	require.EqualValues(t, 24, patterns[0].OccurrenceCount)
}

func TestPatternUpsertReturnsStableID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sg := Sighting{
		Template:    "user {uuid} logged in",
		Hash:        0xfedcba9876543210, // high bit set
		FirstSeen:   base,
		LastSeen:    base,
		Level:       model.LevelInfo,
		Occurrences: 2,
	}

	var ids []int64
	for i := 0; i < 2; i++ {
		tx, err := store.DB().BeginTx(ctx, nil)
		require.NoError(t, err)
		id, err := PatternStore{}.Upsert(ctx, tx, sg)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		ids = append(ids, id)
	}
	require.Equal(t, ids[0], ids[1])

	p, ok, err := store.PatternByHash(ctx, sg.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ids[0], p.ID)
	require.EqualValues(t, 4, p.OccurrenceCount)
}
