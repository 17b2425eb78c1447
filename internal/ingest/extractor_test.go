package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/logbook/internal/model"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testExtractor() *Extractor {
	x := NewExtractor()
	x.now = func() time.Time { return fixedNow }
	return x
}

func TestParseLine_Pino(t *testing.T) {
	t.Parallel()
	line := `{"level":30,"time":1705312245000,"msg":"request processed","hostname":"web1","pid":1234,"reqId":"abc"}`
	entry, ok := testExtractor().ParseLine(line)
	require.True(t, ok)

	require.Equal(t, model.LevelInfo, entry.Level)
	require.Equal(t, "request processed", entry.Message)
	require.Equal(t, "web1", entry.Hostname)
	require.Equal(t, time.UnixMilli(1705312245000).UTC(), entry.Timestamp)
	require.Equal(t, []string{"pid", "reqId"}, entry.Metadata.Keys())
	v, ok := entry.Metadata.StringValue("pid")
	require.True(t, ok)
	require.Equal(t, "1234", v)
}

func TestParseLine_Winston(t *testing.T) {
	t.Parallel()
	line := `{"level":"error","message":"connection refused","timestamp":"2024-01-15T10:30:45.000Z","service":"api"}`
	entry, ok := testExtractor().ParseLine(line)
	require.True(t, ok)

	require.Equal(t, model.LevelError, entry.Level)
	require.Equal(t, "connection refused", entry.Message)
	require.Equal(t, "api", entry.ServiceName)
	require.Equal(t, time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC), entry.Timestamp)
	require.True(t, entry.Metadata.IsZero())
}

func TestParseLine_Aliases(t *testing.T) {
	t.Parallel()
	line := `{"@timestamp":"2025-01-12 14:33:21.456","serviceName":"billing","severity":"WARNING",` +
		`"msg":"slow query","trace_id":"t-1","spanId":"s-1","host":"db-1","env":"prod",` +
		`"attributes":{"table":"orders","ms":812},"region":"eu"}`
	entry, ok := testExtractor().ParseLine(line)
	require.True(t, ok)

	require.Equal(t, time.Date(2025, 1, 12, 14, 33, 21, 456_000_000, time.UTC), entry.Timestamp)
	require.Equal(t, "billing", entry.ServiceName)
	require.Equal(t, model.LevelWarn, entry.Level)
	require.Equal(t, "slow query", entry.Message)
	require.Equal(t, "t-1", entry.TraceID)
	require.Equal(t, "s-1", entry.SpanID)
	require.Equal(t, "db-1", entry.Hostname)
	require.Equal(t, "prod", entry.Environment)
	require.Equal(t, []string{"table", "ms", "region"}, entry.Metadata.Keys())
}

func TestParseLine_PlainText(t *testing.T) {
	t.Parallel()
	entry, ok := testExtractor().ParseLine("2024-01-15 ERROR: connection refused")
	require.True(t, ok)
	require.Equal(t, model.LevelError, entry.Level)
	require.Equal(t, "2024-01-15 ERROR: connection refused", entry.Message)
	require.Equal(t, fixedNow, entry.Timestamp)

	entry, ok = testExtractor().ParseLine("just some words")
	require.True(t, ok)
	require.Equal(t, model.LevelInfo, entry.Level)
}

func TestParseLine_InvalidJSONFallsBack(t *testing.T) {
	t.Parallel()
	entry, ok := testExtractor().ParseLine(`{"broken": `)
	require.True(t, ok)
	// Plain-text messages are stored trimmed.
	require.Equal(t, `{"broken":`, entry.Message)
	require.Equal(t, model.LevelInfo, entry.Level)
}

func TestParseLine_Blank(t *testing.T) {
	t.Parallel()
	_, ok := testExtractor().ParseLine("   \t")
	require.False(t, ok)
}

func TestParseLine_MissingMessageUsesRawLine(t *testing.T) {
	t.Parallel()
	line := `{"level":"info","user":"alice"}`
	entry, ok := testExtractor().ParseLine(line)
	require.True(t, ok)
	require.Equal(t, line, entry.Message)
	require.Equal(t, fixedNow, entry.Timestamp)
}

func TestParseLine_CleansTabs(t *testing.T) {
	t.Parallel()
	entry, ok := testExtractor().ParseLine(`{"msg":"message\twith\ttabs\nand\nnewlines"}`)
	require.True(t, ok)
	require.Equal(t, "message with tabs and newlines", entry.Message)
}

func TestParseLinePooled(t *testing.T) {
	t.Parallel()
	entry, ok := ParseLine(`{"level":50,"msg":"boom"}`)
	require.True(t, ok)
	require.Equal(t, model.LevelError, entry.Level)
	require.False(t, entry.Timestamp.IsZero())
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-15T10:30:45Z", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC), true},
		{"2024-01-15T12:30:45+02:00", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC), true},
		{"2024-01-15 10:30:45", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC), true},
		{"946684800", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"946684800000", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"946684800000000000", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
		{"-5", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			require.Equal(t, tt.ok, ok)
			require.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}
