package logparse

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/logbook/internal/model"
)

func TestNormalizeLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected model.Level
	}{
		// Exact table, any case
		{"trace", model.LevelTrace}, {"VERBOSE", model.LevelTrace},
		{"debug", model.LevelDebug}, {"DBG", model.LevelDebug},
		{"info", model.LevelInfo}, {"Information", model.LevelInfo},
		{"warn", model.LevelWarn}, {"WARNING", model.LevelWarn},
		{"err", model.LevelError}, {"Error", model.LevelError},
		{"fail", model.LevelError}, {"FAILURE", model.LevelError},
		{"critical", model.LevelFatal}, {"fatal", model.LevelFatal},
		{"panic", model.LevelFatal},
		// Permissive fallback in priority order
		{"SeverityWarning", model.LevelWarn},
		{"error_info", model.LevelInfo},
		{"warn-or-error", model.LevelWarn},
		{"E_FATAL", model.LevelFatal},
		{"fatal error", model.LevelError},
		{"debugging", model.LevelDebug},
		{"stacktrace", model.LevelTrace},
		// Defaults
		{"", model.LevelInfo}, {"   ", model.LevelInfo},
		{"loud", model.LevelInfo}, {"42", model.LevelInfo},
		// Whitespace
		{"  warn  ", model.LevelWarn}, {"\tERROR\t", model.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeLevel(tt.input)
			if got != tt.expected {
				t.Errorf("NormalizeLevel(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeLevelIdempotentOnCanonical(t *testing.T) {
	for _, lvl := range model.Levels {
		require.Equal(t, lvl, NormalizeLevel(string(lvl)))
		require.Equal(t, lvl, NormalizeLevel(string(NormalizeLevel(string(lvl)))))
	}
}

func TestNormalizerCachesResults(t *testing.T) {
	n := NewNormalizer(0)
	require.Equal(t, model.LevelWarn, n.Normalize("WARNING"))
	require.Equal(t, model.LevelWarn, n.Normalize("WARNING"))
	require.Equal(t, 1, n.CacheLen())

	n.Normalize("warning")
	require.Equal(t, 2, n.CacheLen())
}

func TestNormalizerBounded(t *testing.T) {
	n := NewNormalizer(2)
	for i := 0; i < 10; i++ {
		require.Equal(t, model.LevelInfo, n.Normalize(fmt.Sprintf("custom-%d", i)))
	}
	require.LessOrEqual(t, n.CacheLen(), 2)
	require.Equal(t, model.LevelError, n.Normalize("error"))
}

func TestNormalizerConcurrent(t *testing.T) {
	n := NewNormalizer(0)
	inputs := []string{"warn", "ERROR", "crit", "info", "dbg", "verbose", "unknown"}
	want := []model.Level{
		model.LevelWarn, model.LevelError, model.LevelFatal, model.LevelInfo,
		model.LevelDebug, model.LevelTrace, model.LevelInfo,
	}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				idx := i % len(inputs)
				if got := n.Normalize(inputs[idx]); got != want[idx] {
					t.Errorf("Normalize(%q) = %q, want %q", inputs[idx], got, want[idx])
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, len(inputs), n.CacheLen())
}

func TestLevelFromNumber(t *testing.T) {
	tests := []struct {
		in   int
		want model.Level
	}{
		{10, model.LevelTrace}, {20, model.LevelDebug}, {30, model.LevelInfo},
		{40, model.LevelWarn}, {50, model.LevelError}, {60, model.LevelFatal},
		{5, model.LevelTrace}, {35, model.LevelInfo}, {99, model.LevelFatal},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, LevelFromNumber(tt.in), "level %d", tt.in)
	}
}

func TestLookupLevel(t *testing.T) {
	lvl, ok := LookupLevel("WARNING")
	require.True(t, ok)
	require.Equal(t, model.LevelWarn, lvl)

	_, ok = LookupLevel("request")
	require.False(t, ok)

	_, ok = LookupLevel("")
	require.False(t, ok)
}
