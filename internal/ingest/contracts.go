package ingest

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/logbook/internal/model"
)

const (
	// ProcessorModeParse parses NDJSON lines and falls back to plain text.
	ProcessorModeParse = "parse"
	// ProcessorModePassthrough stores every line as plain text.
	ProcessorModePassthrough = "passthrough"
)

// RecordSink receives parsed entries. *duckdb.InsertBuffer satisfies it.
type RecordSink interface {
	Add(entry model.LogEntry)
}

// EnvelopeProcessor consumes source-tagged ingest lines and emits entries.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
	Flush() *ProcessResult
}

// NewEnvelopeProcessor creates the processor for mode. An empty mode
// selects parsing.
func NewEnvelopeProcessor(mode string, sink RecordSink, sourceName string) (EnvelopeProcessor, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ProcessorModeParse:
		return NewProcessor(sink, sourceName), nil
	case ProcessorModePassthrough:
		return NewPassthroughProcessor(sink, sourceName), nil
	default:
		return nil, fmt.Errorf("unknown processor mode %q (want %q or %q)", mode, ProcessorModeParse, ProcessorModePassthrough)
	}
}
