package ingest

import (
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/logbook/internal/model"
)

// PassthroughProcessor is a lightweight processor that avoids JSON parsing.
// It creates plain-text entries directly from input lines.
type PassthroughProcessor struct {
	mu         sync.RWMutex
	sink       RecordSink
	sourceName string
	now        func() time.Time
}

// NewPassthroughProcessor creates a new passthrough processor.
func NewPassthroughProcessor(sink RecordSink, sourceName string) *PassthroughProcessor {
	return &PassthroughProcessor{
		sink:       sink,
		sourceName: sourceName,
		now:        time.Now,
	}
}

func (p *PassthroughProcessor) Name() string { return ProcessorModePassthrough }

// ProcessLine processes an untagged line using the processor source name.
func (p *PassthroughProcessor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{Line: line})
}

// ProcessEnvelope processes one source-tagged line.
func (p *PassthroughProcessor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	line := strings.TrimSpace(env.Line)
	if line == "" {
		return nil
	}

	source := env.Source
	if source == "" {
		source = p.getSourceName()
	}

	entry := PlainTextEntry(line, p.now())
	entry.ServiceName = source

	if p.sink != nil {
		p.sink.Add(entry)
	}
	return &ProcessResult{Entry: entry}
}

// Flush is a no-op; nothing is buffered.
func (p *PassthroughProcessor) Flush() *ProcessResult { return nil }

// SetSourceName updates the default source name for untagged lines.
func (p *PassthroughProcessor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}

func (p *PassthroughProcessor) getSourceName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sourceName
}
