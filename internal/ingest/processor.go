package ingest

import (
	"strings"
	"sync"

	"github.com/tinytelemetry/logbook/internal/model"
)

// Processor parses source-tagged lines into entries and forwards them to a
// sink. Pretty-printed JSON objects spanning several lines are accumulated
// and parsed once complete. A Processor serves one source at a time.
type Processor struct {
	mu          sync.Mutex
	sink        RecordSink
	extractor   *Extractor
	sourceName  string
	defaultHost string

	// JSON accumulation for multi-line JSON support
	jsonBuffer   strings.Builder
	jsonDepth    int
	inJSONObject bool
}

// NewProcessor creates a new log processor.
func NewProcessor(sink RecordSink, sourceName string) *Processor {
	return &Processor{
		sink:       sink,
		extractor:  NewExtractor(),
		sourceName: sourceName,
	}
}

// Name implements EnvelopeProcessor.
func (p *Processor) Name() string { return ProcessorModeParse }

// ProcessResult holds the result of processing a log line.
type ProcessResult struct {
	Entry model.LogEntry
}

// ProcessLine processes an untagged line using the processor source name.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{Line: line})
}

// ProcessEnvelope processes one line, returning the parsed entry. It returns
// nil for blank lines and while a multi-line JSON object is incomplete.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	source := env.Source
	if source == "" {
		source = p.sourceName
	}

	if complete, consumed := p.accumulateJSON(env.Line); consumed {
		if complete == "" {
			return nil
		}
		return p.processEntry(complete, source)
	}
	return p.processEntry(env.Line, source)
}

// Flush emits whatever partial JSON object is buffered as plain text.
// Sources call it at end of input.
func (p *Processor) Flush() *ProcessResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inJSONObject {
		return nil
	}
	pending := strings.TrimSpace(p.jsonBuffer.String())
	p.resetJSONAccumulation()
	if pending == "" {
		return nil
	}
	return p.processEntry(pending, p.sourceName)
}

func (p *Processor) processEntry(line, source string) *ProcessResult {
	entry, ok := p.extractor.ParseLine(line)
	if !ok {
		return nil
	}
	if entry.ServiceName == "" {
		entry.ServiceName = source
	}
	if entry.Hostname == "" {
		entry.Hostname = p.defaultHost
	}

	if p.sink != nil {
		p.sink.Add(entry)
	}
	return &ProcessResult{Entry: entry}
}

// accumulateJSON buffers lines of a JSON object that spans several lines.
// consumed reports whether line was taken by the accumulator; complete is
// the full object once its braces balance.
func (p *Processor) accumulateJSON(line string) (complete string, consumed bool) {
	if !p.inJSONObject {
		if !strings.HasPrefix(strings.TrimSpace(line), "{") {
			return "", false
		}
		depth := CountJSONDepth(line)
		if depth <= 0 {
			// Single-line object; no accumulation needed.
			return "", false
		}
		p.inJSONObject = true
		p.jsonBuffer.Reset()
		p.jsonDepth = depth
		p.jsonBuffer.WriteString(line)
		p.jsonBuffer.WriteString("\n")
		return "", true
	}

	p.jsonBuffer.WriteString(line)
	p.jsonBuffer.WriteString("\n")
	p.jsonDepth += CountJSONDepth(line)

	if p.jsonDepth <= 0 {
		complete = strings.TrimSpace(p.jsonBuffer.String())
		p.resetJSONAccumulation()
		return complete, true
	}
	return "", true
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}

func (p *Processor) resetJSONAccumulation() {
	p.inJSONObject = false
	p.jsonDepth = 0
	p.jsonBuffer.Reset()
}

// SetSourceName updates the source name used for untagged lines.
func (p *Processor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}

// SetDefaultHost sets the hostname recorded on entries that carry none.
func (p *Processor) SetDefaultHost(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultHost = host
}
