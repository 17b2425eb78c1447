package model

import "time"

// Level is one of the six canonical log levels.
type Level string

const (
	LevelTrace Level = "Trace"
	LevelDebug Level = "Debug"
	LevelInfo  Level = "Info"
	LevelWarn  Level = "Warn"
	LevelError Level = "Error"
	LevelFatal Level = "Fatal"
)

// Levels lists the canonical levels from least to most severe.
var Levels = []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal}

// Valid reports whether l is a canonical level.
func (l Level) Valid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

func (l Level) String() string { return string(l) }

// LogEntry is a single structured log event as submitted by a producer.
// It is the canonical type for ingestion, storage and search results.
// Entries are not modified after creation.
type LogEntry struct {
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"` // UTC
	ServiceName string    `json:"serviceName" yaml:"serviceName"`
	Level       Level     `json:"level" yaml:"level"`
	Message     string    `json:"message" yaml:"message"`
	Metadata    Metadata  `json:"metadata,omitzero" yaml:"metadata,omitempty"`
	TraceID     string    `json:"traceId,omitempty" yaml:"traceId,omitempty"`
	SpanID      string    `json:"spanId,omitempty" yaml:"spanId,omitempty"`
	Hostname    string    `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Environment string    `json:"environment,omitempty" yaml:"environment,omitempty"`

	// PatternID links a stored entry to its LogPattern. Zero on entries that
	// have not been persisted yet.
	PatternID int64 `json:"patternId,omitempty" yaml:"patternId,omitempty"`
}

// LogPattern is a deduplicated message template with occurrence statistics.
// Template and Level reflect the first sighting and are never overwritten.
type LogPattern struct {
	ID              int64     `json:"id" yaml:"id"`
	Template        string    `json:"template" yaml:"template"`
	Hash            uint64    `json:"hash" yaml:"hash"`
	FirstSeen       time.Time `json:"firstSeen" yaml:"firstSeen"`
	LastSeen        time.Time `json:"lastSeen" yaml:"lastSeen"`
	OccurrenceCount int64     `json:"occurrenceCount" yaml:"occurrenceCount"`
	Level           Level     `json:"level" yaml:"level"`
}

// Partition is one physical, time-bounded slice of the logical log table.
type Partition struct {
	Name      string    `json:"name" yaml:"name"`
	Start     time.Time `json:"start" yaml:"start"`
	End       time.Time `json:"end" yaml:"end"` // exclusive
	WidthDays int       `json:"widthDays" yaml:"widthDays"`
}

// Contains reports whether t falls inside [Start, End).
func (p Partition) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}
