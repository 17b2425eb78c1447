// Package logsource delivers raw log lines from input streams.
package logsource

import "github.com/tinytelemetry/logbook/internal/model"

// LogSource is a unified interface for log input sources (stdin, file).
type LogSource interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of log lines
	Err() error                         // read error, valid once Lines is closed
	Stop()                              // graceful shutdown
	Name() string                       // "stdin", "file"
}
