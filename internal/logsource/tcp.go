package logsource

import (
	"github.com/tinytelemetry/logbook/internal/model"
	"github.com/tinytelemetry/logbook/internal/tcpserver"
)

// TCPSource wraps a tcpserver.Server as a LogSource.
type TCPSource struct {
	server *tcpserver.Server
}

// NewTCPSource creates a TCPSource from an already-started TCP server.
func NewTCPSource(server *tcpserver.Server) *TCPSource {
	return &TCPSource{server: server}
}

func (t *TCPSource) Lines() <-chan model.IngestEnvelope { return t.server.Lines() }
func (t *TCPSource) Err() error                         { return nil }
func (t *TCPSource) Stop()                              { _ = t.server.Stop() }
func (t *TCPSource) Name() string                       { return "tcp:" + t.server.Addr() }
