package logsource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tinytelemetry/logbook/internal/logger"
	"github.com/tinytelemetry/logbook/internal/model"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for lines.
	DefaultStdinBuffer = 50_000

	// DefaultStdinMaxLineSize is the default maximum size (in bytes) of a single line.
	DefaultStdinMaxLineSize = 1024 * 1024 // 1MB
)

// StdinConfig holds tunable parameters for reader-backed sources.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
}

// ReaderSource reads newline-delimited log lines from an io.Reader.
type ReaderSource struct {
	name   string
	ch     chan model.IngestEnvelope
	cancel context.CancelFunc
	closer io.Closer

	errMu sync.Mutex
	err   error
}

// NewStdinSource creates a source that reads os.Stdin in a background goroutine.
func NewStdinSource(ctx context.Context, conf ...StdinConfig) *ReaderSource {
	return newStdinSourceWithReader(ctx, os.Stdin, conf...)
}

func newStdinSourceWithReader(ctx context.Context, r io.Reader, conf ...StdinConfig) *ReaderSource {
	return NewReaderSource(ctx, "stdin", r, conf...)
}

// NewFileSource opens path and streams its lines. The file is closed when
// reading ends.
func NewFileSource(ctx context.Context, path string, conf ...StdinConfig) (*ReaderSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	s := NewReaderSource(ctx, "file", f, conf...)
	s.closer = f
	return s, nil
}

// NewReaderSource streams lines from r until EOF, error or Stop.
func NewReaderSource(ctx context.Context, name string, r io.Reader, conf ...StdinConfig) *ReaderSource {
	bufferSize := DefaultStdinBuffer
	maxLineSize := DefaultStdinMaxLineSize
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &ReaderSource{
		name:   name,
		ch:     make(chan model.IngestEnvelope, bufferSize),
		cancel: cancel,
	}
	go s.read(ctx, r, maxLineSize)
	return s
}

func (s *ReaderSource) read(ctx context.Context, r io.Reader, maxLineSize int) {
	defer close(s.ch)
	defer func() {
		if s.closer != nil {
			_ = s.closer.Close()
		}
	}()

	log := logger.Component("logsource").With().Str("source", s.name).Logger()

	scanner := bufio.NewScanner(r)
	// The token limit is the larger of max and cap(buf).
	buf := make([]byte, 0, min(64*1024, maxLineSize))
	scanner.Buffer(buf, maxLineSize)

	// A single goroutine runs the blocking scan so cancellation is noticed
	// without a goroutine per line.
	results := make(chan string)
	go func() {
		defer close(results)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case results <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				err = fmt.Errorf("line exceeded max size (%d bytes): %w", maxLineSize, err)
			}
			log.Error().Err(err).Msg("read stopped")
			s.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-results:
			if !ok {
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.name, Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *ReaderSource) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = err
}

// Err returns the read error, if any, that ended the source.
func (s *ReaderSource) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *ReaderSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *ReaderSource) Stop()                              { s.cancel() }
func (s *ReaderSource) Name() string                       { return s.name }
