package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/logbook/internal/model"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 50_000

// sourceInput pairs a source with the service name given to entries from
// it that carry none.
type sourceInput struct {
	Source  NamedLogSource
	Service string
}

// SourceFailure reports a source that stopped on a read error.
type SourceFailure struct {
	Source string
	Err    error
}

// SourceStat summarizes one source.
type SourceStat struct {
	Name    string
	Service string
	Lines   int64
	Err     error
}

type muxInput struct {
	sourceInput
	lines atomic.Int64
}

// sourceMux fans several sources into one envelope stream. Each envelope is
// stamped with its input's service, and a source that ends on a read error
// is reported on Failures while the others keep flowing.
type sourceMux struct {
	ctx    context.Context
	cancel context.CancelFunc

	inputs   []*muxInput
	lines    chan model.IngestEnvelope
	failures chan SourceFailure // one slot per input, so sends never block

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newSourceMux(parent context.Context, buffer int, inputs ...sourceInput) *sourceMux {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	m := &sourceMux{
		ctx:      ctx,
		cancel:   cancel,
		lines:    make(chan model.IngestEnvelope, buffer),
		failures: make(chan SourceFailure, len(inputs)),
	}
	for _, in := range inputs {
		m.inputs = append(m.inputs, &muxInput{sourceInput: in})
	}
	return m
}

// Start begins forwarding. Lines and Failures close once every source has
// drained or Stop is called.
func (m *sourceMux) Start() {
	m.startOnce.Do(func() {
		for _, in := range m.inputs {
			m.wg.Add(1)
			go m.forward(in)
		}
		go func() {
			m.wg.Wait()
			m.closeOutput()
		}()
	})
}

// Stop stops every source and waits for the forwarders.
func (m *sourceMux) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, in := range m.inputs {
			in.Source.Stop()
		}
		m.wg.Wait()
		m.closeOutput()
	})
}

func (m *sourceMux) Lines() <-chan model.IngestEnvelope { return m.lines }

func (m *sourceMux) Failures() <-chan SourceFailure { return m.failures }

func (m *sourceMux) Names() []string {
	names := make([]string, len(m.inputs))
	for i, in := range m.inputs {
		names[i] = in.Source.Name()
	}
	return names
}

// Stats reports per-source line counts and read errors.
func (m *sourceMux) Stats() []SourceStat {
	stats := make([]SourceStat, len(m.inputs))
	for i, in := range m.inputs {
		stats[i] = SourceStat{
			Name:    in.Source.Name(),
			Service: in.Service,
			Lines:   in.lines.Load(),
			Err:     in.Source.Err(),
		}
	}
	return stats
}

// Err joins the read errors of all sources.
func (m *sourceMux) Err() error {
	var errs []error
	for _, st := range m.Stats() {
		if st.Err != nil {
			errs = append(errs, st.Err)
		}
	}
	return errors.Join(errs...)
}

func (m *sourceMux) forward(in *muxInput) {
	defer m.wg.Done()

	src := in.Source.Lines()
	for {
		select {
		case <-m.ctx.Done():
			return
		case env, ok := <-src:
			if !ok {
				if err := in.Source.Err(); err != nil {
					m.failures <- SourceFailure{Source: in.Source.Name(), Err: err}
				}
				return
			}
			if env.Line == "" {
				continue
			}
			if in.Service != "" {
				env.Source = in.Service
			}
			select {
			case m.lines <- env:
				in.lines.Add(1)
			case <-m.ctx.Done():
				return
			}
		}
	}
}

func (m *sourceMux) closeOutput() {
	m.closeOnce.Do(func() {
		close(m.lines)
		close(m.failures)
	})
}
