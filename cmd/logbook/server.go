package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/logbook/internal/duckdb"
	"github.com/tinytelemetry/logbook/internal/ingest"
	"github.com/tinytelemetry/logbook/internal/journal"
	"github.com/tinytelemetry/logbook/internal/logger"
)

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// runIngest reads log lines from stdin and files until they are exhausted
// or a signal arrives, storing them through the insert buffer.
func runIngest(cfg appConfig, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		files     stringList
		forceIn   bool
		service   string
		processor string
		quiet     bool
		journalAt string
		listen    string
	)
	fs.Var(&files, "file", "read this log file (repeatable)")
	fs.BoolVar(&forceIn, "stdin", false, "read stdin even when files are given or it is a terminal")
	fs.StringVar(&service, "service", "stdin", "service name for stdin entries that carry none")
	fs.StringVar(&processor, "processor", cfg.Processor, "line processor: parse or passthrough")
	fs.BoolVar(&quiet, "quiet", false, "do not print the startup banner")
	fs.StringVar(&journalAt, "journal", cfg.JournalPath, "journal file for crash-safe ingestion (empty disables)")
	fs.StringVar(&listen, "listen", cfg.ListenAddr, "also accept newline-delimited logs on this TCP address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.JournalPath = journalAt
	cfg.ListenAddr = listen

	log := logger.Component("ingest")

	store, err := duckdb.NewStore(cfg.DBPath, duckdb.StoreConfig{PartitionWidthDays: cfg.PartitionWidthDays})
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	// Open the ingest journal and store whatever a previous run left behind.
	var ingestJournal *journal.Journal
	if cfg.JournalPath != "" {
		ingestJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open ingest journal: %w", err)
		}
		defer ingestJournal.Close()

		replayCtx, replayCancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
		_, err = replayJournal(replayCtx, ingestJournal, store, cfg.InsertBatchSize)
		replayCancel()
		if err != nil {
			return fmt.Errorf("failed to replay ingest journal: %w", err)
		}
	}

	// Create insert buffer for batched DuckDB writes
	insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
		FlushTimeout:   cfg.QueryTimeout,
		Journal:        journalOrNil(ingestJournal),
	})
	defer insertBuffer.Stop()

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-sigCh:
		case <-done:
			return
		}
		fmt.Fprintln(stderr, "\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-done:
			return
		case <-sigCh:
			fmt.Fprintln(stderr, "\nForce shutdown.")
		case <-deadline.C:
			fmt.Fprintln(stderr, "Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	// Build input plugins and source multiplexer
	plugins := buildInputPlugins(InputPluginConfig{
		Files:        files,
		ForceStdin:   forceIn,
		ListenAddr:   cfg.ListenAddr,
		StdinService: service,
	})

	inputs := make([]sourceInput, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Error().Err(err).Str("plugin", plugin.Name()).Msg("input plugin failed to start")
			continue
		}
		inputs = append(inputs, sourceInput{Source: src, Service: plugin.Service()})
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no input: pipe logs to stdin or pass -file")
	}

	mux := newSourceMux(ctx, cfg.MuxBufferSize, inputs...)
	mux.Start()
	defer mux.Stop()

	proc, err := ingest.NewEnvelopeProcessor(processor, insertBuffer, service)
	if err != nil {
		return err
	}
	if p, ok := proc.(*ingest.Processor); ok && cfg.Host != "" {
		p.SetDefaultHost(cfg.Host)
	}

	if !quiet {
		printStartupBanner(stderr, cfg, mux.Names(), proc.Name())
	}

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	// Ingestion loop; ends when every source is drained or on shutdown.
	g.Go(func() error {
		defer cancel()
		lines, failures := mux.Lines(), mux.Failures()
		for lines != nil {
			select {
			case env, ok := <-lines:
				if !ok {
					lines = nil
					continue
				}
				proc.ProcessEnvelope(env)
			case f, ok := <-failures:
				if !ok {
					failures = nil
					continue
				}
				log.Error().Err(f.Err).Str("source", f.Source).Msg("input failed, other sources continue")
			}
		}
		proc.Flush()
		return nil
	})

	// Wait for context cancellation (from signal handler or drained input).
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("ingest exited with error")
	}

	mux.Stop()
	insertBuffer.Stop()

	for _, st := range mux.Stats() {
		log.Debug().Str("source", st.Name).Str("service", st.Service).Int64("lines", st.Lines).Msg("source finished")
	}

	log.Info().
		Int64("stored", insertBuffer.Flushed()).
		Int64("dropped", insertBuffer.Dropped()).
		Msg("ingest finished")

	if err := mux.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	if n := insertBuffer.Dropped(); n > 0 {
		return fmt.Errorf("%d entries could not be stored", n)
	}
	return nil
}

// journalOrNil keeps a nil *journal.Journal from becoming a non-nil interface.
func journalOrNil(j *journal.Journal) duckdb.EntryJournal {
	if j == nil {
		return nil
	}
	return j
}

func printStartupBanner(w io.Writer, cfg appConfig, sources []string, processorName string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╦  ╔═╗╔═╗╔╗ ╔═╗╔═╗╦╔═
    ║  ║ ║║ ╦╠╩╗║ ║║ ║╠╩╗
    ╩═╝╚═╝╚═╝╚═╝╚═╝╚═╝╩ ╩`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Inputs
	lines = append(lines, bold.Render("    Inputs"))
	lines = append(lines, "")
	for _, name := range sources {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Source", cyan.Render(name)))
	}
	lines = append(lines, fmt.Sprintf("    %s  Processor      %s", check, dim.Render(processorName)))
	lines = append(lines, "")

	// Storage
	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Database       %s", check, dim.Render(shortenPath(cfg.DBPath))))
	lines = append(lines, fmt.Sprintf("    %s  Partitions     %s", check, dim.Render(fmt.Sprintf("%d-day windows", cfg.PartitionWidthDays))))
	lines = append(lines, fmt.Sprintf("    %s  Batching       %s", check,
		dim.Render(fmt.Sprintf("%d entries / %s", cfg.InsertBatchSize, cfg.InsertFlushInterval))))
	if cfg.JournalPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Journal        %s", check, dim.Render(shortenPath(cfg.JournalPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Journal        %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	if path == "" {
		return "in-memory"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
