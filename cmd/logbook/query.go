package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/logbook/internal/duckdb"
	"github.com/tinytelemetry/logbook/internal/ingest"
	"github.com/tinytelemetry/logbook/internal/model"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// explainResult is what `query -explain` prints instead of running.
type explainResult struct {
	SQL    string         `json:"sql" yaml:"sql"`
	Params map[string]any `json:"params" yaml:"params"`
}

func runQuery(cfg appConfig, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	var (
		limit    int
		offset   int
		from, to string
		explain  bool
	)
	fs.IntVar(&limit, "limit", model.DefaultSearchLimit, "maximum number of entries")
	fs.IntVar(&offset, "offset", 0, "entries to skip")
	fs.StringVar(&from, "from", "", "inclusive lower time bound (RFC 3339 or epoch)")
	fs.StringVar(&to, "to", "", "exclusive upper time bound (RFC 3339 or epoch)")
	fs.BoolVar(&explain, "explain", false, "print the generated SQL and parameters without running it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := model.SearchOpts{
		Query:  strings.Join(fs.Args(), " "),
		Limit:  limit,
		Offset: offset,
	}
	var err error
	if opts.From, err = parseBound("from", from); err != nil {
		return err
	}
	if opts.To, err = parseBound("to", to); err != nil {
		return err
	}

	if explain {
		stmt, params, err := duckdb.SearchSQL(opts)
		if err != nil {
			return err
		}
		return writeOutput(stdout, cfg.Output, explainResult{SQL: stmt, Params: namedValues(params)})
	}

	return withStore(cfg, func(ctx context.Context, store *duckdb.Store) error {
		entries, err := store.Search(ctx, opts)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []model.LogEntry{}
		}
		return writeOutput(stdout, cfg.Output, entries)
	})
}

func runPatterns(cfg appConfig, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("patterns", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum number of patterns")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withStore(cfg, func(ctx context.Context, store *duckdb.Store) error {
		patterns, err := store.TopPatterns(ctx, *limit)
		if err != nil {
			return err
		}
		if patterns == nil {
			patterns = []model.LogPattern{}
		}
		return writeOutput(stdout, cfg.Output, patterns)
	})
}

func runPartitions(cfg appConfig, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("partitions", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withStore(cfg, func(ctx context.Context, store *duckdb.Store) error {
		parts, err := store.Partitions(ctx)
		if err != nil {
			return err
		}
		if parts == nil {
			parts = []model.Partition{}
		}
		return writeOutput(stdout, cfg.Output, parts)
	})
}

// withStore opens the store and runs fn under the configured query timeout.
func withStore(cfg appConfig, fn func(ctx context.Context, store *duckdb.Store) error) error {
	store, err := duckdb.NewStore(cfg.DBPath, duckdb.StoreConfig{PartitionWidthDays: cfg.PartitionWidthDays})
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()
	return fn(ctx, store)
}

func parseBound(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, ok := ingest.ParseTimestamp(value)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid -%s time %q", name, value)
	}
	return t, nil
}

// namedValues flattens sql.Named arguments for display.
func namedValues(args []any) map[string]any {
	out := make(map[string]any, len(args))
	for i, a := range args {
		if n, ok := a.(sql.NamedArg); ok {
			out[n.Name] = n.Value
			continue
		}
		out[strconv.Itoa(i)] = a
	}
	return out
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		return nil
	}
}
