package main

import (
	"time"

	"github.com/tinytelemetry/logbook/internal/duckdb"
	"github.com/tinytelemetry/logbook/internal/model"
)

const (
	defaultMuxBufferSize       = DefaultMuxBuffer
	defaultQueryTimeout        = model.DefaultQueryTimeout
	defaultPartitionWidthDays  = model.DefaultPartitionWidthDays
	defaultInsertBatchSize     = duckdb.DefaultBatchSize
	defaultInsertFlushInterval = duckdb.DefaultFlushInterval
	defaultInsertFlushQueue    = duckdb.DefaultFlushQueueSize
	defaultLogLevel            = "info"
	defaultLogFormat           = "console"
	defaultOutput              = outputJSON
	defaultProcessor           = "parse"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	DBPath              string        `mapstructure:"db-path"`
	PartitionWidthDays  int           `mapstructure:"partition-width-days"`
	LevelCacheSize      int           `mapstructure:"level-cache-size"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`
	MuxBufferSize       int           `mapstructure:"mux-buffer-size"`
	Processor           string        `mapstructure:"processor"`
	Host                string        `mapstructure:"host"`
	JournalPath         string        `mapstructure:"journal-path"`
	ListenAddr          string        `mapstructure:"listen-addr"`
	LogLevel            string        `mapstructure:"log-level"`
	LogFormat           string        `mapstructure:"log-format"`
	Output              string        `mapstructure:"output"`
	ConfigPath          string        `mapstructure:"-"` // not from config file
}
