package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/logbook/internal/ingest"
	"github.com/tinytelemetry/logbook/internal/logger"
	"github.com/tinytelemetry/logbook/internal/logparse"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// GetVersionInfo returns the current version and commit information.
func GetVersionInfo() (string, string) {
	return version, commit
}

const usageText = `Usage: logbook [global flags] <command> [flags] [args]

Commands:
  ingest       read NDJSON or plain-text logs from stdin or files and store them
  query EXPR   search stored logs with a filter expression
  patterns     list the most frequent message templates
  partitions   list the time partitions created so far

Global flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("logbook", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}

	var (
		configPath  string
		showVersion bool
		overrides   configOverrides
	)
	fs.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/logbook/config.yml)")
	fs.BoolVar(&showVersion, "version", false, "print version information")
	fs.StringVar(&overrides.DBPath, "db-path", "", "database file (overrides config)")
	fs.StringVar(&overrides.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	fs.StringVar(&overrides.Output, "output", "", "output format: json or yaml")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if showVersion {
		fmt.Fprintf(stdout, "Logbook - Structured Log Store\n")
		fmt.Fprintf(stdout, "  Version:    %s\n", version)
		fmt.Fprintf(stdout, "  Commit:     %s\n", commit)
		fmt.Fprintf(stdout, "  Built:      %s\n", buildTime)
		fmt.Fprintf(stdout, "  Go version: %s\n", goVersion)
		return 0
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	overrides.apply(&cfg)
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat, stderr)
	logparse.SetDefault(logparse.NewNormalizer(cfg.LevelCacheSize))

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "ingest":
		err = runIngest(cfg, cmdArgs, stderr)
	case "query":
		err = runQuery(cfg, cmdArgs, stdout)
	case "patterns":
		err = runPatterns(cfg, cmdArgs, stdout)
	case "partitions":
		err = runPartitions(cfg, cmdArgs, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// configOverrides holds global flags that take precedence over the config
// file and environment.
type configOverrides struct {
	DBPath   string
	LogLevel string
	Output   string
}

func (o configOverrides) apply(cfg *appConfig) {
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Output != "" {
		cfg.Output = o.Output
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	defaultDBPath := filepath.Join(home, ".local", "share", "logbook", "logbook.duckdb")

	v := viper.New()
	v.SetEnvPrefix("LOGBOOK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("db-path", defaultDBPath)
	v.SetDefault("partition-width-days", defaultPartitionWidthDays)
	v.SetDefault("level-cache-size", 0)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("processor", defaultProcessor)
	v.SetDefault("host", "")
	v.SetDefault("journal-path", "")
	v.SetDefault("listen-addr", "")
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)
	v.SetDefault("output", defaultOutput)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "logbook", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	} else {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	// Expand ~ in paths
	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.JournalPath = expandHome(home, cfg.JournalPath)

	return cfg, nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c appConfig) validate() error {
	if c.PartitionWidthDays < 1 {
		return fmt.Errorf("invalid partition-width-days: %d", c.PartitionWidthDays)
	}
	if c.LevelCacheSize < 0 {
		return fmt.Errorf("invalid level-cache-size: %d", c.LevelCacheSize)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("invalid query-timeout: %s", c.QueryTimeout)
	}
	if c.InsertBatchSize <= 0 {
		return fmt.Errorf("invalid insert-batch-size: %d", c.InsertBatchSize)
	}
	if c.InsertFlushInterval <= 0 {
		return fmt.Errorf("invalid insert-flush-interval: %s", c.InsertFlushInterval)
	}
	if c.InsertFlushQueue <= 0 {
		return fmt.Errorf("invalid insert-flush-queue-size: %d", c.InsertFlushQueue)
	}
	switch c.Output {
	case outputJSON, outputYAML:
	default:
		return fmt.Errorf("invalid output %q (want %q or %q)", c.Output, outputJSON, outputYAML)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log-format %q (want console or json)", c.LogFormat)
	}
	switch c.Processor {
	case ingest.ProcessorModeParse, ingest.ProcessorModePassthrough:
	default:
		return fmt.Errorf("invalid processor %q", c.Processor)
	}
	return nil
}
