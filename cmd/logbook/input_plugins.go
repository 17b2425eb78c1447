package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tinytelemetry/logbook/internal/logsource"
	"github.com/tinytelemetry/logbook/internal/tcpserver"
)

// NamedLogSource aliases the shared source abstraction to keep app-layer APIs explicit.
type NamedLogSource = logsource.LogSource

// InputSourcePlugin is a small plugin primitive for wiring log inputs.
type InputSourcePlugin interface {
	Name() string
	// Service names entries from this input that carry no service.
	Service() string
	Enabled() bool
	Build(ctx context.Context) (NamedLogSource, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	Files []string
	// ForceStdin reads stdin even when it is a terminal.
	ForceStdin bool
	// ListenAddr enables the TCP input when non-empty.
	ListenAddr string
	// StdinService is the service for stdin entries; "stdin" when empty.
	StdinService string
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	plugins := make([]InputSourcePlugin, 0, len(cfg.Files)+2)
	for _, path := range cfg.Files {
		plugins = append(plugins, fileInputPlugin{path: path})
	}
	plugins = append(plugins, tcpInputPlugin{addr: cfg.ListenAddr})
	plugins = append(plugins, stdinInputPlugin{
		service:  cfg.StdinService,
		force:    cfg.ForceStdin,
		hasFiles: len(cfg.Files) > 0 || cfg.ListenAddr != "",
	})
	return plugins
}

type tcpInputPlugin struct {
	addr string
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Service() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.addr != "" }

func (p tcpInputPlugin) Build(_ context.Context) (NamedLogSource, error) {
	server := tcpserver.NewServer(p.addr)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return logsource.NewTCPSource(server), nil
}

type fileInputPlugin struct {
	path string
}

func (p fileInputPlugin) Name() string { return "file:" + p.path }

// Service is the file name without its extension: /var/log/api.log -> api.
func (p fileInputPlugin) Service() string {
	base := filepath.Base(p.path)
	if name := strings.TrimSuffix(base, filepath.Ext(base)); name != "" && name != "." {
		return name
	}
	return "file"
}

func (p fileInputPlugin) Enabled() bool { return p.path != "" }

func (p fileInputPlugin) Build(ctx context.Context) (NamedLogSource, error) {
	return logsource.NewFileSource(ctx, p.path)
}

type stdinInputPlugin struct {
	service  string
	force    bool
	hasFiles bool // other inputs configured
}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Service() string {
	if p.service == "" {
		return "stdin"
	}
	return p.service
}

// Enabled reports whether stdin is piped. With files or a TCP listener
// configured, stdin is only read when forced.
func (p stdinInputPlugin) Enabled() bool {
	if p.force {
		return true
	}
	if p.hasFiles {
		return false
	}
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedLogSource, error) {
	return logsource.NewStdinSource(ctx), nil
}
