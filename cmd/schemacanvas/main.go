// Package main is the entry point for the schemacanvas plugin host.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/dshills/schemacanvas/internal/host"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	log, err := newLogger(opts.debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logging: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	cfg := host.DefaultConfig()
	cfg.Logger = log
	cfg.WatchPlugins = opts.watch
	if opts.pluginPaths != "" {
		cfg.PluginPaths = strings.Split(opts.pluginPaths, string(os.PathListSeparator))
	}
	if opts.schemaPath != "" {
		raw, err := os.ReadFile(opts.schemaPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read schema: %v\n", err)
			return 1
		}
		cfg.SchemaRaw = raw
	}

	h, err := host.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start plugin host: %v\n", err)
		return 1
	}
	defer h.Shutdown(ctx)

	if opts.documentPath != "" {
		raw, err := os.ReadFile(opts.documentPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read document: %v\n", err)
			return 1
		}
		if err := h.LoadDocument(raw); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load document: %v\n", err)
			return 1
		}
	}

	printPlugins(h)

	if opts.list {
		return 0
	}

	// Run until interrupted.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	return 0
}

// printPlugins reports every registered plugin's state and any
// activation failures.
func printPlugins(h *host.Host) {
	states := h.Snapshot()
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Printf("%-24s %s\n", id, states[id])
	}
	for id, err := range h.Errors() {
		fmt.Fprintf(os.Stderr, "plugin %s failed: %v\n", id, err)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type options struct {
	pluginPaths  string
	documentPath string
	schemaPath   string
	watch        bool
	list         bool
	debug        bool
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.pluginPaths, "plugins", "", "Plugin search paths (path-list separated)")
	flag.StringVar(&opts.documentPath, "doc", "", "JSON document to load")
	flag.StringVar(&opts.schemaPath, "schema", "", "JSON Schema to validate the document against")
	flag.BoolVar(&opts.watch, "watch", false, "Watch plugin directories for changes")
	flag.BoolVar(&opts.list, "list", false, "List plugins and exit")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("schemacanvas %s (%s, %s)\n", version, commit, date)
		os.Exit(0)
	}
	return opts
}
