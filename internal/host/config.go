package host

import (
	"go.uber.org/zap"

	"github.com/dshills/schemacanvas/internal/plugin"
)

// Config configures the host.
type Config struct {
	// PluginPaths are the plugin search paths, first path wins.
	PluginPaths []string

	// WatchPlugins enables the manifest watcher so plugins added to a
	// search path while the host runs are picked up.
	WatchPlugins bool

	// SchemaRaw is an optional JSON Schema the loaded document is
	// validated against.
	SchemaRaw []byte

	// Logger is the host logger. Defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns the default host configuration.
func DefaultConfig() Config {
	return Config{
		PluginPaths: plugin.DefaultPluginPaths(),
	}
}

// Option configures the host.
type Option func(*Config)

// WithPluginPaths replaces the plugin search paths.
func WithPluginPaths(paths ...string) Option {
	return func(c *Config) {
		c.PluginPaths = paths
	}
}

// WithWatch enables the plugin directory watcher.
func WithWatch(on bool) Option {
	return func(c *Config) {
		c.WatchPlugins = on
	}
}

// WithSchema sets the document schema.
func WithSchema(raw []byte) Option {
	return func(c *Config) {
		c.SchemaRaw = raw
	}
}

// WithLogger sets the host logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}
