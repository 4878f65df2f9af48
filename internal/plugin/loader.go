package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Loader discovers plugin directories on the filesystem. A plugin
// directory is any directory containing a plugin.json manifest.
type Loader struct {
	mu         sync.Mutex
	paths      []string
	discovered map[string]*Info
	log        *zap.Logger
}

// Info contains discovery information about a plugin.
type Info struct {
	ID       string
	Path     string
	Manifest *Manifest
	Err      error // Validation failure; the plugin is not loadable
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(log *zap.Logger) LoaderOption {
	return func(l *Loader) {
		l.log = log
	}
}

// NewLoader creates a new plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPluginPaths(),
		discovered: make(map[string]*Info),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPluginPaths returns the default plugin search paths.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 3)

	// User plugins: ~/.config/schemacanvas/plugins/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "schemacanvas", "plugins"))
		paths = append(paths, filepath.Join(home, ".local", "share", "schemacanvas", "plugins"))
	}

	// Project plugins: .schemacanvas/plugins/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".schemacanvas", "plugins"))
	}

	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

// AddPath adds a search path.
func (l *Loader) AddPath(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
}

// Discover finds all plugins in the search paths, sorted by id.
// Directories with an invalid manifest are reported with Err set
// rather than dropped, so the host can surface them as diagnostics.
func (l *Loader) Discover() ([]*Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.discovered = make(map[string]*Info)
	for _, basePath := range l.paths {
		l.discoverInPath(basePath)
	}

	plugins := make([]*Info, 0, len(l.discovered))
	for _, info := range l.discovered {
		plugins = append(plugins, info)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].ID < plugins[j].ID })
	return plugins, nil
}

// discoverInPath scans one search path. Missing paths are not errors.
// Must be called with mu held.
func (l *Loader) discoverInPath(basePath string) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(basePath, entry.Name())
		manifestPath := filepath.Join(dir, ManifestFile)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}

		m, err := LoadManifest(manifestPath)
		if err != nil {
			l.log.Warn("invalid plugin manifest",
				zap.String("path", manifestPath),
				zap.Error(err))
			l.discovered[entry.Name()] = &Info{
				ID:   entry.Name(),
				Path: dir,
				Err:  err,
			}
			continue
		}

		// First search path wins for duplicate ids.
		if _, exists := l.discovered[m.ID]; exists {
			continue
		}
		l.discovered[m.ID] = &Info{
			ID:       m.ID,
			Path:     dir,
			Manifest: m,
		}
	}
}

// Find returns a discovered plugin by id, refreshing discovery if the
// id is unknown.
func (l *Loader) Find(id string) (*Info, error) {
	l.mu.Lock()
	info, exists := l.discovered[id]
	l.mu.Unlock()
	if exists {
		return info, nil
	}

	if _, err := l.Discover(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if info, exists := l.discovered[id]; exists {
		return info, nil
	}
	return nil, fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
}

// Refresh re-runs discovery.
func (l *Loader) Refresh() ([]*Info, error) {
	return l.Discover()
}

// WatchEvent reports a manifest change in a watched search path.
type WatchEvent struct {
	Path string // Path of the changed manifest
	Op   fsnotify.Op
}

// Watcher watches the search paths for manifest changes, for hot
// reload of plugins during development.
type Watcher struct {
	events chan WatchEvent
	fsw    *fsnotify.Watcher
	done   chan struct{}
}

// Watch starts watching every existing search path and the plugin
// directories inside them. Events are delivered for manifest files
// only.
func (l *Loader) Watch() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, basePath := range l.Paths() {
		if _, err := os.Stat(basePath); err != nil {
			continue
		}
		if err := fsw.Add(basePath); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", basePath, err)
		}
		entries, err := os.ReadDir(basePath)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				// Watch errors on individual plugin dirs are tolerable;
				// the parent dir still reports additions and removals.
				_ = fsw.Add(filepath.Join(basePath, entry.Name()))
			}
		}
	}

	w := &Watcher{
		events: make(chan WatchEvent, 16),
		fsw:    fsw,
		done:   make(chan struct{}),
	}
	go w.run(l.log)
	return w, nil
}

// Events returns the manifest change channel.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

// run forwards manifest events until closed.
func (w *Watcher) run(log *zap.Logger) {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != ManifestFile {
				continue
			}
			select {
			case w.events <- WatchEvent{Path: evt.Name, Op: evt.Op}:
			case <-w.done:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("plugin watcher error", zap.Error(err))
		}
	}
}
