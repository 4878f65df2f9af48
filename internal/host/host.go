// Package host wires the plugin system to its collaborators: the
// document, selection and UI stores, the event bus, and the slot,
// extension and service registries. Everything is dependency-injected;
// the package holds no global state, so tests and embedders can run
// any number of hosts side by side.
package host

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/schemacanvas/internal/event"
	"github.com/dshills/schemacanvas/internal/plugin"
	"github.com/dshills/schemacanvas/internal/plugin/extension"
	"github.com/dshills/schemacanvas/internal/plugin/script"
	"github.com/dshills/schemacanvas/internal/plugin/slot"
	"github.com/dshills/schemacanvas/internal/store"
)

// Events the host publishes on the bus as its stores change.
const (
	// EventDocumentOpened fires when a document is loaded.
	EventDocumentOpened = "doc:opened"

	// EventDocumentChanged fires on any document mutation.
	EventDocumentChanged = "doc:changed"

	// EventSelectionChanged fires when the selection moves.
	EventSelectionChanged = "selection:changed"

	// EventUIChanged fires when UI state (view mode, theme) changes.
	EventUIChanged = "ui:changed"
)

// Host owns the editor's shared state and the plugin system built on
// top of it.
type Host struct {
	cfg Config
	log *zap.Logger

	documents *store.Document
	selection *store.Selection
	ui        *store.UI

	bus        *event.Bus
	slots      *slot.Manager
	extensions *extension.Registry
	services   *plugin.ServiceRegistry
	registry   *plugin.Registry
	loader     *plugin.Loader

	watcher *plugin.Watcher
	unsubs  []func()
}

// New creates a host from the configuration.
func New(cfg Config, opts ...Option) (*Host, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	h := &Host{
		cfg:        cfg,
		log:        log,
		documents:  store.NewDocument(),
		selection:  store.NewSelection(),
		ui:         store.NewUI(),
		bus:        event.NewBus(event.WithLogger(log)),
		slots:      slot.NewManager(slot.WithLogger(log)),
		extensions: extension.NewRegistry(),
		services:   plugin.NewServiceRegistry(),
		loader:     plugin.NewLoader(plugin.WithPaths(cfg.PluginPaths...), plugin.WithLoaderLogger(log)),
	}

	if len(cfg.SchemaRaw) > 0 {
		if err := h.documents.SetSchema(cfg.SchemaRaw); err != nil {
			return nil, err
		}
	}

	gate := plugin.NewGate(plugin.GateConfig{
		Documents:  h.documents,
		Selection:  h.selection,
		UI:         h.ui,
		Bus:        h.bus,
		Slots:      h.slots,
		Extensions: h.extensions,
		Services:   h.services,
		Logger:     log,
	})
	h.registry = plugin.NewRegistry(plugin.RegistryConfig{
		Gate:       gate,
		Bus:        h.bus,
		Slots:      h.slots,
		Extensions: h.extensions,
		Services:   h.services,
		Logger:     log,
	})

	h.wireStores()
	return h, nil
}

// wireStores propagates store changes into the slot visibility context
// and onto the bus, so "when" predicates and subscribed plugins follow
// the editor state.
func (h *Host) wireStores() {
	h.unsubs = append(h.unsubs, h.documents.OnChange(func() {
		has := h.documents.Has()
		h.slots.UpdateContext(slot.ContextPatch{HasDocument: &has})
		h.bus.Emit(EventDocumentChanged, nil)
	}))
	h.unsubs = append(h.unsubs, h.selection.OnChange(func() {
		selected := h.selection.Selected()
		hasSelection := selected != ""
		h.slots.UpdateContext(slot.ContextPatch{
			HasSelection: &hasSelection,
			SelectedPath: &selected,
		})
		h.bus.Emit(EventSelectionChanged, selected)
	}))
	h.unsubs = append(h.unsubs, h.ui.OnChange(func() {
		dark := h.ui.DarkMode()
		view := h.ui.ViewMode()
		h.slots.UpdateContext(slot.ContextPatch{
			DarkMode: &dark,
			ViewMode: &view,
		})
		h.bus.Emit(EventUIChanged, nil)
	}))
}

// Start discovers plugins in the search paths, activates every eager
// plugin in dependency order, and binds lazy plugins to their
// activation events. Individual plugin failures are recorded in
// Errors() and never abort startup; only a required-dependency cycle
// does.
func (h *Host) Start(ctx context.Context) error {
	discovered, err := h.loader.Discover()
	if err != nil {
		return err
	}
	for _, info := range discovered {
		h.registerDiscovered(info)
	}

	if err := h.registry.ActivateEager(ctx); err != nil {
		return err
	}
	h.registry.BindLazy(ctx)

	if h.cfg.WatchPlugins {
		if err := h.startWatcher(ctx); err != nil {
			h.log.Warn("plugin watcher unavailable", zap.Error(err))
		}
	}
	return nil
}

// registerDiscovered registers one discovery result. A directory with
// an init.lua becomes a scripted plugin; a manifest-only directory is
// declarative. Invalid manifests are surfaced as diagnostics only.
func (h *Host) registerDiscovered(info *plugin.Info) {
	if info.Err != nil {
		h.log.Warn("skipping plugin with invalid manifest",
			zap.String("plugin", info.ID),
			zap.String("path", info.Path),
			zap.Error(info.Err))
		return
	}

	var def plugin.Definition
	scriptPath := filepath.Join(info.Path, script.ScriptFile)
	if _, err := os.Stat(scriptPath); err == nil {
		s, err := script.LoadFile(scriptPath)
		if err != nil {
			h.log.Warn("failed to load plugin script",
				zap.String("plugin", info.ID),
				zap.Error(err))
			return
		}
		def = s.Definition()
	}

	if err := h.registry.Register(info.Manifest, def); err != nil {
		h.log.Warn("plugin registration rejected",
			zap.String("plugin", info.ID),
			zap.Error(err))
	}
}

// startWatcher begins watching the search paths for manifest changes.
// New plugins are registered as they appear; eager ones activate
// immediately.
func (h *Host) startWatcher(ctx context.Context) error {
	w, err := h.loader.Watch()
	if err != nil {
		return err
	}
	h.watcher = w

	go func() {
		for evt := range w.Events() {
			h.log.Info("plugin manifest changed", zap.String("path", evt.Path))
			discovered, err := h.loader.Refresh()
			if err != nil {
				h.log.Warn("plugin rediscovery failed", zap.Error(err))
				continue
			}
			for _, info := range discovered {
				if _, known := h.registry.State(info.ID); known {
					continue
				}
				h.registerDiscovered(info)
				if info.Err == nil && info.Manifest.EffectiveActivation() == plugin.ActivationEager {
					_ = h.registry.Activate(ctx, info.ID)
				}
			}
			h.registry.BindLazy(ctx)
		}
	}()
	return nil
}

// Register adds a native (in-process) plugin.
func (h *Host) Register(m *plugin.Manifest, def plugin.Definition) error {
	return h.registry.Register(m, def)
}

// LoadDocument loads a document and announces it.
func (h *Host) LoadDocument(raw []byte) error {
	if err := h.documents.Load(raw); err != nil {
		return err
	}
	h.bus.Emit(EventDocumentOpened, nil)
	return nil
}

// Shutdown deactivates every plugin in reverse registration order and
// releases store wiring.
func (h *Host) Shutdown(ctx context.Context) {
	if h.watcher != nil {
		if err := h.watcher.Close(); err != nil {
			h.log.Warn("failed to close plugin watcher", zap.Error(err))
		}
		h.watcher = nil
	}
	h.registry.DeactivateAll(ctx)
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
}

// Errors returns the recorded error for every failed plugin.
func (h *Host) Errors() map[string]error {
	return h.registry.Errors()
}

// Snapshot returns every registered plugin's lifecycle state.
func (h *Host) Snapshot() map[string]plugin.State {
	states := make(map[string]plugin.State)
	for _, id := range h.registry.List() {
		if s, ok := h.registry.State(id); ok {
			states[id] = s
		}
	}
	return states
}

// Registry returns the plugin registry.
func (h *Host) Registry() *plugin.Registry { return h.registry }

// Bus returns the event bus.
func (h *Host) Bus() *event.Bus { return h.bus }

// Slots returns the slot manager.
func (h *Host) Slots() *slot.Manager { return h.slots }

// Extensions returns the extension point registry.
func (h *Host) Extensions() *extension.Registry { return h.extensions }

// Services returns the service registry.
func (h *Host) Services() *plugin.ServiceRegistry { return h.services }

// Documents returns the document store.
func (h *Host) Documents() *store.Document { return h.documents }

// Selection returns the selection store.
func (h *Host) Selection() *store.Selection { return h.selection }

// UI returns the UI state store.
func (h *Host) UI() *store.UI { return h.ui }
