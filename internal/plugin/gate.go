package plugin

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/schemacanvas/internal/event"
	"github.com/dshills/schemacanvas/internal/plugin/extension"
	"github.com/dshills/schemacanvas/internal/plugin/security"
	"github.com/dshills/schemacanvas/internal/plugin/slot"
)

// DocumentStore is the host's document collaborator. The core only
// reaches it through the capability gate.
type DocumentStore interface {
	Has() bool
	Value(path string) (any, bool)
	Set(path string, value any) error
	Delete(path string) error
}

// SelectionStore is the host's selection collaborator.
type SelectionStore interface {
	Selected() string
	SetSelected(path string)
	Editing() string
	Hovered() string
}

// UIStore is the host's UI state collaborator.
type UIStore interface {
	DarkMode() bool
	SetDarkMode(on bool)
	ViewMode() string
	SetViewMode(mode string)
}

// Gate builds capability-restricted APIs. The restriction is the core
// safety property: a plugin can only reach the blast radius its
// manifest declares.
type Gate struct {
	documents  DocumentStore
	selection  SelectionStore
	ui         UIStore
	bus        *event.Bus
	slots      *slot.Manager
	extensions *extension.Registry
	services   *ServiceRegistry
	log        *zap.Logger
}

// GateConfig wires the gate to the host's collaborators.
type GateConfig struct {
	Documents  DocumentStore
	Selection  SelectionStore
	UI         UIStore
	Bus        *event.Bus
	Slots      *slot.Manager
	Extensions *extension.Registry
	Services   *ServiceRegistry
	Logger     *zap.Logger
}

// NewGate creates a capability gate.
func NewGate(cfg GateConfig) *Gate {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		documents:  cfg.Documents,
		selection:  cfg.Selection,
		ui:         cfg.UI,
		bus:        cfg.Bus,
		slots:      cfg.Slots,
		extensions: cfg.Extensions,
		services:   cfg.Services,
		log:        log,
	}
}

// Restrict builds the API a plugin's routines receive. The capability
// set is precomputed once so every check is O(1).
func (g *Gate) Restrict(m *Manifest) *API {
	return &API{
		gate:   g,
		plugin: m.ID,
		caps:   security.NewSet(m.Capabilities),
		local:  make(map[string]any),
	}
}

// API is a plugin's capability-restricted view of the host. An
// operation outside the plugin's declared capability set is never
// silently successful: it logs a warning and becomes a no-op (reads
// return zero values).
type API struct {
	gate   *Gate
	plugin string
	caps   security.Set

	mu     sync.Mutex
	local  map[string]any
	unsubs []func()
}

// Plugin returns the owning plugin id.
func (a *API) Plugin() string {
	return a.plugin
}

// Can returns true if the plugin declared the capability.
func (a *API) Can(cap security.Capability) bool {
	return a.caps.Has(cap)
}

// Log returns a logger scoped to the plugin.
func (a *API) Log() *zap.Logger {
	return a.gate.log.With(zap.String("plugin", a.plugin))
}

// deny logs a capability violation. Violations are contained here:
// never a crash, never silent.
func (a *API) deny(cap security.Capability, operation string) {
	a.gate.log.Warn("capability violation",
		zap.Error(security.NewCapabilityError(a.plugin, cap, operation)))
}

// Document operations

// HasDocument reports whether a document is loaded. Requires document:read.
func (a *API) HasDocument() bool {
	if !a.caps.Has(security.CapabilityDocumentRead) {
		a.deny(security.CapabilityDocumentRead, "has document")
		return false
	}
	return a.gate.documents.Has()
}

// DocumentValue reads the document value at a path. Requires document:read.
func (a *API) DocumentValue(path string) (any, bool) {
	if !a.caps.Has(security.CapabilityDocumentRead) {
		a.deny(security.CapabilityDocumentRead, "read document")
		return nil, false
	}
	return a.gate.documents.Value(path)
}

// SetDocumentValue writes the document value at a path. Requires
// document:write; without it the store receives no call at all.
func (a *API) SetDocumentValue(path string, value any) error {
	if !a.caps.Has(security.CapabilityDocumentWrite) {
		a.deny(security.CapabilityDocumentWrite, "write document")
		return nil
	}
	return a.gate.documents.Set(path, value)
}

// DeleteDocumentValue removes the document value at a path. Requires
// document:write.
func (a *API) DeleteDocumentValue(path string) error {
	if !a.caps.Has(security.CapabilityDocumentWrite) {
		a.deny(security.CapabilityDocumentWrite, "delete from document")
		return nil
	}
	return a.gate.documents.Delete(path)
}

// Selection operations

// SelectedPath returns the selected path. Requires selection:read.
func (a *API) SelectedPath() string {
	if !a.caps.Has(security.CapabilitySelectionRead) {
		a.deny(security.CapabilitySelectionRead, "read selection")
		return ""
	}
	return a.gate.selection.Selected()
}

// EditingPath returns the path being edited. Requires selection:read.
func (a *API) EditingPath() string {
	if !a.caps.Has(security.CapabilitySelectionRead) {
		a.deny(security.CapabilitySelectionRead, "read selection")
		return ""
	}
	return a.gate.selection.Editing()
}

// HoveredPath returns the hovered path. Requires selection:read.
func (a *API) HoveredPath() string {
	if !a.caps.Has(security.CapabilitySelectionRead) {
		a.deny(security.CapabilitySelectionRead, "read selection")
		return ""
	}
	return a.gate.selection.Hovered()
}

// Select changes the selected path. Requires selection:write.
func (a *API) Select(path string) {
	if !a.caps.Has(security.CapabilitySelectionWrite) {
		a.deny(security.CapabilitySelectionWrite, "write selection")
		return
	}
	a.gate.selection.SetSelected(path)
}

// UI operations

// DarkMode reports whether dark mode is on. Requires ui:read.
func (a *API) DarkMode() bool {
	if !a.caps.Has(security.CapabilityUIRead) {
		a.deny(security.CapabilityUIRead, "read ui state")
		return false
	}
	return a.gate.ui.DarkMode()
}

// ViewMode returns the active view mode. Requires ui:read.
func (a *API) ViewMode() string {
	if !a.caps.Has(security.CapabilityUIRead) {
		a.deny(security.CapabilityUIRead, "read ui state")
		return ""
	}
	return a.gate.ui.ViewMode()
}

// SetDarkMode toggles dark mode. Requires ui:write.
func (a *API) SetDarkMode(on bool) {
	if !a.caps.Has(security.CapabilityUIWrite) {
		a.deny(security.CapabilityUIWrite, "write ui state")
		return
	}
	a.gate.ui.SetDarkMode(on)
}

// SetViewMode changes the view mode. Requires ui:write.
func (a *API) SetViewMode(mode string) {
	if !a.caps.Has(security.CapabilityUIWrite) {
		a.deny(security.CapabilityUIWrite, "write ui state")
		return
	}
	a.gate.ui.SetViewMode(mode)
}

// Event operations

// Emit publishes an event on the host bus. Requires events:emit.
func (a *API) Emit(eventType string, payload any) {
	if !a.caps.Has(security.CapabilityEventsEmit) {
		a.deny(security.CapabilityEventsEmit, "emit event")
		return
	}
	a.gate.bus.Emit(eventType, payload)
}

// Subscribe registers an event handler. Requires events:subscribe.
// The subscription is released automatically on deactivation; the
// returned function releases it earlier.
func (a *API) Subscribe(eventType string, handler event.Handler) func() {
	if !a.caps.Has(security.CapabilityEventsSubscribe) {
		a.deny(security.CapabilityEventsSubscribe, "subscribe to event")
		return func() {}
	}
	unsub := a.gate.bus.Subscribe(eventType, handler)

	a.mu.Lock()
	a.unsubs = append(a.unsubs, unsub)
	a.mu.Unlock()
	return unsub
}

// Extension operations

// DeclareExtensionPoint declares an extension point owned by the
// plugin. Requires extensions:define.
func (a *API) DeclareExtensionPoint(pointID string, schema json.RawMessage, multiple bool) error {
	if !a.caps.Has(security.CapabilityExtensionsDefine) {
		a.deny(security.CapabilityExtensionsDefine, "declare extension point")
		return nil
	}
	return a.gate.extensions.Declare(a.plugin, pointID, schema, multiple)
}

// ContributeExtension submits a payload to an extension point.
// Requires extensions:contribute.
func (a *API) ContributeExtension(pointID string, payload any) error {
	if !a.caps.Has(security.CapabilityExtensionsContribute) {
		a.deny(security.CapabilityExtensionsContribute, "contribute extension")
		return nil
	}
	return a.gate.extensions.Contribute(a.plugin, pointID, payload)
}

// Extensions resolves an extension point's contributions in
// contribution order. Resolution is not capability-gated.
func (a *API) Extensions(pointID string) []extension.Contribution {
	return a.gate.extensions.Resolve(pointID)
}

// Service operations

// ProvideService registers a service implementation. Requires
// services:provide.
func (a *API) ProvideService(id, iface string, impl any) error {
	if !a.caps.Has(security.CapabilityServicesProvide) {
		a.deny(security.CapabilityServicesProvide, "provide service")
		return nil
	}
	return a.gate.services.Provide(a.plugin, id, iface, impl)
}

// Service resolves a service by id, nil if absent. Requires
// services:consume.
func (a *API) Service(id string) any {
	if !a.caps.Has(security.CapabilityServicesConsume) {
		a.deny(security.CapabilityServicesConsume, "consume service")
		return nil
	}
	return a.gate.services.Resolve(id)
}

// Slot operations

// RegisterSlot adds a programmatic slot registration with a pure
// predicate. Manifest-declared registrations are indexed by the
// registry; this is for contributions computed at activation time.
func (a *API) RegisterSlot(s slot.Slot, component any, priority int, when slot.Predicate) error {
	if !slot.IsValidSlot(s) {
		return ErrInvalidSlot
	}
	a.gate.slots.Add(slot.Registration{
		Plugin:    a.plugin,
		Slot:      s,
		Component: component,
		Priority:  priority,
		When:      when,
	})
	return nil
}

// Local storage

// PutLocal stores a plugin-scoped value. Requires storage:local.
func (a *API) PutLocal(key string, value any) {
	if !a.caps.Has(security.CapabilityStorageLocal) {
		a.deny(security.CapabilityStorageLocal, "write local storage")
		return
	}
	a.mu.Lock()
	a.local[key] = value
	a.mu.Unlock()
}

// GetLocal reads a plugin-scoped value. Requires storage:local.
func (a *API) GetLocal(key string) (any, bool) {
	if !a.caps.Has(security.CapabilityStorageLocal) {
		a.deny(security.CapabilityStorageLocal, "read local storage")
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.local[key]
	return v, ok
}

// release drops the plugin's event subscriptions. Called by the
// registry on deactivation and on failed activation.
func (a *API) release() {
	a.mu.Lock()
	unsubs := a.unsubs
	a.unsubs = nil
	a.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
