package plugin

import (
	"testing"

	"github.com/dshills/schemacanvas/internal/event"
	"github.com/dshills/schemacanvas/internal/plugin/extension"
	"github.com/dshills/schemacanvas/internal/plugin/security"
	"github.com/dshills/schemacanvas/internal/plugin/slot"
)

// fakeDocStore counts calls so tests can assert a denied write never
// reaches the store.
type fakeDocStore struct {
	values  map[string]any
	setN    int
	deleteN int
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{values: make(map[string]any)}
}

func (s *fakeDocStore) Has() bool { return len(s.values) > 0 }

func (s *fakeDocStore) Value(path string) (any, bool) {
	v, ok := s.values[path]
	return v, ok
}

func (s *fakeDocStore) Set(path string, value any) error {
	s.setN++
	s.values[path] = value
	return nil
}

func (s *fakeDocStore) Delete(path string) error {
	s.deleteN++
	delete(s.values, path)
	return nil
}

type fakeSelection struct {
	selected string
	editing  string
	hovered  string
}

func (s *fakeSelection) Selected() string        { return s.selected }
func (s *fakeSelection) SetSelected(path string) { s.selected = path }
func (s *fakeSelection) Editing() string         { return s.editing }
func (s *fakeSelection) Hovered() string         { return s.hovered }

type fakeUI struct {
	dark bool
	view string
}

func (u *fakeUI) DarkMode() bool          { return u.dark }
func (u *fakeUI) SetDarkMode(on bool)     { u.dark = on }
func (u *fakeUI) ViewMode() string        { return u.view }
func (u *fakeUI) SetViewMode(mode string) { u.view = mode }

// testHost bundles a gate with its collaborators for tests.
type testHost struct {
	docs       *fakeDocStore
	selection  *fakeSelection
	ui         *fakeUI
	bus        *event.Bus
	slots      *slot.Manager
	extensions *extension.Registry
	services   *ServiceRegistry
	gate       *Gate
}

func newTestHost() *testHost {
	h := &testHost{
		docs:       newFakeDocStore(),
		selection:  &fakeSelection{},
		ui:         &fakeUI{view: "tree"},
		bus:        event.NewBus(),
		slots:      slot.NewManager(),
		extensions: extension.NewRegistry(),
		services:   NewServiceRegistry(),
	}
	h.gate = NewGate(GateConfig{
		Documents:  h.docs,
		Selection:  h.selection,
		UI:         h.ui,
		Bus:        h.bus,
		Slots:      h.slots,
		Extensions: h.extensions,
		Services:   h.services,
	})
	return h
}

func (h *testHost) restrict(id string, caps ...security.Capability) *API {
	return h.gate.Restrict(&Manifest{ID: id, Capabilities: caps})
}

func TestAPICan(t *testing.T) {
	h := newTestHost()
	api := h.restrict("p", security.CapabilityDocumentRead)

	if !api.Can(security.CapabilityDocumentRead) {
		t.Error("Can(document:read) = false, want true")
	}
	if api.Can(security.CapabilityDocumentWrite) {
		t.Error("Can(document:write) = true, want false")
	}
	if api.Plugin() != "p" {
		t.Errorf("Plugin() = %q, want %q", api.Plugin(), "p")
	}
}

func TestAPIDocumentReadGating(t *testing.T) {
	h := newTestHost()
	h.docs.values["book.title"] = "Go"

	reader := h.restrict("reader", security.CapabilityDocumentRead)
	if v, ok := reader.DocumentValue("book.title"); !ok || v != "Go" {
		t.Errorf("DocumentValue() = %v, %v; want Go, true", v, ok)
	}
	if !reader.HasDocument() {
		t.Error("HasDocument() = false, want true")
	}

	blind := h.restrict("blind")
	if v, ok := blind.DocumentValue("book.title"); ok || v != nil {
		t.Errorf("ungated DocumentValue() = %v, %v; want nil, false", v, ok)
	}
	if blind.HasDocument() {
		t.Error("ungated HasDocument() = true, want false")
	}
}

func TestAPIDocumentWriteNeverReachesStore(t *testing.T) {
	h := newTestHost()
	api := h.restrict("reader", security.CapabilityDocumentRead)

	if err := api.SetDocumentValue("book.title", "x"); err != nil {
		t.Fatalf("SetDocumentValue() error = %v", err)
	}
	if err := api.DeleteDocumentValue("book.title"); err != nil {
		t.Fatalf("DeleteDocumentValue() error = %v", err)
	}
	if h.docs.setN != 0 || h.docs.deleteN != 0 {
		t.Errorf("store received %d sets, %d deletes; want zero calls", h.docs.setN, h.docs.deleteN)
	}

	writer := h.restrict("writer", security.CapabilityDocumentWrite)
	if err := writer.SetDocumentValue("book.title", "x"); err != nil {
		t.Fatalf("SetDocumentValue() error = %v", err)
	}
	if h.docs.setN != 1 {
		t.Errorf("store received %d sets, want 1", h.docs.setN)
	}
}

func TestAPISelectionGating(t *testing.T) {
	h := newTestHost()
	h.selection.selected = "book.title"

	api := h.restrict("p", security.CapabilitySelectionRead)
	if got := api.SelectedPath(); got != "book.title" {
		t.Errorf("SelectedPath() = %q, want %q", got, "book.title")
	}

	api.Select("book.author") // no selection:write
	if h.selection.selected != "book.title" {
		t.Error("ungated Select() changed the selection")
	}

	writer := h.restrict("w", security.CapabilitySelectionWrite)
	writer.Select("book.author")
	if h.selection.selected != "book.author" {
		t.Errorf("selected = %q, want %q", h.selection.selected, "book.author")
	}
	if got := writer.SelectedPath(); got != "" {
		t.Errorf("ungated SelectedPath() = %q, want empty", got)
	}
}

func TestAPIUIGating(t *testing.T) {
	h := newTestHost()

	api := h.restrict("p", security.CapabilityUIRead, security.CapabilityUIWrite)
	if api.ViewMode() != "tree" {
		t.Errorf("ViewMode() = %q, want %q", api.ViewMode(), "tree")
	}
	api.SetViewMode("canvas")
	api.SetDarkMode(true)
	if h.ui.view != "canvas" || !h.ui.dark {
		t.Errorf("ui state = (%q, %v), want (canvas, true)", h.ui.view, h.ui.dark)
	}

	blind := h.restrict("blind")
	blind.SetDarkMode(false)
	if !h.ui.dark {
		t.Error("ungated SetDarkMode() changed ui state")
	}
	if blind.DarkMode() {
		t.Error("ungated DarkMode() = true, want false")
	}
}

func TestAPIEventGating(t *testing.T) {
	h := newTestHost()
	received := 0
	h.bus.Subscribe("doc:changed", func(event.Event) { received++ })

	h.restrict("mute").Emit("doc:changed", nil)
	if received != 0 {
		t.Error("ungated Emit() delivered an event")
	}

	h.restrict("talker", security.CapabilityEventsEmit).Emit("doc:changed", nil)
	if received != 1 {
		t.Errorf("received = %d, want 1", received)
	}

	deaf := h.restrict("deaf")
	unsub := deaf.Subscribe("doc:changed", func(event.Event) {})
	unsub() // no-op closure, must not panic
	if h.bus.SubscriberCount("doc:changed") != 1 {
		t.Error("ungated Subscribe() registered a handler")
	}
}

func TestAPIReleaseDropsSubscriptions(t *testing.T) {
	h := newTestHost()
	api := h.restrict("p", security.CapabilityEventsSubscribe)

	calls := 0
	api.Subscribe("doc:changed", func(event.Event) { calls++ })
	api.Subscribe("selection:changed", func(event.Event) { calls++ })

	h.bus.Emit("doc:changed", nil)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	api.release()
	h.bus.Emit("doc:changed", nil)
	h.bus.Emit("selection:changed", nil)
	if calls != 1 {
		t.Errorf("calls after release = %d, want 1", calls)
	}
}

func TestAPIExtensionGating(t *testing.T) {
	h := newTestHost()

	owner := h.restrict("owner", security.CapabilityExtensionsDefine)
	if err := owner.DeclareExtensionPoint("owner.badges", nil, true); err != nil {
		t.Fatalf("DeclareExtensionPoint() error = %v", err)
	}

	// Ungated declare and contribute are no-ops.
	rogue := h.restrict("rogue")
	if err := rogue.DeclareExtensionPoint("rogue.point", nil, true); err != nil {
		t.Fatalf("ungated DeclareExtensionPoint() error = %v", err)
	}
	if _, ok := h.extensions.Lookup("rogue.point"); ok {
		t.Error("ungated DeclareExtensionPoint() registered a point")
	}
	if err := rogue.ContributeExtension("owner.badges", map[string]any{"icon": "x"}); err != nil {
		t.Fatalf("ungated ContributeExtension() error = %v", err)
	}
	if got := len(h.extensions.Resolve("owner.badges")); got != 0 {
		t.Errorf("point has %d contributions, want 0", got)
	}

	contributor := h.restrict("contrib", security.CapabilityExtensionsContribute)
	if err := contributor.ContributeExtension("owner.badges", map[string]any{"icon": "x"}); err != nil {
		t.Fatalf("ContributeExtension() error = %v", err)
	}
	if got := len(contributor.Extensions("owner.badges")); got != 1 {
		t.Errorf("Extensions() returned %d contributions, want 1", got)
	}
}

func TestAPIServiceGating(t *testing.T) {
	h := newTestHost()

	provider := h.restrict("provider", security.CapabilityServicesProvide)
	if err := provider.ProvideService("fmt", "Formatter", "impl"); err != nil {
		t.Fatalf("ProvideService() error = %v", err)
	}

	consumer := h.restrict("consumer", security.CapabilityServicesConsume)
	if got := consumer.Service("fmt"); got != "impl" {
		t.Errorf("Service() = %v, want impl", got)
	}
	if got := consumer.Service("missing"); got != nil {
		t.Errorf("Service(missing) = %v, want nil", got)
	}
	if got := provider.Service("fmt"); got != nil {
		t.Error("ungated Service() resolved")
	}

	rogue := h.restrict("rogue")
	if err := rogue.ProvideService("other", "I", "x"); err != nil {
		t.Fatalf("ungated ProvideService() error = %v", err)
	}
	if h.services.Resolve("other") != nil {
		t.Error("ungated ProvideService() registered a service")
	}
}

func TestAPIRegisterSlot(t *testing.T) {
	h := newTestHost()
	api := h.restrict("p")

	if err := api.RegisterSlot("footer:left", "c", 0, nil); err != ErrInvalidSlot {
		t.Errorf("RegisterSlot(unknown) error = %v, want ErrInvalidSlot", err)
	}
	if err := api.RegisterSlot(slot.SlotToolbarMain, "c", 5, nil); err != nil {
		t.Fatalf("RegisterSlot() error = %v", err)
	}
	regs := h.slots.Registrations(slot.SlotToolbarMain)
	if len(regs) != 1 || regs[0].Plugin != "p" || regs[0].Priority != 5 {
		t.Errorf("Registrations() = %+v", regs)
	}
}

func TestAPILocalStorage(t *testing.T) {
	h := newTestHost()

	api := h.restrict("p", security.CapabilityStorageLocal)
	api.PutLocal("count", 3)
	if v, ok := api.GetLocal("count"); !ok || v != 3 {
		t.Errorf("GetLocal() = %v, %v; want 3, true", v, ok)
	}

	blind := h.restrict("blind")
	blind.PutLocal("count", 3)
	if _, ok := blind.GetLocal("count"); ok {
		t.Error("ungated GetLocal() = ok")
	}
}
