package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/dshills/schemacanvas/internal/event"
	"github.com/dshills/schemacanvas/internal/plugin/extension"
	"github.com/dshills/schemacanvas/internal/plugin/slot"
)

// Host events the registry publishes on the bus.
const (
	// EventPluginActivated fires after a plugin reaches the active state.
	EventPluginActivated = "plugin:activated"

	// EventPluginDeactivated fires after a plugin is deactivated.
	EventPluginDeactivated = "plugin:deactivated"

	// EventPluginFailed fires when activation or deactivation throws.
	EventPluginFailed = "plugin:failed"
)

// Registry owns the plugin lifecycle state machine, resolves activation
// order from declared dependencies, and indexes plugin contributions
// into the slot, extension and service registries.
type Registry struct {
	mu sync.Mutex

	gate       *Gate
	bus        *event.Bus
	slots      *slot.Manager
	extensions *extension.Registry
	services   *ServiceRegistry
	log        *zap.Logger

	plugins map[string]*pluginEntry
	order   []string // registration order, for deterministic iteration

	lazyUnsubs []func()
}

// pluginEntry tracks one registered plugin.
type pluginEntry struct {
	manifest *Manifest
	def      Definition
	state    State
	err      error
	api      *API
	pending  *pendingActivation
}

// pendingActivation tracks an in-flight activation so concurrent
// requests attach to it instead of re-entering the routine, and a
// deactivation requested meanwhile is queued until it settles.
type pendingActivation struct {
	done       chan struct{}
	err        error
	deactivate bool
}

// RegistryConfig wires the registry to the host's shared registries.
type RegistryConfig struct {
	Gate       *Gate
	Bus        *event.Bus
	Slots      *slot.Manager
	Extensions *extension.Registry
	Services   *ServiceRegistry
	Logger     *zap.Logger
}

// NewRegistry creates a plugin registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		gate:       cfg.Gate,
		bus:        cfg.Bus,
		slots:      cfg.Slots,
		extensions: cfg.Extensions,
		services:   cfg.Services,
		log:        log,
		plugins:    make(map[string]*pluginEntry),
	}
}

// Register validates the manifest and stores the plugin in the
// registered state. Nothing is indexed until activation. Fails if the
// id is already registered; a failed validation creates no state.
func (r *Registry) Register(m *Manifest, def Definition) error {
	if m == nil {
		return ErrNilManifest
	}
	if errs := m.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidManifest, joinValidationErrors(errs))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[m.ID]; exists {
		return fmt.Errorf("plugin %q: %w", m.ID, ErrAlreadyRegistered)
	}
	r.plugins[m.ID] = &pluginEntry{
		manifest: m.Clone(),
		def:      def,
		state:    StateRegistered,
	}
	r.order = append(r.order, m.ID)
	return nil
}

// Activate activates a plugin, resolving required dependencies
// transitively and activating them first. A no-op if already active.
// If an activation for the same id is already in flight the call waits
// for it and returns its outcome rather than re-entering the routine.
func (r *Registry) Activate(ctx context.Context, id string) error {
	return r.activate(ctx, id, make(map[string]bool))
}

func (r *Registry) activate(ctx context.Context, id string, visiting map[string]bool) error {
	r.mu.Lock()
	e, exists := r.plugins[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	switch e.state {
	case StateActive:
		r.mu.Unlock()
		return nil
	case StateActivating:
		p := e.pending
		r.mu.Unlock()
		<-p.done
		return p.err
	case StateDeactivating:
		r.mu.Unlock()
		return fmt.Errorf("plugin %q: cannot activate while deactivating", id)
	}
	if visiting[id] {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCyclicDependency, id)
	}
	visiting[id] = true
	m := e.manifest
	r.mu.Unlock()

	// Resolve dependencies before entering the activating state so a
	// missing dependency leaves this plugin in its prior state.
	for _, dep := range m.Requires {
		if err := r.activateDependency(ctx, id, dep, visiting); err != nil {
			return err
		}
	}

	r.mu.Lock()
	// Recheck: a concurrent caller may have progressed the state while
	// dependencies were activating.
	switch e.state {
	case StateActive:
		r.mu.Unlock()
		return nil
	case StateActivating:
		p := e.pending
		r.mu.Unlock()
		<-p.done
		return p.err
	}
	pending := &pendingActivation{done: make(chan struct{})}
	e.state = StateActivating
	e.err = nil
	e.pending = pending
	r.mu.Unlock()

	api := r.gate.Restrict(m)
	err := r.runActivation(ctx, m, e.def, api)

	r.mu.Lock()
	queuedDeactivate := pending.deactivate
	if err != nil {
		e.state = StateFailed
		e.err = err
		e.api = nil
	} else {
		e.state = StateActive
		e.api = api
	}
	e.pending = nil
	pending.err = err
	close(pending.done)
	r.mu.Unlock()

	if err != nil {
		// Roll back whatever the partial activation registered.
		r.removeContributions(id, api)
		r.log.Error("plugin activation failed",
			zap.String("plugin", id),
			zap.Error(err))
		r.bus.Emit(EventPluginFailed, id)
		return fmt.Errorf("plugin %q: %w", id, err)
	}

	r.bus.Emit(EventPluginActivated, id)

	if queuedDeactivate {
		// A deactivation arrived while activation was pending; it was
		// queued rather than interleaved. Honor it now.
		return r.Deactivate(ctx, id)
	}
	return nil
}

// activateDependency resolves and activates one declared dependency.
func (r *Registry) activateDependency(ctx context.Context, id string, dep Dependency, visiting map[string]bool) error {
	r.mu.Lock()
	depEntry, exists := r.plugins[dep.ID]
	r.mu.Unlock()

	if !exists {
		if dep.Optional {
			return nil
		}
		return fmt.Errorf("plugin %q requires %q: %w", id, dep.ID, ErrDependencyNotFound)
	}
	if dep.Version != "" {
		have := "v" + depEntry.manifest.Version
		want := "v" + dep.Version
		if semver.Compare(have, want) < 0 {
			return fmt.Errorf("plugin %q requires %q >= %s, have %s: %w",
				id, dep.ID, dep.Version, depEntry.manifest.Version, ErrDependencyVersion)
		}
	}
	if err := r.activate(ctx, dep.ID, visiting); err != nil {
		if dep.Optional {
			r.log.Warn("optional dependency failed to activate",
				zap.String("plugin", id),
				zap.String("dependency", dep.ID),
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("plugin %q dependency: %w", id, err)
	}
	return nil
}

// runActivation indexes the manifest's declared contributions and
// invokes the activation routine. A routine panic is converted to an
// error so it stays contained to this plugin.
func (r *Registry) runActivation(ctx context.Context, m *Manifest, def Definition, api *API) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrActivationFailed, rec)
		}
	}()

	// Extension points the plugin owns.
	for _, decl := range m.ExtensionPoints {
		if declErr := r.extensions.Declare(m.ID, decl.ID, decl.Schema, decl.Multiple); declErr != nil {
			return fmt.Errorf("%w: %v", ErrActivationFailed, declErr)
		}
	}

	// Contributions to other plugins' points. A rejection (unknown
	// point, schema mismatch, cardinality) is logged and skipped; it
	// does not fail the plugin's own activation.
	for _, decl := range m.Extensions {
		var payload any
		if len(decl.Contribution) > 0 {
			if jsonErr := json.Unmarshal(decl.Contribution, &payload); jsonErr != nil {
				r.log.Warn("extension contribution is not valid JSON",
					zap.String("plugin", m.ID),
					zap.String("point", decl.Point),
					zap.Error(jsonErr))
				continue
			}
		}
		if contribErr := r.extensions.Contribute(m.ID, decl.Point, payload); contribErr != nil {
			r.log.Warn("extension contribution rejected",
				zap.String("plugin", m.ID),
				zap.String("point", decl.Point),
				zap.Error(contribErr))
		}
	}

	// Declared services. A missing implementation key or a taken id is
	// logged, not fatal.
	for _, decl := range m.Provides {
		impl, ok := def.Services[decl.Implementation]
		if !ok {
			r.log.Warn("service implementation missing from definition",
				zap.String("plugin", m.ID),
				zap.String("service", decl.ID),
				zap.String("implementation", decl.Implementation))
			continue
		}
		if svcErr := r.services.Provide(m.ID, decl.ID, decl.Interface, impl); svcErr != nil {
			r.log.Warn("service registration rejected",
				zap.String("plugin", m.ID),
				zap.String("service", decl.ID),
				zap.Error(svcErr))
		}
	}

	// Declared slot registrations. The when expressions were compiled
	// successfully at validation; compile errors here are impossible
	// short of a mutated manifest, so they fail loudly.
	for _, decl := range m.Slots {
		var when slot.Predicate
		if decl.When != "" {
			compiled, whenErr := slot.CompileWhen(decl.When)
			if whenErr != nil {
				return fmt.Errorf("%w: %v", ErrActivationFailed, whenErr)
			}
			when = compiled
		}
		r.slots.Add(slot.Registration{
			Plugin:    m.ID,
			Slot:      decl.Slot,
			Component: def.component(decl.Component),
			Priority:  decl.Priority,
			When:      when,
			WhenExpr:  decl.When,
		})
	}

	if def.Activate != nil {
		if actErr := def.Activate(ctx, api); actErr != nil {
			return fmt.Errorf("%w: %v", ErrActivationFailed, actErr)
		}
	}
	return nil
}

// Deactivate runs the plugin's deactivation routine best-effort and
// removes its slot, extension and service contributions. Requested
// while an activation is pending, it is queued until the activation
// settles. Deactivating a plugin that is not active is a no-op.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	e, exists := r.plugins[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	switch e.state {
	case StateActivating:
		e.pending.deactivate = true
		r.mu.Unlock()
		return nil
	case StateActive:
		// proceed
	default:
		r.mu.Unlock()
		return nil
	}
	e.state = StateDeactivating
	api := e.api
	def := e.def
	r.mu.Unlock()

	if def.Deactivate != nil {
		if err := r.runDeactivation(ctx, def, api); err != nil {
			r.log.Warn("plugin deactivation routine failed",
				zap.String("plugin", id),
				zap.Error(err))
		}
	}

	r.removeContributions(id, api)

	r.mu.Lock()
	e.state = StateInactive
	e.api = nil
	r.mu.Unlock()

	r.bus.Emit(EventPluginDeactivated, id)
	return nil
}

// runDeactivation invokes the deactivation routine with panic recovery.
func (r *Registry) runDeactivation(ctx context.Context, def Definition, api *API) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return def.Deactivate(ctx, api)
}

// removeContributions drops everything a plugin registered.
func (r *Registry) removeContributions(id string, api *API) {
	r.slots.RemovePlugin(id)
	r.extensions.RemoveOwner(id)
	r.services.RemoveOwner(id)
	if api != nil {
		api.release()
	}
}

// ActivateEager activates every effectively-eager plugin in dependency
// order at host startup. A required-dependency cycle is a fatal
// configuration error reported before any activation runs. Individual
// activation failures are isolated: they are logged, the plugin is
// marked failed, and the remaining plugins still activate.
func (r *Registry) ActivateEager(ctx context.Context) error {
	ordered, err := r.topoOrder()
	if err != nil {
		return err
	}

	for _, id := range ordered {
		r.mu.Lock()
		e := r.plugins[id]
		eager := e.manifest.EffectiveActivation() == ActivationEager
		r.mu.Unlock()

		if !eager {
			continue
		}
		// Errors are already logged and recorded per plugin.
		_ = r.Activate(ctx, id)
	}
	return nil
}

// BindLazy subscribes effectively-lazy plugins to their activation
// events so the first matching emission activates them.
func (r *Registry) BindLazy(ctx context.Context) {
	r.mu.Lock()
	type binding struct {
		id     string
		events []string
	}
	var bindings []binding
	for _, id := range r.order {
		e := r.plugins[id]
		if e.manifest.EffectiveActivation() != ActivationLazy {
			continue
		}
		bindings = append(bindings, binding{id: id, events: e.manifest.ActivationEvents})
	}
	r.mu.Unlock()

	for _, b := range bindings {
		id := b.id
		for _, evt := range b.events {
			if evt == ActivationWildcard {
				continue
			}
			unsub := r.bus.Subscribe(evt, func(event.Event) {
				_ = r.Activate(ctx, id)
			})
			r.mu.Lock()
			r.lazyUnsubs = append(r.lazyUnsubs, unsub)
			r.mu.Unlock()
		}
	}
}

// topoOrder returns all registered plugin ids in a total order
// consistent with the required-dependency partial order, preserving
// registration order among independent plugins.
func (r *Registry) topoOrder() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	marks := make(map[string]int, len(r.plugins))
	ordered := make([]string, 0, len(r.plugins))

	var visit func(id string) error
	visit = func(id string) error {
		switch marks[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrCyclicDependency, id)
		}
		marks[id] = visiting
		e := r.plugins[id]
		for _, dep := range e.manifest.Requires {
			if _, exists := r.plugins[dep.ID]; !exists {
				// Missing dependencies surface at activation with a
				// proper error; they do not break the sort.
				continue
			}
			if dep.Optional {
				continue
			}
			if err := visit(dep.ID); err != nil {
				return err
			}
		}
		marks[id] = done
		ordered = append(ordered, id)
		return nil
	}

	for _, id := range r.order {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// DeactivateAll deactivates every active plugin in reverse registration
// order and releases lazy activation bindings.
func (r *Registry) DeactivateAll(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, len(r.order))
	for i, id := range r.order {
		names[len(r.order)-1-i] = id
	}
	unsubs := r.lazyUnsubs
	r.lazyUnsubs = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, id := range names {
		_ = r.Deactivate(ctx, id)
	}
}

// State returns a plugin's lifecycle state.
func (r *Registry) State(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.plugins[id]
	if !exists {
		return 0, false
	}
	return e.state, true
}

// Manifest returns a copy of a registered plugin's manifest.
func (r *Registry) Manifest(id string) (*Manifest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.plugins[id]
	if !exists {
		return nil, false
	}
	return e.manifest.Clone(), true
}

// List returns registered plugin ids in registration order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Active returns the ids of active plugins in registration order.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.plugins[id].state == StateActive {
			active = append(active, id)
		}
	}
	return active
}

// Errors returns the recorded error for every failed plugin. This is
// the host's diagnostics surface: a failed plugin is reported here and
// never blocks the rest of the application.
func (r *Registry) Errors() map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errs := make(map[string]error)
	for id, e := range r.plugins {
		if e.state == StateFailed && e.err != nil {
			errs[id] = e.err
		}
	}
	return errs
}
