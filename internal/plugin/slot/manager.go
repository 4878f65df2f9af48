package slot

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Listener is notified when a slot's resolution may have changed.
type Listener func(s Slot)

// Manager resolves the ordered, visibility-annotated contribution list
// for each slot, recomputing visibility whenever the shared WhenContext
// changes. The host is the single writer of the registration index;
// plugins reach it only through their gated context.
type Manager struct {
	mu        sync.RWMutex
	regs      []*Registration
	seq       uint64
	context   WhenContext
	listeners []Listener
	log       *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used to report render failures.
func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager creates a slot manager with an empty context.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add indexes a registration. Registration order is preserved for
// priority tie-breaking. Invalid slot names are rejected upstream by
// the manifest validator; Add trusts its caller.
func (m *Manager) Add(reg Registration) {
	m.mu.Lock()
	m.seq++
	reg.order = m.seq
	m.regs = append(m.regs, &reg)
	m.mu.Unlock()

	m.notify(reg.Slot)
}

// RemovePlugin drops every registration owned by the plugin.
func (m *Manager) RemovePlugin(pluginID string) {
	m.mu.Lock()
	touched := make(map[Slot]bool)
	kept := m.regs[:0]
	for _, reg := range m.regs {
		if reg.Plugin == pluginID {
			touched[reg.Slot] = true
			continue
		}
		kept = append(kept, reg)
	}
	m.regs = kept
	m.mu.Unlock()

	for s := range touched {
		m.notify(s)
	}
}

// Registrations returns the slot's contributions sorted by descending
// priority, ties broken by registration order, each annotated with its
// visibility under the current context. Hidden entries are included so
// callers can decide whether to unmount them.
func (m *Manager) Registrations(s Slot) []Resolved {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []Resolved
	for _, reg := range m.regs {
		if reg.Slot != s {
			continue
		}
		visible := true
		if reg.When != nil {
			ctx := m.context.clone()
			visible = reg.When(&ctx)
		}
		entries = append(entries, Resolved{Registration: *reg, Visible: visible})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].order < entries[j].order
	})
	return entries
}

// Context returns a snapshot of the current WhenContext.
func (m *Manager) Context() WhenContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.context.clone()
}

// UpdateContext merges a patch into the shared WhenContext and
// synchronously notifies listeners for every known slot. Invalidation
// is coarse on purpose: recomputation is proportional to registrations,
// not document size.
func (m *Manager) UpdateContext(patch ContextPatch) {
	m.mu.Lock()
	m.context.apply(patch)
	m.mu.Unlock()

	for _, s := range AllSlots() {
		m.notify(s)
	}
}

// AddListener registers a slot-change listener. Returns an unsubscribe
// function.
func (m *Manager) AddListener(l Listener) func() {
	if l == nil {
		return func() {}
	}

	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	index := len(m.listeners) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting.
		if index < len(m.listeners) {
			m.listeners[index] = nil
		}
	}
}

// notify calls listeners outside the lock with panic recovery.
func (m *Manager) notify(s Slot) {
	m.mu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, l := range listeners {
		if l == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Warn("slot listener panicked",
						zap.String("slot", string(s)),
						zap.Any("panic", r))
				}
			}()
			l(s)
		}()
	}
}
