package store

import "sync"

// View modes the editor surface supports.
const (
	ViewModeTree   = "tree"
	ViewModeCanvas = "canvas"
	ViewModeSplit  = "split"
)

// UI tracks presentation state: dark mode, the active view mode, and
// which tree paths are expanded.
type UI struct {
	mu       sync.RWMutex
	darkMode bool
	viewMode string
	expanded map[string]bool
	onChange []func()
}

// NewUI creates a UI store defaulting to tree view.
func NewUI() *UI {
	return &UI{
		viewMode: ViewModeTree,
		expanded: make(map[string]bool),
	}
}

// DarkMode returns true when dark mode is on.
func (u *UI) DarkMode() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.darkMode
}

// SetDarkMode toggles dark mode.
func (u *UI) SetDarkMode(on bool) {
	u.mu.Lock()
	u.darkMode = on
	u.mu.Unlock()
	u.notify()
}

// ViewMode returns the active view mode.
func (u *UI) ViewMode() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.viewMode
}

// SetViewMode changes the active view mode.
func (u *UI) SetViewMode(mode string) {
	u.mu.Lock()
	u.viewMode = mode
	u.mu.Unlock()
	u.notify()
}

// IsExpanded returns true if the tree path is expanded.
func (u *UI) IsExpanded(path string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.expanded[path]
}

// SetExpanded marks a tree path expanded or collapsed.
func (u *UI) SetExpanded(path string, expanded bool) {
	u.mu.Lock()
	if expanded {
		u.expanded[path] = true
	} else {
		delete(u.expanded, path)
	}
	u.mu.Unlock()
	u.notify()
}

// OnChange registers a callback invoked after every change. Returns an
// unsubscribe function.
func (u *UI) OnChange(fn func()) func() {
	if fn == nil {
		return func() {}
	}

	u.mu.Lock()
	u.onChange = append(u.onChange, fn)
	index := len(u.onChange) - 1
	u.mu.Unlock()

	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		if index < len(u.onChange) {
			u.onChange[index] = nil
		}
	}
}

func (u *UI) notify() {
	u.mu.RLock()
	callbacks := make([]func(), len(u.onChange))
	copy(callbacks, u.onChange)
	u.mu.RUnlock()

	for _, fn := range callbacks {
		if fn != nil {
			fn()
		}
	}
}
