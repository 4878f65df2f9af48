package store

import "sync"

// Selection tracks the selected, editing and hovered document paths.
type Selection struct {
	mu       sync.RWMutex
	selected string
	editing  string
	hovered  string
	onChange []func()
}

// NewSelection creates an empty selection store.
func NewSelection() *Selection {
	return &Selection{}
}

// Selected returns the selected path ("" when nothing is selected).
func (s *Selection) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// SetSelected changes the selected path.
func (s *Selection) SetSelected(path string) {
	s.mu.Lock()
	s.selected = path
	s.mu.Unlock()
	s.notify()
}

// Editing returns the path being edited.
func (s *Selection) Editing() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.editing
}

// SetEditing changes the editing path.
func (s *Selection) SetEditing(path string) {
	s.mu.Lock()
	s.editing = path
	s.mu.Unlock()
	s.notify()
}

// Hovered returns the hovered path.
func (s *Selection) Hovered() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hovered
}

// SetHovered changes the hovered path.
func (s *Selection) SetHovered(path string) {
	s.mu.Lock()
	s.hovered = path
	s.mu.Unlock()
	s.notify()
}

// Clear resets the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	s.selected = ""
	s.editing = ""
	s.hovered = ""
	s.mu.Unlock()
	s.notify()
}

// OnChange registers a callback invoked after every change. Returns an
// unsubscribe function.
func (s *Selection) OnChange(fn func()) func() {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	index := len(s.onChange) - 1
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if index < len(s.onChange) {
			s.onChange[index] = nil
		}
	}
}

func (s *Selection) notify() {
	s.mu.RLock()
	callbacks := make([]func(), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.RUnlock()

	for _, fn := range callbacks {
		if fn != nil {
			fn()
		}
	}
}
