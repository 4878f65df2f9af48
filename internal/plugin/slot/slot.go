// Package slot implements the slot manager: named UI insertion points
// hosting priority-ordered, conditionally-visible plugin contributions.
package slot

import "sort"

// Slot is a named UI insertion point. The set of slots is closed.
type Slot string

// UI slots plugins can register contributions against.
const (
	SlotHeaderLeft   Slot = "header:left"
	SlotHeaderCenter Slot = "header:center"
	SlotHeaderRight  Slot = "header:right"
	SlotSidebarLeft  Slot = "sidebar:left"
	SlotSidebarRight Slot = "sidebar:right"
	SlotMainView     Slot = "main:view"
	SlotPanelBottom  Slot = "panel:bottom"
	SlotToolbarMain  Slot = "toolbar:main"
	SlotContextMenu  Slot = "context-menu"
)

// validSlots are the known insertion points.
var validSlots = map[Slot]bool{
	SlotHeaderLeft:   true,
	SlotHeaderCenter: true,
	SlotHeaderRight:  true,
	SlotSidebarLeft:  true,
	SlotSidebarRight: true,
	SlotMainView:     true,
	SlotPanelBottom:  true,
	SlotToolbarMain:  true,
	SlotContextMenu:  true,
}

// IsValidSlot returns true if the slot name is known.
func IsValidSlot(s Slot) bool {
	return validSlots[s]
}

// AllSlots returns all known slots, sorted by name.
func AllSlots() []Slot {
	slots := make([]Slot, 0, len(validSlots))
	for s := range validSlots {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// Registration is a plugin's contribution to a slot. It is owned by the
// registering plugin; the manager only reads it.
type Registration struct {
	// Plugin is the owning plugin id.
	Plugin string

	// Slot is the target insertion point.
	Slot Slot

	// Component is an opaque reference the rendering layer understands.
	Component any

	// Priority orders contributions within a slot (higher renders first).
	Priority int

	// When controls visibility; nil means always visible.
	When Predicate

	// WhenExpr is the source expression When was compiled from, if any.
	// Kept for diagnostics only.
	WhenExpr string

	// order is the registration sequence number, assigned by the manager.
	order uint64
}

// Resolved is a registration annotated with its current visibility.
// Hidden entries are returned rather than filtered so callers can keep
// hidden components mounted if they choose.
type Resolved struct {
	Registration
	Visible bool
}
