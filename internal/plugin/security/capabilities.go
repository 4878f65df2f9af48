// Package security provides the capability model for the plugin system.
package security

import (
	"fmt"
	"sort"
)

// Capability represents a permission that a plugin can request.
// The set of capabilities is closed: manifests may only request values
// from this enumeration.
type Capability string

// Core capabilities that plugins can request.
const (
	// CapabilityDocumentRead allows reading the edited document by path.
	CapabilityDocumentRead Capability = "document:read"

	// CapabilityDocumentWrite allows mutating the edited document by path.
	CapabilityDocumentWrite Capability = "document:write"

	// CapabilitySelectionRead allows reading the current selection.
	CapabilitySelectionRead Capability = "selection:read"

	// CapabilitySelectionWrite allows changing the current selection.
	CapabilitySelectionWrite Capability = "selection:write"

	// CapabilityUIRead allows reading UI state (view mode, dark mode).
	CapabilityUIRead Capability = "ui:read"

	// CapabilityUIWrite allows changing UI state.
	CapabilityUIWrite Capability = "ui:write"

	// CapabilityEventsEmit allows publishing events on the host bus.
	CapabilityEventsEmit Capability = "events:emit"

	// CapabilityEventsSubscribe allows subscribing to host events.
	CapabilityEventsSubscribe Capability = "events:subscribe"

	// CapabilityExtensionsDefine allows declaring extension points.
	CapabilityExtensionsDefine Capability = "extensions:define"

	// CapabilityExtensionsContribute allows contributing to extension points.
	CapabilityExtensionsContribute Capability = "extensions:contribute"

	// CapabilityServicesProvide allows providing named services.
	CapabilityServicesProvide Capability = "services:provide"

	// CapabilityServicesConsume allows resolving services by id.
	CapabilityServicesConsume Capability = "services:consume"

	// CapabilityStorageLocal allows plugin-scoped key/value storage.
	CapabilityStorageLocal Capability = "storage:local"
)

// capabilityRegistry holds metadata about all known capabilities.
var capabilityRegistry = map[Capability]CapabilityInfo{
	CapabilityDocumentRead: {
		Name:        CapabilityDocumentRead,
		DisplayName: "Document Read",
		Description: "Read the edited document by path",
	},
	CapabilityDocumentWrite: {
		Name:        CapabilityDocumentWrite,
		DisplayName: "Document Write",
		Description: "Modify the edited document by path",
	},
	CapabilitySelectionRead: {
		Name:        CapabilitySelectionRead,
		DisplayName: "Selection Read",
		Description: "Read selected, editing and hovered paths",
	},
	CapabilitySelectionWrite: {
		Name:        CapabilitySelectionWrite,
		DisplayName: "Selection Write",
		Description: "Change the selected path",
	},
	CapabilityUIRead: {
		Name:        CapabilityUIRead,
		DisplayName: "UI Read",
		Description: "Read view mode and dark mode",
	},
	CapabilityUIWrite: {
		Name:        CapabilityUIWrite,
		DisplayName: "UI Write",
		Description: "Change view mode and dark mode",
	},
	CapabilityEventsEmit: {
		Name:        CapabilityEventsEmit,
		DisplayName: "Emit Events",
		Description: "Publish events on the host event bus",
	},
	CapabilityEventsSubscribe: {
		Name:        CapabilityEventsSubscribe,
		DisplayName: "Subscribe to Events",
		Description: "Subscribe to events on the host event bus",
	},
	CapabilityExtensionsDefine: {
		Name:        CapabilityExtensionsDefine,
		DisplayName: "Define Extension Points",
		Description: "Declare schema-validated extension points",
	},
	CapabilityExtensionsContribute: {
		Name:        CapabilityExtensionsContribute,
		DisplayName: "Contribute Extensions",
		Description: "Contribute payloads to extension points",
	},
	CapabilityServicesProvide: {
		Name:        CapabilityServicesProvide,
		DisplayName: "Provide Services",
		Description: "Provide named service implementations",
	},
	CapabilityServicesConsume: {
		Name:        CapabilityServicesConsume,
		DisplayName: "Consume Services",
		Description: "Resolve services provided by other plugins",
	},
	CapabilityStorageLocal: {
		Name:        CapabilityStorageLocal,
		DisplayName: "Local Storage",
		Description: "Plugin-scoped key/value storage",
	},
}

// CapabilityInfo provides metadata about a capability.
type CapabilityInfo struct {
	// Name is the capability identifier.
	Name Capability

	// DisplayName is a human-readable name.
	DisplayName string

	// Description explains what the capability allows.
	Description string
}

// GetCapabilityInfo returns information about a capability.
func GetCapabilityInfo(cap Capability) (CapabilityInfo, bool) {
	info, ok := capabilityRegistry[cap]
	return info, ok
}

// IsValidCapability returns true if the capability is known.
func IsValidCapability(cap Capability) bool {
	_, ok := capabilityRegistry[cap]
	return ok
}

// AllCapabilities returns all known capabilities, sorted by name.
func AllCapabilities() []Capability {
	caps := make([]Capability, 0, len(capabilityRegistry))
	for cap := range capabilityRegistry {
		caps = append(caps, cap)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Set is a precomputed capability membership set. It is built once per
// plugin at registration so checks at the gate boundary are O(1).
type Set struct {
	members map[Capability]struct{}
}

// NewSet builds a Set from the declared capability list.
// Unknown capabilities are ignored; the manifest validator rejects them
// before a Set is ever built.
func NewSet(caps []Capability) Set {
	members := make(map[Capability]struct{}, len(caps))
	for _, cap := range caps {
		if IsValidCapability(cap) {
			members[cap] = struct{}{}
		}
	}
	return Set{members: members}
}

// Has returns true if the capability is in the set.
func (s Set) Has(cap Capability) bool {
	_, ok := s.members[cap]
	return ok
}

// Len returns the number of capabilities in the set.
func (s Set) Len() int {
	return len(s.members)
}

// List returns the capabilities in the set, sorted by name.
func (s Set) List() []Capability {
	caps := make([]Capability, 0, len(s.members))
	for cap := range s.members {
		caps = append(caps, cap)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// CapabilityError represents a capability-related error.
type CapabilityError struct {
	Capability Capability
	Plugin     string
	Operation  string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("plugin %q: capability %q required for %s", e.Plugin, e.Capability, e.Operation)
	}
	return fmt.Sprintf("plugin %q: capability %q not granted", e.Plugin, e.Capability)
}

// NewCapabilityError creates a new capability error.
func NewCapabilityError(plugin string, cap Capability, operation string) *CapabilityError {
	return &CapabilityError{
		Capability: cap,
		Plugin:     plugin,
		Operation:  operation,
	}
}
