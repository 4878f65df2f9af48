// Package plugin implements the plugin host system: manifest validation,
// the capability gate, the plugin lifecycle registry, and the service
// registry. Plugins are capability-restricted feature modules composed
// into the editor through slots, extension points and the event bus.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/dshills/schemacanvas/internal/plugin/extension"
	"github.com/dshills/schemacanvas/internal/plugin/security"
	"github.com/dshills/schemacanvas/internal/plugin/slot"
)

// Activation modes.
const (
	// ActivationEager activates the plugin at host startup.
	ActivationEager = "eager"

	// ActivationLazy defers activation until one of the plugin's
	// activation events fires.
	ActivationLazy = "lazy"
)

// ActivationWildcard in activationEvents means "always eager",
// regardless of the declared activation mode. Eager wins on conflict.
const ActivationWildcard = "*"

// ManifestFile is the manifest filename inside a plugin directory.
const ManifestFile = "plugin.json"

// Manifest describes a plugin's identity, capabilities and declared
// contributions. It is immutable once validated.
type Manifest struct {
	// Identity
	ID          string `json:"id"`          // Unique identifier (e.g. "tree-outline")
	Name        string `json:"name"`        // Human-readable name
	Version     string `json:"version"`     // Semver (e.g. "1.2.0")
	APIVersion  string `json:"apiVersion"`  // Host API version the plugin targets
	Description string `json:"description"` // Short description

	// Activation
	Activation       string   `json:"activation"`       // "eager" or "lazy" (default eager)
	ActivationEvents []string `json:"activationEvents"` // Events that trigger lazy activation

	// Capabilities requested
	Capabilities []security.Capability `json:"capabilities"`

	// Contributions
	Slots           []SlotDeclaration           `json:"slots"`
	ExtensionPoints []ExtensionPointDeclaration `json:"extensionPoints"`
	Extensions      []ExtensionDeclaration      `json:"extensions"`
	Provides        []ServiceDeclaration        `json:"provides"`
	Consumes        []string                    `json:"consumes"`
	Emits           []string                    `json:"emits"`
	Subscribes      []string                    `json:"subscribes"`

	// Dependencies on other plugins
	Requires []Dependency `json:"requires"`
}

// SlotDeclaration declares a UI contribution to a named slot.
type SlotDeclaration struct {
	Slot      slot.Slot `json:"slot"`      // Target insertion point
	Component string    `json:"component"` // Key into the definition's component map
	Priority  int       `json:"priority"`  // Higher renders first (default 0)
	When      string    `json:"when"`      // Visibility expression (empty = always)
}

// ExtensionPointDeclaration declares an extension point the plugin owns.
type ExtensionPointDeclaration struct {
	ID       string          `json:"id"`       // Point id (e.g. "tree-outline.node-badges")
	Schema   json.RawMessage `json:"schema"`   // JSON Schema for contributions
	Multiple bool            `json:"multiple"` // Accepts multiple contributions
}

// ExtensionDeclaration contributes a payload to an extension point.
type ExtensionDeclaration struct {
	Point        string          `json:"point"`
	Contribution json.RawMessage `json:"contribution"`
}

// ServiceDeclaration declares a service the plugin provides.
type ServiceDeclaration struct {
	ID             string `json:"id"`
	Interface      string `json:"interface"`
	Implementation string `json:"implementation"` // Key into the definition's service map
}

// Dependency declares a required or optional dependency on another
// plugin, with an optional minimum version.
type Dependency struct {
	ID       string `json:"id"`
	Version  string `json:"version"`  // Minimum version (empty = any)
	Optional bool   `json:"optional"` // Skipped if absent
}

// ValidationError is one structured manifest validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("manifest: %s: %s", e.Field, e.Message)
}

// joinValidationErrors renders a validation error list as one message.
func joinValidationErrors(errs []ValidationError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// idPattern validates plugin ids.
var idPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// pointIDPattern validates extension point ids: dot-separated id segments.
var pointIDPattern = regexp.MustCompile(`^[a-z0-9-]+(\.[a-z0-9-]+)*$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// ValidateManifest parses and validates a raw manifest. It is a pure
// function: on failure it returns the structured error list and nothing
// is registered anywhere.
func ValidateManifest(raw []byte) (*Manifest, []ValidationError) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, []ValidationError{{Field: "manifest", Message: err.Error()}}
	}
	if errs := m.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &m, nil
}

// LoadManifest loads and validates a manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, errs := ValidateManifest(raw)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidManifest, joinValidationErrors(errs))
	}
	return m, nil
}

// LoadManifestFromDir loads a manifest from a plugin directory.
// Looks for plugin.json in the directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFile))
}

// Validate checks the manifest and returns every violation found.
func (m *Manifest) Validate() []ValidationError {
	var errs []ValidationError
	fail := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Identity
	if m.ID == "" {
		fail("id", "is required")
	} else if !idPattern.MatchString(m.ID) {
		fail("id", "%q must match [a-z0-9-]+", m.ID)
	}
	if m.Version == "" {
		fail("version", "is required")
	} else if !semverPattern.MatchString(m.Version) {
		fail("version", "%q must be valid semver", m.Version)
	}
	if m.APIVersion == "" {
		fail("apiVersion", "is required")
	}

	// Activation
	switch m.Activation {
	case "", ActivationEager, ActivationLazy:
	default:
		fail("activation", "%q must be %q or %q", m.Activation, ActivationEager, ActivationLazy)
	}
	if m.Activation == ActivationLazy && len(m.ActivationEvents) == 0 {
		fail("activationEvents", "lazy activation requires at least one activation event")
	}

	// Capabilities
	caps := security.NewSet(m.Capabilities)
	for i, cap := range m.Capabilities {
		if !security.IsValidCapability(cap) {
			fail(fmt.Sprintf("capabilities[%d]", i), "unknown capability %q", cap)
		}
	}

	// Slots
	for i, decl := range m.Slots {
		field := fmt.Sprintf("slots[%d]", i)
		if !slot.IsValidSlot(decl.Slot) {
			fail(field+".slot", "unknown slot %q", decl.Slot)
		}
		if decl.Component == "" {
			fail(field+".component", "is required")
		}
		if decl.When != "" {
			if _, err := slot.CompileWhen(decl.When); err != nil {
				fail(field+".when", "%v", err)
			}
		}
	}

	// Extension points
	for i, decl := range m.ExtensionPoints {
		field := fmt.Sprintf("extensionPoints[%d]", i)
		if !pointIDPattern.MatchString(decl.ID) {
			fail(field+".id", "%q is not a well-formed point id", decl.ID)
		}
		if len(decl.Schema) > 0 {
			if _, err := extension.CompileSchema(decl.ID, decl.Schema); err != nil {
				fail(field+".schema", "%v", err)
			}
		}
	}
	if len(m.ExtensionPoints) > 0 && !caps.Has(security.CapabilityExtensionsDefine) {
		fail("extensionPoints", "requires capability %q", security.CapabilityExtensionsDefine)
	}

	// Extension contributions: the target's existence is checked at
	// registration, since the owning plugin may not be loaded yet. Only
	// the id shape is checked here.
	for i, decl := range m.Extensions {
		if !pointIDPattern.MatchString(decl.Point) {
			fail(fmt.Sprintf("extensions[%d].point", i), "%q is not a well-formed point id", decl.Point)
		}
	}
	if len(m.Extensions) > 0 && !caps.Has(security.CapabilityExtensionsContribute) {
		fail("extensions", "requires capability %q", security.CapabilityExtensionsContribute)
	}

	// Services
	for i, decl := range m.Provides {
		field := fmt.Sprintf("provides[%d]", i)
		if decl.ID == "" {
			fail(field+".id", "is required")
		}
		if decl.Interface == "" {
			fail(field+".interface", "is required")
		}
	}
	if len(m.Provides) > 0 && !caps.Has(security.CapabilityServicesProvide) {
		fail("provides", "requires capability %q", security.CapabilityServicesProvide)
	}
	if len(m.Consumes) > 0 && !caps.Has(security.CapabilityServicesConsume) {
		fail("consumes", "requires capability %q", security.CapabilityServicesConsume)
	}

	// Events
	for i, name := range m.Emits {
		if name == "" {
			fail(fmt.Sprintf("emits[%d]", i), "event name must not be empty")
		}
	}
	for i, name := range m.Subscribes {
		if name == "" {
			fail(fmt.Sprintf("subscribes[%d]", i), "event name must not be empty")
		}
	}
	if len(m.Emits) > 0 && !caps.Has(security.CapabilityEventsEmit) {
		fail("emits", "requires capability %q", security.CapabilityEventsEmit)
	}
	if len(m.Subscribes) > 0 && !caps.Has(security.CapabilityEventsSubscribe) {
		fail("subscribes", "requires capability %q", security.CapabilityEventsSubscribe)
	}

	// Dependencies
	for i, dep := range m.Requires {
		field := fmt.Sprintf("requires[%d]", i)
		if dep.ID == "" {
			fail(field+".id", "is required")
		} else if !idPattern.MatchString(dep.ID) {
			fail(field+".id", "%q must match [a-z0-9-]+", dep.ID)
		}
		if dep.Version != "" && !semver.IsValid("v"+dep.Version) {
			fail(field+".version", "%q must be valid semver", dep.Version)
		}
	}

	return errs
}

// EffectiveActivation resolves the activation mode. A wildcard
// activation event forces eager activation even when the manifest says
// lazy: eager wins on that conflict.
func (m *Manifest) EffectiveActivation() string {
	for _, evt := range m.ActivationEvents {
		if evt == ActivationWildcard {
			return ActivationEager
		}
	}
	if m.Activation == ActivationLazy {
		return ActivationLazy
	}
	return ActivationEager
}

// HasCapability returns true if the plugin declares the capability.
func (m *Manifest) HasCapability(cap security.Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	display := m.Name
	if display == "" {
		display = m.ID
	}
	return fmt.Sprintf("%s v%s", display, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.ActivationEvents != nil {
		clone.ActivationEvents = append([]string(nil), m.ActivationEvents...)
	}
	if m.Capabilities != nil {
		clone.Capabilities = append([]security.Capability(nil), m.Capabilities...)
	}
	if m.Slots != nil {
		clone.Slots = append([]SlotDeclaration(nil), m.Slots...)
	}
	if m.ExtensionPoints != nil {
		clone.ExtensionPoints = make([]ExtensionPointDeclaration, len(m.ExtensionPoints))
		for i, decl := range m.ExtensionPoints {
			clone.ExtensionPoints[i] = decl
			if decl.Schema != nil {
				clone.ExtensionPoints[i].Schema = append(json.RawMessage(nil), decl.Schema...)
			}
		}
	}
	if m.Extensions != nil {
		clone.Extensions = make([]ExtensionDeclaration, len(m.Extensions))
		for i, decl := range m.Extensions {
			clone.Extensions[i] = decl
			if decl.Contribution != nil {
				clone.Extensions[i].Contribution = append(json.RawMessage(nil), decl.Contribution...)
			}
		}
	}
	if m.Provides != nil {
		clone.Provides = append([]ServiceDeclaration(nil), m.Provides...)
	}
	if m.Consumes != nil {
		clone.Consumes = append([]string(nil), m.Consumes...)
	}
	if m.Emits != nil {
		clone.Emits = append([]string(nil), m.Emits...)
	}
	if m.Subscribes != nil {
		clone.Subscribes = append([]string(nil), m.Subscribes...)
	}
	if m.Requires != nil {
		clone.Requires = append([]Dependency(nil), m.Requires...)
	}

	return &clone
}
