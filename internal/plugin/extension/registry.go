// Package extension implements the extension point registry: named,
// schema-validated contribution targets declared by one plugin and
// filled by others.
package extension

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Extension registry errors.
var (
	// ErrPointExists is returned when declaring an already-declared point.
	ErrPointExists = errors.New("extension point already declared")

	// ErrPointNotFound is returned when contributing to an unknown point.
	ErrPointNotFound = errors.New("extension point not found")

	// ErrCardinality is returned when a single-cardinality point already
	// holds a contribution from a different plugin.
	ErrCardinality = errors.New("extension point accepts a single contribution")

	// ErrInvalidSchema is returned when a point's schema does not compile.
	ErrInvalidSchema = errors.New("invalid extension point schema")

	// ErrInvalidContribution is returned when a payload fails schema validation.
	ErrInvalidContribution = errors.New("invalid extension contribution")
)

// Point is a declared extension point.
type Point struct {
	ID       string
	Owner    string
	Multiple bool

	schema *jsonschema.Schema
}

// Contribution is a payload contributed to an extension point.
type Contribution struct {
	Point   string
	Owner   string
	Payload any

	order uint64
}

// Registry holds extension points and their contributions.
type Registry struct {
	mu            sync.RWMutex
	points        map[string]*Point
	contributions map[string][]Contribution
	seq           uint64
}

// NewRegistry creates an empty extension registry.
func NewRegistry() *Registry {
	return &Registry{
		points:        make(map[string]*Point),
		contributions: make(map[string][]Contribution),
	}
}

// Declare registers an extension point owned by a plugin.
// The schema is a raw JSON Schema document; a nil schema accepts any
// payload. Fails if the point id is already declared.
func (r *Registry) Declare(owner, pointID string, rawSchema json.RawMessage, multiple bool) error {
	var schema *jsonschema.Schema
	if len(rawSchema) > 0 {
		compiled, err := CompileSchema(pointID, rawSchema)
		if err != nil {
			return fmt.Errorf("%w: point %q: %v", ErrInvalidSchema, pointID, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.points[pointID]; exists {
		return fmt.Errorf("%w: %s", ErrPointExists, pointID)
	}
	r.points[pointID] = &Point{
		ID:       pointID,
		Owner:    owner,
		Multiple: multiple,
		schema:   schema,
	}
	return nil
}

// Contribute submits a payload to an extension point.
// The payload is validated against the point's schema. For a
// single-cardinality point the first contribution wins; a later one from
// a different plugin fails, while the same plugin replaces its own prior
// contribution (the re-activation case).
func (r *Registry) Contribute(owner, pointID string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	point, exists := r.points[pointID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrPointNotFound, pointID)
	}

	if point.schema != nil {
		if err := validatePayload(point.schema, payload); err != nil {
			return fmt.Errorf("%w: point %q: %v", ErrInvalidContribution, pointID, err)
		}
	}

	existing := r.contributions[pointID]
	if !point.Multiple && len(existing) > 0 {
		if existing[0].Owner != owner {
			return fmt.Errorf("%w: %s (held by %q)", ErrCardinality, pointID, existing[0].Owner)
		}
		// Same owner replaces its prior contribution, keeping its slot
		// in the resolution order.
		r.contributions[pointID] = []Contribution{{
			Point:   pointID,
			Owner:   owner,
			Payload: payload,
			order:   existing[0].order,
		}}
		return nil
	}

	r.seq++
	r.contributions[pointID] = append(existing, Contribution{
		Point:   pointID,
		Owner:   owner,
		Payload: payload,
		order:   r.seq,
	})
	return nil
}

// Resolve returns the contributions for a point in contribution order.
// Returns nil for an unknown point.
func (r *Registry) Resolve(pointID string) []Contribution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.contributions[pointID]
	if len(entries) == 0 {
		return nil
	}
	result := make([]Contribution, len(entries))
	copy(result, entries)
	return result
}

// Points returns all declared point ids.
func (r *Registry) Points() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.points))
	for id := range r.points {
		ids = append(ids, id)
	}
	return ids
}

// Lookup returns a declared point by id.
func (r *Registry) Lookup(pointID string) (*Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.points[pointID]
	return p, ok
}

// RemoveOwner removes every point declared by the plugin along with the
// point's contributions, and every contribution the plugin made to other
// plugins' points. Called on deactivation.
func (r *Registry) RemoveOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, point := range r.points {
		if point.Owner == owner {
			delete(r.points, id)
			delete(r.contributions, id)
		}
	}

	for id, entries := range r.contributions {
		kept := entries[:0]
		for _, c := range entries {
			if c.Owner != owner {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(r.contributions, id)
		} else {
			r.contributions[id] = kept
		}
	}
}

// CompileSchema compiles a raw JSON Schema document.
func CompileSchema(name string, rawSchema json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(rawSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(resource)
}

// validatePayload validates an arbitrary Go value against a schema.
// The payload is round-tripped through JSON so Go structs and maps are
// validated in their wire form.
func validatePayload(schema *jsonschema.Schema, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
