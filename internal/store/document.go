// Package store provides the host-side state stores the plugin system
// observes and mutates through the capability gate: the edited JSON
// document, the selection, and UI state.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/dshills/schemacanvas/internal/plugin/extension"
)

// Document store errors.
var (
	// ErrNoDocument is returned when mutating an unloaded document.
	ErrNoDocument = errors.New("no document loaded")

	// ErrInvalidDocument is returned when loading malformed JSON.
	ErrInvalidDocument = errors.New("document is not valid JSON")
)

// Document is the edited JSON document, addressed by gjson-style paths
// (for example "children.0.props.label").
type Document struct {
	mu       sync.RWMutex
	raw      []byte
	schema   *jsonschema.Schema
	onChange []func()
}

// NewDocument creates an empty document store.
func NewDocument() *Document {
	return &Document{}
}

// Load replaces the document with raw JSON.
func (d *Document) Load(raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return ErrInvalidDocument
	}

	d.mu.Lock()
	d.raw = append([]byte(nil), raw...)
	d.mu.Unlock()

	d.notify()
	return nil
}

// Clear unloads the document.
func (d *Document) Clear() {
	d.mu.Lock()
	d.raw = nil
	d.mu.Unlock()
	d.notify()
}

// Has returns true if a document is loaded.
func (d *Document) Has() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.raw != nil
}

// Value returns the value at the path and whether it exists.
func (d *Document) Value(path string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.raw == nil {
		return nil, false
	}
	result := gjson.GetBytes(d.raw, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// Set writes a value at the path, creating intermediate structure as
// needed.
func (d *Document) Set(path string, value any) error {
	d.mu.Lock()
	if d.raw == nil {
		d.mu.Unlock()
		return ErrNoDocument
	}
	updated, err := sjson.SetBytes(d.raw, path, value)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("set %q: %w", path, err)
	}
	d.raw = updated
	d.mu.Unlock()

	d.notify()
	return nil
}

// Delete removes the value at the path. Deleting a missing path is not
// an error.
func (d *Document) Delete(path string) error {
	d.mu.Lock()
	if d.raw == nil {
		d.mu.Unlock()
		return ErrNoDocument
	}
	updated, err := sjson.DeleteBytes(d.raw, path)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("delete %q: %w", path, err)
	}
	d.raw = updated
	d.mu.Unlock()

	d.notify()
	return nil
}

// Bytes returns a copy of the raw document.
func (d *Document) Bytes() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]byte(nil), d.raw...)
}

// Export returns the document pretty-printed for writing to disk.
func (d *Document) Export() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.raw == nil {
		return nil
	}
	return pretty.Pretty(d.raw)
}

// SetSchema installs a JSON Schema the document validates against.
// A nil schema removes validation.
func (d *Document) SetSchema(rawSchema []byte) error {
	if rawSchema == nil {
		d.mu.Lock()
		d.schema = nil
		d.mu.Unlock()
		return nil
	}

	schema, err := extension.CompileSchema("document", rawSchema)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.schema = schema
	d.mu.Unlock()
	return nil
}

// Validate checks the document against the installed schema. A document
// with no schema, or no content, validates trivially.
func (d *Document) Validate() error {
	d.mu.RLock()
	raw := d.raw
	schema := d.schema
	d.mu.RUnlock()

	if schema == nil || raw == nil {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}

// OnChange registers a callback invoked after every mutation. Returns
// an unsubscribe function.
func (d *Document) OnChange(fn func()) func() {
	if fn == nil {
		return func() {}
	}

	d.mu.Lock()
	d.onChange = append(d.onChange, fn)
	index := len(d.onChange) - 1
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if index < len(d.onChange) {
			d.onChange[index] = nil
		}
	}
}

// notify calls change callbacks outside the lock.
func (d *Document) notify() {
	d.mu.RLock()
	callbacks := make([]func(), len(d.onChange))
	copy(callbacks, d.onChange)
	d.mu.RUnlock()

	for _, fn := range callbacks {
		if fn != nil {
			fn()
		}
	}
}
