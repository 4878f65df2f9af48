package extension

import (
	"encoding/json"
	"errors"
	"testing"
)

var nodeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"kind": {"type": "string"},
		"priority": {"type": "number"}
	},
	"required": ["kind"]
}`)

func TestDeclareAndResolve(t *testing.T) {
	r := NewRegistry()

	if err := r.Declare("core", "node-renderers", nodeSchema, true); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	if err := r.Contribute("tree-view", "node-renderers", map[string]any{"kind": "object"}); err != nil {
		t.Fatalf("Contribute() error = %v", err)
	}
	if err := r.Contribute("canvas-view", "node-renderers", map[string]any{"kind": "array"}); err != nil {
		t.Fatalf("Contribute() error = %v", err)
	}

	contributions := r.Resolve("node-renderers")
	if len(contributions) != 2 {
		t.Fatalf("Resolve() returned %d contributions, want 2", len(contributions))
	}
	if contributions[0].Owner != "tree-view" || contributions[1].Owner != "canvas-view" {
		t.Errorf("contribution order = [%s %s], want [tree-view canvas-view]",
			contributions[0].Owner, contributions[1].Owner)
	}
}

func TestDeclareDuplicate(t *testing.T) {
	r := NewRegistry()

	if err := r.Declare("a", "point", nil, true); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	err := r.Declare("b", "point", nil, true)
	if !errors.Is(err, ErrPointExists) {
		t.Errorf("Declare() duplicate error = %v, want ErrPointExists", err)
	}
}

func TestDeclareBadSchema(t *testing.T) {
	r := NewRegistry()

	err := r.Declare("a", "point", json.RawMessage(`{"type": `), true)
	if !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("Declare() with malformed schema error = %v, want ErrInvalidSchema", err)
	}
}

func TestContributeUnknownPoint(t *testing.T) {
	r := NewRegistry()

	err := r.Contribute("a", "missing", map[string]any{})
	if !errors.Is(err, ErrPointNotFound) {
		t.Errorf("Contribute() error = %v, want ErrPointNotFound", err)
	}
}

func TestContributeSchemaMismatch(t *testing.T) {
	r := NewRegistry()

	if err := r.Declare("core", "node-renderers", nodeSchema, true); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	// Missing required "kind" field.
	err := r.Contribute("bad", "node-renderers", map[string]any{"priority": 3})
	if !errors.Is(err, ErrInvalidContribution) {
		t.Errorf("Contribute() error = %v, want ErrInvalidContribution", err)
	}
	if got := r.Resolve("node-renderers"); got != nil {
		t.Errorf("rejected contribution was stored: %v", got)
	}
}

func TestSingleCardinalityFirstWriterWins(t *testing.T) {
	r := NewRegistry()

	if err := r.Declare("core", "default-theme", nil, false); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	if err := r.Contribute("plugin-a", "default-theme", "dark"); err != nil {
		t.Fatalf("first Contribute() error = %v", err)
	}
	err := r.Contribute("plugin-b", "default-theme", "light")
	if !errors.Is(err, ErrCardinality) {
		t.Errorf("second Contribute() error = %v, want ErrCardinality", err)
	}

	contributions := r.Resolve("default-theme")
	if len(contributions) != 1 || contributions[0].Payload != "dark" {
		t.Errorf("Resolve() = %v, want single contribution %q", contributions, "dark")
	}
}

func TestSingleCardinalitySameOwnerReplaces(t *testing.T) {
	r := NewRegistry()

	if err := r.Declare("core", "default-theme", nil, false); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	if err := r.Contribute("plugin-a", "default-theme", "dark"); err != nil {
		t.Fatalf("first Contribute() error = %v", err)
	}
	// Re-activation: same owner replaces its own contribution.
	if err := r.Contribute("plugin-a", "default-theme", "solarized"); err != nil {
		t.Fatalf("replace Contribute() error = %v", err)
	}

	contributions := r.Resolve("default-theme")
	if len(contributions) != 1 || contributions[0].Payload != "solarized" {
		t.Errorf("Resolve() = %v, want single contribution %q", contributions, "solarized")
	}
}

func TestRemoveOwner(t *testing.T) {
	r := NewRegistry()

	if err := r.Declare("owner", "owned-point", nil, true); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if err := r.Declare("other", "other-point", nil, true); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if err := r.Contribute("owner", "other-point", "x"); err != nil {
		t.Fatalf("Contribute() error = %v", err)
	}
	if err := r.Contribute("third", "other-point", "y"); err != nil {
		t.Fatalf("Contribute() error = %v", err)
	}

	r.RemoveOwner("owner")

	if _, ok := r.Lookup("owned-point"); ok {
		t.Error("owned point should be removed with its owner")
	}
	contributions := r.Resolve("other-point")
	if len(contributions) != 1 || contributions[0].Owner != "third" {
		t.Errorf("Resolve(other-point) = %v, want only third's contribution", contributions)
	}
}
