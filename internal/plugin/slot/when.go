package slot

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// WhenContext is the shared snapshot of document/selection/UI state
// that visibility predicates are evaluated against. The host is the
// single writer; plugins only observe it through predicate evaluation.
type WhenContext struct {
	HasDocument  bool
	HasSelection bool
	ViewMode     string
	DarkMode     bool
	SelectedPath string
	HasErrors    bool

	// Custom holds host- or plugin-defined keys. Built-in keys win on
	// collision.
	Custom map[string]any
}

// Predicate decides visibility for a registration given the current
// context. Predicates must be pure: the same context always yields the
// same answer.
type Predicate func(wc *WhenContext) bool

// ContextPatch is a partial WhenContext update. Nil fields are left
// unchanged; Custom entries are merged key by key.
type ContextPatch struct {
	HasDocument  *bool
	HasSelection *bool
	ViewMode     *string
	DarkMode     *bool
	SelectedPath *string
	HasErrors    *bool
	Custom       map[string]any
}

// env returns the expression environment for predicate evaluation.
func (wc *WhenContext) env() map[string]any {
	env := make(map[string]any, len(wc.Custom)+6)
	for k, v := range wc.Custom {
		env[k] = v
	}
	env["hasDocument"] = wc.HasDocument
	env["hasSelection"] = wc.HasSelection
	env["viewMode"] = wc.ViewMode
	env["darkMode"] = wc.DarkMode
	env["selectedPath"] = wc.SelectedPath
	env["hasErrors"] = wc.HasErrors
	return env
}

// clone returns a deep copy of the context.
func (wc *WhenContext) clone() WhenContext {
	out := *wc
	if wc.Custom != nil {
		out.Custom = make(map[string]any, len(wc.Custom))
		for k, v := range wc.Custom {
			out.Custom[k] = v
		}
	}
	return out
}

// apply merges a patch into the context.
func (wc *WhenContext) apply(patch ContextPatch) {
	if patch.HasDocument != nil {
		wc.HasDocument = *patch.HasDocument
	}
	if patch.HasSelection != nil {
		wc.HasSelection = *patch.HasSelection
	}
	if patch.ViewMode != nil {
		wc.ViewMode = *patch.ViewMode
	}
	if patch.DarkMode != nil {
		wc.DarkMode = *patch.DarkMode
	}
	if patch.SelectedPath != nil {
		wc.SelectedPath = *patch.SelectedPath
	}
	if patch.HasErrors != nil {
		wc.HasErrors = *patch.HasErrors
	}
	if len(patch.Custom) > 0 {
		if wc.Custom == nil {
			wc.Custom = make(map[string]any, len(patch.Custom))
		}
		for k, v := range patch.Custom {
			wc.Custom[k] = v
		}
	}
}

// CompileWhen compiles a "when" expression into a Predicate. The
// expression language is closed: it can reference the built-in context
// keys (hasDocument, hasSelection, viewMode, darkMode, selectedPath,
// hasErrors) and custom keys, combined with the usual boolean and
// comparison operators. There is no access to anything outside the
// context.
func CompileWhen(src string) (Predicate, error) {
	program, err := expr.Compile(src,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("when expression %q: %w", src, err)
	}
	return exprPredicate(program), nil
}

// exprPredicate wraps a compiled program as a Predicate. Evaluation
// errors (such as a missing custom key used in a comparison) resolve to
// hidden rather than failing the resolution pass.
func exprPredicate(program *vm.Program) Predicate {
	return func(wc *WhenContext) bool {
		out, err := expr.Run(program, wc.env())
		if err != nil {
			return false
		}
		visible, ok := out.(bool)
		return ok && visible
	}
}
