package slot

import (
	"fmt"

	"go.uber.org/zap"
)

// RenderFunc produces the rendering layer's output for one contribution.
// It may return an error or panic; the supervisor contains both.
type RenderFunc func(reg Registration) (any, error)

// RenderError describes one contribution's render failure.
type RenderError struct {
	Plugin string
	Slot   Slot
	Cause  any
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed for plugin %q in slot %q: %v", e.Plugin, e.Slot, e.Cause)
}

// Placeholder is the inert stand-in for a crashed contribution. The
// rendering layer shows it in place of the component until Retry
// succeeds.
type Placeholder struct {
	Plugin string
	Slot   Slot
	Reason string
}

// RenderResult holds the supervised outcome for one contribution.
type RenderResult struct {
	Entry  Resolved
	Output any
	Err    *RenderError

	// Retry re-renders this contribution. Nil when the render succeeded.
	Retry func() RenderResult
}

// Failed reports whether the contribution crashed and was replaced by a
// placeholder.
func (r RenderResult) Failed() bool {
	return r.Err != nil
}

// Render resolves the slot and renders each visible contribution inside
// a per-contribution fault boundary. A crash in one contribution never
// removes or corrupts its siblings: the crashed entry is replaced by a
// Placeholder carrying a Retry, and the failure is reported through the
// callback rather than re-thrown. Hidden entries are skipped.
func (m *Manager) Render(s Slot, render RenderFunc, report func(*RenderError)) []RenderResult {
	entries := m.Registrations(s)
	results := make([]RenderResult, 0, len(entries))
	for _, entry := range entries {
		if !entry.Visible {
			continue
		}
		results = append(results, m.renderOne(entry, render, report))
	}
	return results
}

// renderOne renders a single contribution with panic containment.
func (m *Manager) renderOne(entry Resolved, render RenderFunc, report func(*RenderError)) RenderResult {
	output, cause := supervise(entry.Registration, render)
	if cause == nil {
		return RenderResult{Entry: entry, Output: output}
	}

	renderErr := &RenderError{
		Plugin: entry.Plugin,
		Slot:   entry.Slot,
		Cause:  cause,
	}
	m.log.Warn("slot contribution render failed",
		zap.String("plugin", entry.Plugin),
		zap.String("slot", string(entry.Slot)),
		zap.Any("cause", cause))
	if report != nil {
		report(renderErr)
	}

	return RenderResult{
		Entry: entry,
		Output: &Placeholder{
			Plugin: entry.Plugin,
			Slot:   entry.Slot,
			Reason: renderErr.Error(),
		},
		Err: renderErr,
		Retry: func() RenderResult {
			return m.renderOne(entry, render, report)
		},
	}
}

// supervise invokes the render function, converting a panic or error
// into a cause value.
func supervise(reg Registration, render RenderFunc) (output any, cause any) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			cause = r
		}
	}()
	output, err := render(reg)
	if err != nil {
		return nil, err
	}
	return output, nil
}
