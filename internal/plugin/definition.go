package plugin

import "context"

// LifecycleFunc is a plugin activation or deactivation routine. It
// receives the plugin's capability-restricted API and may block (the
// registry tracks the in-flight activation). A panic is treated the
// same as a returned error.
type LifecycleFunc func(ctx context.Context, api *API) error

// Definition is the runtime half of a plugin: the routines and values
// the manifest's declarations refer to.
type Definition struct {
	// Activate is invoked to activate the plugin. Optional.
	Activate LifecycleFunc

	// Deactivate is invoked best-effort on deactivation. Optional.
	Deactivate LifecycleFunc

	// Components maps the manifest's slot component keys to opaque
	// component references the rendering layer understands.
	Components map[string]any

	// Services maps the manifest's provides[].implementation keys to
	// service implementations.
	Services map[string]any
}

// component resolves a manifest component key. An unmapped key falls
// back to the key itself so declarative-only plugins still resolve.
func (d Definition) component(key string) any {
	if d.Components != nil {
		if c, ok := d.Components[key]; ok {
			return c
		}
	}
	return key
}
