package plugin

import "errors"

// Plugin system errors.
var (
	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrInvalidManifest is returned when manifest validation fails.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrAlreadyRegistered is returned when registering a plugin id twice.
	ErrAlreadyRegistered = errors.New("plugin is already registered")

	// ErrPluginNotFound is returned when a plugin id is not registered.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrDependencyNotFound is returned when a required dependency is not
	// registered.
	ErrDependencyNotFound = errors.New("plugin dependency not found")

	// ErrDependencyVersion is returned when a registered dependency does
	// not satisfy the declared minimum version.
	ErrDependencyVersion = errors.New("plugin dependency version not satisfied")

	// ErrCyclicDependency is returned when required dependencies form a
	// cycle.
	ErrCyclicDependency = errors.New("cyclic plugin dependency detected")

	// ErrActivationFailed wraps an error thrown by an activation routine.
	ErrActivationFailed = errors.New("plugin activation failed")

	// ErrServiceExists is returned when providing a service id that
	// already has a provider.
	ErrServiceExists = errors.New("service already provided")

	// ErrInvalidSlot is returned when registering against an unknown slot.
	ErrInvalidSlot = errors.New("unknown slot")

	// ErrManifestNotFound is returned when a plugin directory has no
	// manifest file.
	ErrManifestNotFound = errors.New("plugin manifest not found")
)
