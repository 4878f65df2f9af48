package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateRegistered - Plugin is registered but has never been activated.
	StateRegistered State = iota

	// StateActivating - Plugin activation is in flight.
	StateActivating

	// StateActive - Plugin is active.
	StateActive

	// StateDeactivating - Plugin is being deactivated.
	StateDeactivating

	// StateInactive - Plugin was deactivated.
	StateInactive

	// StateFailed - Activation or deactivation threw.
	StateFailed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	case StateInactive:
		return "inactive"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanActivate returns true if an activation may start from this state.
func (s State) CanActivate() bool {
	return s == StateRegistered || s == StateInactive || s == StateFailed
}
