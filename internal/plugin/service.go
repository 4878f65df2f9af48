package plugin

import (
	"fmt"
	"sync"
)

// Service is a named implementation of an interface, provided by one
// plugin and consumed by others.
type Service struct {
	ID        string
	Interface string
	Owner     string
	Impl      any
}

// ServiceRegistry holds provided services. At most one provider exists
// per service id.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewServiceRegistry creates an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[string]Service)}
}

// Provide registers a service implementation. Fails if the id already
// has a provider, unless the provider is the same plugin replacing its
// own implementation.
func (r *ServiceRegistry) Provide(owner, id, iface string, impl any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.services[id]; exists && existing.Owner != owner {
		return fmt.Errorf("%w: %s (provided by %q)", ErrServiceExists, id, existing.Owner)
	}
	r.services[id] = Service{ID: id, Interface: iface, Owner: owner, Impl: impl}
	return nil
}

// Resolve returns the implementation for a service id. Consumers fail
// softly: an absent service resolves to nil.
func (r *ServiceRegistry) Resolve(id string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if svc, exists := r.services[id]; exists {
		return svc.Impl
	}
	return nil
}

// Info returns the full service record for an id.
func (r *ServiceRegistry) Info(id string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, exists := r.services[id]
	return svc, exists
}

// RemoveOwner removes every service the plugin provides. Called on
// deactivation.
func (r *ServiceRegistry) RemoveOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, svc := range r.services {
		if svc.Owner == owner {
			delete(r.services, id)
		}
	}
}

// List returns all registered services.
func (r *ServiceRegistry) List() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	return services
}
