package providers

import (
	"errors"
	"sync"
)

var (
	// ErrAdapterNotFound is returned when no adapter is registered under an id
	ErrAdapterNotFound = errors.New("adapter not found")

	// ErrNilAdapter is returned when registering a nil adapter
	ErrNilAdapter = errors.New("adapter cannot be nil")

	// ErrEmptyProviderID is returned when an adapter reports an empty id
	ErrEmptyProviderID = errors.New("adapter provider id cannot be empty")
)

// Registry holds adapters keyed by provider id and remembers registration order.
// Registering an id twice replaces the adapter but keeps its original position.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces an adapter
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return ErrNilAdapter
	}
	id := adapter.Provider()
	if id == "" {
		return ErrEmptyProviderID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[id]; !exists {
		r.order = append(r.order, id)
	}
	r.adapters[id] = adapter
	return nil
}

// Get retrieves an adapter by id
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[id]
	if !ok {
		return nil, ErrAdapterNotFound
	}
	return adapter, nil
}

// Has reports whether an id is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[id]
	return ok
}

// First returns the earliest registered adapter
func (r *Registry) First() (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, false
	}
	return r.adapters[r.order[0]], true
}

// List returns adapters in registration order
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}

// Providers returns registered ids in registration order
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered adapters
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
