package codec

import (
	"fmt"
	"sort"
	"sync"
)

// Factory returns a fresh, empty payload value ready to be decoded into.
// It must return a pointer so serializers can fill it.
type Factory func() any

// Registry maps type codes to payload factories.
// It is built once at startup and is safe for concurrent reads.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under typeCode.
func (r *Registry) Register(typeCode string, factory Factory) error {
	if typeCode == "" {
		return ErrEmptyTypeCode
	}
	if factory == nil {
		return ErrNilFactory
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeCode]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTypeCode, typeCode)
	}
	r.factories[typeCode] = factory
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(typeCode string, factory Factory) {
	if err := r.Register(typeCode, factory); err != nil {
		panic(err)
	}
}

// Resolve returns the factory registered under typeCode.
func (r *Registry) Resolve(typeCode string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[typeCode]
	return factory, ok
}

// Codes returns all registered type codes in sorted order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.factories))
	for code := range r.factories {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// RegisterType registers a factory producing *T under typeCode.
func RegisterType[T any](r *Registry, typeCode string) error {
	return r.Register(typeCode, func() any { return new(T) })
}
