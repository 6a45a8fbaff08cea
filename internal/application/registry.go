package application

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
)

// BackendFactory builds the adapter serving cfg.
type BackendFactory func(cfg model.Configuration) (driven.Backend, error)

// BackendRegistry maps backend kinds to the factories that serve them.
type BackendRegistry struct {
	mu        sync.RWMutex
	factories map[model.BackendKind]BackendFactory
}

// NewBackendRegistry creates an empty registry.
func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{factories: make(map[model.BackendKind]BackendFactory)}
}

// Register installs factory for kind, replacing any previous one.
func (r *BackendRegistry) Register(kind model.BackendKind, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// RegisterBackend installs a backend that serves every configuration of its kind.
func (r *BackendRegistry) RegisterBackend(backend driven.Backend) {
	r.Register(backend.Kind(), func(model.Configuration) (driven.Backend, error) {
		return backend, nil
	})
}

// Resolve returns the backend for cfg, or an error wrapping
// model.ErrBackendUnavailable when no factory serves its kind.
func (r *BackendRegistry) Resolve(cfg model.Configuration) (driven.Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.BackendKind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: no adapter registered for %q", model.ErrBackendUnavailable, cfg.BackendKind)
	}

	backend, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrBackendUnavailable, cfg.BackendKind, err)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: %s factory returned no adapter", model.ErrBackendUnavailable, cfg.BackendKind)
	}
	return backend, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *BackendRegistry) Kinds() []model.BackendKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]model.BackendKind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}
