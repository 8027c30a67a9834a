package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nfrund/scriptrt/internal/config"
)

// Key is a type-safe, generic key for registering and retrieving services.
// The string value should be a unique identifier, e.g., "script.metadata".
type Key[T any] string

// ErrUnavailable is returned by Require when no service is registered under
// a key, which for runtime services means the extension is not initialized.
var ErrUnavailable = errors.New("service unavailable")

// Registry is the process-lifetime service container shared by the
// extension, the inspector and the CLI. It uses a sync.Map for concurrent-safe access.
type Registry struct {
	services sync.Map
	cfg      *config.Config
}

// New creates a new registry holding the application's configuration.
func New(cfg *config.Config) *Registry {
	return &Registry{
		cfg: cfg,
	}
}

// Config returns the configuration stored in the registry.
func (r *Registry) Config() *config.Config {
	return r.cfg
}

// Set registers a service instance against a type-safe key.
func Set[T any](r *Registry, key Key[T], value T) {
	r.services.Store(string(key), value)
}

// Delete removes the service registered under key.
func Delete[T any](r *Registry, key Key[T]) {
	r.services.Delete(string(key))
}

// Get retrieves a service from the registry by its key.
func Get[T any](r *Registry, key Key[T]) (T, bool) {
	val, ok := r.services.Load(string(key))
	if !ok {
		var zero T
		return zero, false
	}

	result, ok := val.(T)
	if !ok {
		var zero T
		return zero, false
	}

	return result, true
}

// Require retrieves a service or returns an error wrapping ErrUnavailable
// that names the missing key.
func Require[T any](r *Registry, key Key[T]) (T, error) {
	val, ok := Get(r, key)
	if !ok {
		return val, fmt.Errorf("%s: %w", string(key), ErrUnavailable)
	}
	return val, nil
}

// Names returns the keys of every registered service, sorted
func (r *Registry) Names() []string {
	var names []string
	r.services.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// MustGet retrieves a service or panics if not found. This is useful for
// wiring up essential dependencies at startup.
func MustGet[T any](r *Registry, key Key[T]) T {
	val, ok := Get(r, key)
	if !ok {
		panic(fmt.Sprintf("service not found for key: %v", key))
	}
	return val
}
