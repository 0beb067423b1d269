package alerts

import (
	"context"
	"sort"
	"sync"

	"github.com/t77yq/registry-monitor/internal/model"
)

// Backend is a notification channel. Expected failures such as a missing
// recipient or a remote error are logged by the backend and returned as an
// error; they are never allowed to escape the dispatcher.
type Backend interface {
	// Name returns the name the backend is configured under (e.g. "email").
	Name() string

	// Send delivers n using the backend specific params of the path.
	Send(ctx context.Context, n model.Notification, params model.Params) error
}

// Registry maps configured backend names to backends
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates a registry holding backends
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds b, replacing any backend registered under the same name
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

// Get looks up a backend by name
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Names returns the sorted names of all registered backends
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
