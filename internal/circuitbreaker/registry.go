package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
)

// Registry is a process-wide, concurrency-safe map of named breakers.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	log      *logger.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		log:      log,
	}
}

// GetOrCreate returns the named breaker, creating it with cfg if absent.
// Concurrent callers racing to create the same name resolve to a single
// instance.
func (r *Registry) GetOrCreate(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, cfg, r.log)
	r.breakers[name] = b
	return b
}

// Get returns the named breaker, if it exists.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Remove deletes the named breaker from the registry.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

// Enumerate returns the registered breaker names in sorted order.
func (r *Registry) Enumerate() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetAll resets every registered breaker to Closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}

// SnapshotAll returns a point-in-time snapshot of every registered
// breaker, keyed by name.
func (r *Registry) SnapshotAll() map[string]Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]Snapshot, len(breakers))
	for _, b := range breakers {
		out[b.Name()] = b.Snapshot()
	}
	return out
}
