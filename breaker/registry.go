package breaker

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

// Registry owns one breaker per dependency key, created lazily on first use
// and kept for the process lifetime.
type Registry struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry. A nil clock defaults to wall time.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		clock:    clock,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it with cfg if absent. The config
// of an existing breaker is not changed; the first caller wins.
func (r *Registry) Get(key string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(key, cfg, r.clock)
		r.breakers[key] = b
	}
	return b
}

// Reset closes the breaker for key if it exists.
func (r *Registry) Reset(key string) {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()

	if ok {
		b.Reset()
	}
}

// ResetAll closes every breaker in the registry.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	all := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}
	r.mu.Unlock()

	for _, b := range all {
		b.Reset()
	}
}

// Snapshots returns the state of every breaker, keyed by dependency.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	all := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}
	r.mu.Unlock()

	out := make(map[string]Snapshot, len(all))
	for _, b := range all {
		s := b.Snapshot()
		out[s.Key] = s
	}
	return out
}
