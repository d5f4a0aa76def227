package breaker

import (
	"sort"
	"sync"
)

// Registry hands out exactly one breaker per dependency name. Breakers are
// created lazily with the registry's config and options.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      Config
	opts     []Option
}

func NewRegistry(cfg Config, opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		opts:     opts,
	}
}

// Get returns the breaker for name, creating it on first use. Extra options
// apply only when this call creates the breaker.
func (r *Registry) Get(name string, opts ...Option) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have created it in between.
	if cb, ok = r.breakers[name]; ok {
		return cb
	}

	all := make([]Option, 0, len(r.opts)+len(opts))
	all = append(all, r.opts...)
	all = append(all, opts...)

	cb = New(name, r.cfg, all...)
	r.breakers[name] = cb
	return cb
}

// Snapshot is a point-in-time view of one breaker.
type Snapshot struct {
	Name  string `json:"name"`
	State State  `json:"state"`
	Stats Stats  `json:"stats"`
}

// Snapshot returns the state of every registered breaker, ordered by name.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		cb.mu.Lock()
		out = append(out, Snapshot{Name: cb.name, State: cb.state, Stats: cb.stats})
		cb.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
