package reqflow

import "sync"

// registry is a named Client registry so callers spread across a codebase
// can share one configured instance per logical backend instead of wiring
// their own: a mutex-guarded map with double-checked-locking lookup.
type registry struct {
	mu        sync.RWMutex
	instances map[string]*Client
}

var defaultRegistry = &registry{instances: make(map[string]*Client)}

// Create returns the named Client, building it with opts on first use.
// Subsequent calls with the same name return the existing instance and
// ignore opts — Create is idempotent per name, not a reconfigure.
func Create(name string, opts ...Option) (*Client, error) {
	return defaultRegistry.create(name, opts...)
}

// Lookup returns the named Client if it has already been created.
func Lookup(name string) (*Client, bool) {
	return defaultRegistry.lookup(name)
}

func (r *registry) lookup(name string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.instances[name]
	return c, ok
}

func (r *registry) create(name string, opts ...Option) (*Client, error) {
	if c, ok := r.lookup(name); ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.instances[name]; ok {
		return c, nil
	}

	c, err := New(opts...)
	if err != nil {
		return nil, err
	}
	r.instances[name] = c
	return c, nil
}
