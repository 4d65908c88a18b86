// Package registry holds the bounded, ordered set of watched targets.
package registry

import (
	"errors"
	"sync"

	"github.com/JakeFAU/zealywatch/internal/monitor"
)

// Registry errors.
var (
	ErrAlreadyExists = errors.New("target already registered")
	ErrLimitReached  = errors.New("target limit reached")
	ErrNotFound      = errors.New("target not found")
)

// Registry is a mutex-guarded map of targets that remembers insertion order.
// Every method holds the lock for one logical operation only and never
// performs I/O while holding it.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	targets  map[string]*monitor.Target
}

// New constructs a Registry that accepts at most capacity targets.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 1
	}
	return &Registry{
		capacity: capacity,
		targets:  make(map[string]*monitor.Target),
	}
}

// Add inserts target keyed by its URL. Existing state is never overwritten.
func (r *Registry) Add(target monitor.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.targets[target.URL]; exists {
		return ErrAlreadyExists
	}
	if len(r.order) >= r.capacity {
		return ErrLimitReached
	}
	t := target
	r.targets[target.URL] = &t
	r.order = append(r.order, target.URL)
	return nil
}

// CanAdd reports why url could not be added right now, without mutating.
func (r *Registry) CanAdd(url string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, exists := r.targets[url]; exists {
		return ErrAlreadyExists
	}
	if len(r.order) >= r.capacity {
		return ErrLimitReached
	}
	return nil
}

// Remove deletes url and returns its final state.
func (r *Registry) Remove(url string) (monitor.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[url]
	if !ok {
		return monitor.Target{}, ErrNotFound
	}
	delete(r.targets, url)
	for i, u := range r.order {
		if u == url {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *t, nil
}

// Get returns a copy of url's state.
func (r *Registry) Get(url string) (monitor.Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[url]
	if !ok {
		return monitor.Target{}, false
	}
	return *t, true
}

// Snapshot returns copies of all targets in insertion order.
func (r *Registry) Snapshot() []monitor.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]monitor.Target, 0, len(r.order))
	for _, url := range r.order {
		out = append(out, *r.targets[url])
	}
	return out
}

// Update applies mutate to url's state atomically and returns the result.
// The mutator must not block.
func (r *Registry) Update(url string, mutate func(*monitor.Target)) (monitor.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[url]
	if !ok {
		return monitor.Target{}, ErrNotFound
	}
	mutate(t)
	t.URL = url
	return *t, nil
}

// Purge removes every target and reports how many were dropped.
func (r *Registry) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.order)
	r.order = nil
	r.targets = make(map[string]*monitor.Target)
	return n
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Capacity returns the configured maximum.
func (r *Registry) Capacity() int {
	return r.capacity
}
