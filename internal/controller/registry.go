package controller

import (
	"fmt"
	"sync"
)

// Registry is the process-wide ident -> *Controller map: spec.md 3's
// invariant that exactly one Controller exists per ident, and spec.md 5's
// single-owner serialization of a connection across every client session.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Controller
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Controller)}
}

// Add registers c under c.Ident(). Returns an error if a Controller is
// already registered for that ident — callers must Remove the old one (or
// reuse it) first, never silently replace it.
func (r *Registry) Add(c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[c.Ident()]; exists {
		return fmt.Errorf("controller: %s is already open", c.Ident())
	}
	r.byID[c.Ident()] = c
	return nil
}

// Get looks up the Controller for ident.
func (r *Registry) Get(ident string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[ident]
	return c, ok
}

// Remove deletes the registry entry for ident, if any. It does not close the
// Controller; callers close before or after removing, per their own
// ordering needs.
func (r *Registry) Remove(ident string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, ident)
}

// Idents returns a snapshot of every currently registered ident.
func (r *Registry) Idents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	return out
}

// Len returns the number of open controllers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
