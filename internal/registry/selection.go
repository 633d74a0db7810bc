package registry

import (
	"fmt"
	"sync"
)

// Selection tracks which providers are switched on. It only ever holds flags;
// the active set for a run is re-derived from the registry on demand.
type Selection struct {
	registry *Registry
	flags    map[string]bool
	mutex    sync.RWMutex
}

// NewSelection creates a selection with every registered provider enabled.
func NewSelection(r *Registry) *Selection {
	flags := make(map[string]bool, r.Len())
	for _, key := range r.Keys() {
		flags[key] = true
	}
	return &Selection{registry: r, flags: flags}
}

// Registry returns the registry the selection filters.
func (s *Selection) Registry() *Registry {
	return s.registry
}

// Activate enables a provider.
func (s *Selection) Activate(key string) error {
	return s.setFlag(key, true)
}

// Deactivate disables a provider.
func (s *Selection) Deactivate(key string) error {
	return s.setFlag(key, false)
}

func (s *Selection) setFlag(key string, on bool) error {
	if !s.registry.Contains(key) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, key)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.flags[key] = on
	return nil
}

// Set replaces the flags wholesale. Providers missing from flags become
// inactive. Unknown keys are rejected before anything changes.
func (s *Selection) Set(flags map[string]bool) error {
	next := make(map[string]bool, s.registry.Len())
	for key, on := range flags {
		if !s.registry.Contains(key) {
			return fmt.Errorf("%w: %s", ErrUnknownProvider, key)
		}
		next[key] = on
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.flags = next
	return nil
}

// Flags returns a snapshot of the activation flags for every registered provider.
func (s *Selection) Flags() map[string]bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make(map[string]bool, s.registry.Len())
	for _, key := range s.registry.Keys() {
		out[key] = s.flags[key]
	}
	return out
}

// Active derives the current active set.
func (s *Selection) Active() ActiveSet {
	return s.registry.Active(s.Flags())
}
