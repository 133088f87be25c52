// Package debugflags holds the verbose-logging categories that can be toggled at runtime.
package debugflags

import (
	"sort"
	"sync"
)

const (
	AI   = "AI"
	WS   = "ws"
	HTTP = "http"
	Cmd  = "cmd"
)

var known = map[string]struct{}{AI: {}, WS: {}, HTTP: {}, Cmd: {}}

func Known(name string) bool {
	_, ok := known[name]
	return ok
}

// Set is safe for concurrent use. The zero value has every category off.
type Set struct {
	mu sync.RWMutex
	on map[string]bool
}

// New returns a set with the given categories enabled; unknown names are ignored.
func New(enabled ...string) *Set {
	s := &Set{on: map[string]bool{}}
	for _, e := range enabled {
		if Known(e) {
			s.on[e] = true
		}
	}
	return s
}

// On reports whether a category is enabled. A nil set has everything off.
func (s *Set) On(name string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.on[name]
}

// Toggle flips each named category.
func (s *Set) Toggle(names ...string) (added, removed, invalid []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.on == nil {
		s.on = map[string]bool{}
	}
	for _, n := range names {
		switch {
		case !Known(n):
			invalid = append(invalid, n)
		case s.on[n]:
			delete(s.on, n)
			removed = append(removed, n)
		default:
			s.on[n] = true
			added = append(added, n)
		}
	}
	return added, removed, invalid
}

// Enabled lists the enabled categories in sorted order.
func (s *Set) Enabled() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.on))
	for n := range s.on {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
