// Package state implements the sequential-mode-only mutable keyed container
// described in spec §3/§5. It is deliberately a distinct type from a plain
// map so that the prohibition on parallel-mode access (enforced by
// internal/script at the builtin call site, not here) has a concrete value
// to gate: callers must go through a *State obtained from a script Context,
// and Context refuses to hand one out in parallel mode.
package state

import "sync"

// State is a process-wide mutable keyed container, valid only in sequential
// mode. It is guarded by a mutex even though sequential mode drives it from
// a single goroutine, matching the teacher's habit of making shared
// containers safe by construction rather than by convention.
type State struct {
	mu   sync.Mutex
	data map[string]any
	order []string
}

// New returns an empty State.
func New() *State {
	return &State{data: make(map[string]any)}
}

func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *State) Index(key string) any {
	v, _ := s.Get(key)
	return v
}

func (s *State) Set(key string, val any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists {
		s.order = append(s.order, key)
	}
	s.data[key] = val
}

func (s *State) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func (s *State) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return
	}
	delete(s.data, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *State) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *State) Values() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.data[k])
	}
	return out
}

func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]any)
	s.order = nil
}

func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Mixin assigns m[k] for each k in keys, in the order of keys; keys absent
// from m are skipped, and keys of m that keys does not list are not
// assigned.
func (s *State) Mixin(keys []string, m map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		if _, exists := s.data[k]; !exists {
			s.order = append(s.order, k)
		}
		s.data[k] = v
	}
}

// ToMap returns a snapshot map, safe for read-only use by scripts.
func (s *State) ToMap() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}
