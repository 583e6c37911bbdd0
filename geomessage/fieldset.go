package geomessage

import (
	"slices"
	"sync"
)

// FieldSet is a set of field names safe for concurrent use. The UI side
// edits it while the replay scheduler reads snapshots.
type FieldSet struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func NewFieldSet(names ...string) *FieldSet {
	s := &FieldSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

func (s *FieldSet) Add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[name] = struct{}{}
}

func (s *FieldSet) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, name)
}

// Replace swaps the whole selection at once.
func (s *FieldSet) Replace(names []string) {
	next := make(map[string]struct{}, len(names))
	for _, n := range names {
		next[n] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = next
}

func (s *FieldSet) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[name]
	return ok
}

func (s *FieldSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}

// Names returns a sorted snapshot of the set.
func (s *FieldSet) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.names))
	for n := range s.names {
		names = append(names, n)
	}
	s.mu.RUnlock()

	slices.Sort(names)
	return names
}
