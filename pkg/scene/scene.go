// Package scene holds the element model shared with the drawing surface and a
// small in-memory scene used by the CLI client and tests.
package scene

import (
	"sync"
)

// Scene is the drawing surface as seen by the sync core.
type Scene interface {
	// Ready reports whether the scene is initialized and safe to read and mutate.
	Ready() bool
	// ReplaceElements swaps the whole element list.
	ReplaceElements(elements []Element)
}

// AppState is the ambient application state passed along with change
// notifications. The sync core never inspects it.
type AppState map[string]any

// ChangeListener is notified on every mutation of a MemoryScene, whether it
// came from a local edit or from ReplaceElements.
type ChangeListener func(elements []Element, appState AppState)

// MemoryScene is a thread-safe Scene kept entirely in memory.
type MemoryScene struct {
	mu        sync.RWMutex
	ready     bool
	elements  []Element
	appState  AppState
	listeners []ChangeListener
}

func NewMemoryScene() *MemoryScene {
	return &MemoryScene{appState: AppState{}}
}

func (s *MemoryScene) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *MemoryScene) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// OnChange registers a listener. Listeners run synchronously after the
// mutation, outside the scene lock.
func (s *MemoryScene) OnChange(l ChangeListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *MemoryScene) Elements() []Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Clone(s.elements)
}

func (s *MemoryScene) ReplaceElements(elements []Element) {
	s.mu.Lock()
	s.elements = Clone(elements)
	s.mu.Unlock()
	s.notify()
}

// Upsert applies a local edit: the element replaces any existing element with
// the same id, or is appended.
func (s *MemoryScene) Upsert(el Element) {
	s.mu.Lock()
	replaced := false
	for i := range s.elements {
		if s.elements[i].ID == el.ID {
			s.elements[i] = el
			replaced = true
			break
		}
	}
	if !replaced {
		s.elements = append(s.elements, el)
	}
	s.mu.Unlock()
	s.notify()
}

// Remove deletes the element with the given id and reports whether it existed.
func (s *MemoryScene) Remove(id string) bool {
	s.mu.Lock()
	idx := -1
	for i := range s.elements {
		if s.elements[i].ID == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		s.elements = append(s.elements[:idx:idx], s.elements[idx+1:]...)
	}
	s.mu.Unlock()
	if idx >= 0 {
		s.notify()
	}
	return idx >= 0
}

func (s *MemoryScene) SetAppState(key string, value any) {
	s.mu.Lock()
	next := make(AppState, len(s.appState)+1)
	for k, v := range s.appState {
		next[k] = v
	}
	next[key] = value
	s.appState = next
	s.mu.Unlock()
	s.notify()
}

func (s *MemoryScene) notify() {
	s.mu.RLock()
	elements := Clone(s.elements)
	appState := s.appState
	listeners := append([]ChangeListener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(elements, appState)
	}
}
