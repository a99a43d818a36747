// Package hotkey turns editor hotkey events into per-tick edge states.
package hotkey

import (
	"sync"

	"github.com/framestep/tasbridge/pkg/studioproto"
)

// ID aliases the wire hotkey identifier.
type ID = studioproto.HotkeyID

// Set tracks every hotkey. Apply may be called from any goroutine; Update and
// the queries belong to the playback goroutine.
type Set struct {
	mu     sync.Mutex
	held   [studioproto.HotkeyCount]bool
	pulsed [studioproto.HotkeyCount]bool

	cur  [studioproto.HotkeyCount]bool
	prev [studioproto.HotkeyCount]bool
}

// New creates a Set with nothing held.
func New() *Set {
	return &Set{}
}

// Apply records a press or release. A press released before the next Update
// still counts as held for one tick.
func (s *Set) Apply(id ID, released bool) {
	if id < 0 || id >= studioproto.HotkeyCount {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[id] = !released
	if !released {
		s.pulsed[id] = true
	}
}

// ReleaseAll forgets held keys, e.g. after the editor disconnected.
func (s *Set) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = [studioproto.HotkeyCount]bool{}
}

// Update samples the hotkeys once per meta tick.
func (s *Set) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev = s.cur
	for i := range s.cur {
		s.cur[i] = s.held[i] || s.pulsed[i]
	}
	s.pulsed = [studioproto.HotkeyCount]bool{}
}

// Check reports whether id is held this tick.
func (s *Set) Check(id ID) bool {
	return s.cur[id]
}

// Pressed reports whether id went down this tick.
func (s *Set) Pressed(id ID) bool {
	return s.cur[id] && !s.prev[id]
}

// Released reports whether id went up this tick.
func (s *Set) Released(id ID) bool {
	return !s.cur[id] && s.prev[id]
}
