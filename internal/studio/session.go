package studio

import (
	"sync"

	"github.com/framestep/tasbridge/internal/hotkey"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

// Session holds what the editor knows about the host. Every accessor reports
// a disconnected sentinel instead of the last received value once the link
// is down.
type Session struct {
	mu        sync.RWMutex
	connected bool
	received  bool
	state     studioproto.State
	bindings  studioproto.Bindings
}

// NewSession creates a disconnected session with the default bindings.
func NewSession() *Session {
	return &Session{bindings: hotkey.DefaultBindings()}
}

// SetConnected marks the link up or down. Going down forgets the snapshot.
func (s *Session) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	s.received = false
	s.state = studioproto.State{}
}

// Connected reports whether the link is up.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Update stores the latest snapshot. Ignored while disconnected.
func (s *Session) Update(state studioproto.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.state = state
	s.received = true
}

// State returns the latest snapshot and whether there is one.
func (s *Session) State() (studioproto.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected || !s.received {
		return studioproto.State{CurrentLine: -1, CurrentFrameInTas: -1, TotalFrames: -1, SaveStateLine: -1}, false
	}
	return s.state, true
}

// CurrentLine returns -1 when disconnected.
func (s *Session) CurrentLine() int {
	st, _ := s.State()
	return st.CurrentLine
}

// CurrentLineSuffix returns "" when disconnected.
func (s *Session) CurrentLineSuffix() string {
	st, _ := s.State()
	return st.CurrentLineSuffix
}

// CurrentFrameInTas returns -1 when disconnected.
func (s *Session) CurrentFrameInTas() int {
	st, _ := s.State()
	return st.CurrentFrameInTas
}

// TotalFrames returns -1 when disconnected.
func (s *Session) TotalFrames() int {
	st, _ := s.State()
	return st.TotalFrames
}

// SaveStateLine returns -1 when disconnected.
func (s *Session) SaveStateLine() int {
	st, _ := s.State()
	return st.SaveStateLine
}

func (s *Session) PlaybackState() string {
	st, _ := s.State()
	return st.PlaybackState
}

func (s *Session) GameInfo() string {
	st, _ := s.State()
	return st.GameInfo
}

func (s *Session) LevelName() string {
	st, _ := s.State()
	return st.LevelName
}

func (s *Session) ChapterTime() string {
	st, _ := s.State()
	return st.ChapterTime
}

// ShowSubpixelIndicator returns false when disconnected.
func (s *Session) ShowSubpixelIndicator() bool {
	st, _ := s.State()
	return st.ShowSubpixelIndicator
}

// SubpixelRemainder returns (0,0) when disconnected.
func (s *Session) SubpixelRemainder() studioproto.Vector2 {
	st, _ := s.State()
	return st.SubpixelRemainder
}

// Bindings returns the hotkey bindings last announced by the host.
func (s *Session) Bindings() studioproto.Bindings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bindings
}

// SetBindings replaces the bindings. Nil restores the defaults.
func (s *Session) SetBindings(b studioproto.Bindings) {
	if b == nil {
		b = hotkey.DefaultBindings()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = b
}
