package studio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/framestep/tasbridge/internal/hotkey"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

func TestSession_Defaults(t *testing.T) {
	s := NewSession()

	st, ok := s.State()
	assert.False(t, ok)
	assert.Equal(t, -1, st.CurrentLine)
	assert.Equal(t, -1, s.SaveStateLine())
	assert.Equal(t, hotkey.DefaultBindings(), s.Bindings())
}

func TestSession_IgnoresStateWhileDisconnected(t *testing.T) {
	s := NewSession()
	s.Update(studioproto.State{CurrentLine: 3})
	assert.Equal(t, -1, s.CurrentLine())

	s.SetConnected(true)
	assert.Equal(t, -1, s.CurrentLine(), "nothing received yet")

	s.Update(studioproto.State{CurrentLine: 3, PlaybackState: "Running"})
	assert.Equal(t, 3, s.CurrentLine())
	assert.Equal(t, "Running", s.PlaybackState())

	s.SetConnected(false)
	s.SetConnected(true)
	assert.Equal(t, -1, s.CurrentLine(), "a new link starts empty")
}

func TestSession_SetBindingsNilRestoresDefaults(t *testing.T) {
	s := NewSession()
	s.SetBindings(studioproto.Bindings{studioproto.HotkeyRestart: {"F1"}})
	assert.Len(t, s.Bindings(), 1)

	s.SetBindings(nil)
	assert.Equal(t, hotkey.DefaultBindings(), s.Bindings())
}

func TestSession_ThreadSafe(t *testing.T) {
	s := NewSession()
	s.SetConnected(true)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Update(studioproto.State{CurrentFrameInTas: i})
		}()
		go func() {
			defer wg.Done()
			_ = s.CurrentFrameInTas()
			_ = s.Bindings()
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, s.CurrentFrameInTas(), 0)
}
