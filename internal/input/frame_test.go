package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		frames    int
		actions   Actions
		angle     float64
		magnitude float64
	}{
		{name: "count only", text: "12", frames: 12, magnitude: 1},
		{name: "padded", text: "   3,R,J", frames: 3, actions: ActionRight | ActionJump, magnitude: 1},
		{name: "lowercase and grouped", text: "1,rx", frames: 1, actions: ActionRight | ActionDash, magnitude: 1},
		{name: "feather angle", text: "5,F,90", frames: 5, actions: ActionFeather, angle: 90, magnitude: 1},
		{name: "feather magnitude", text: "5,J,F,45,0.5", frames: 5, actions: ActionJump | ActionFeather, angle: 45, magnitude: 0.5},
		{name: "feather clamped", text: "1,F,400,2", frames: 1, actions: ActionFeather, angle: 360, magnitude: 1},
		{name: "zero frames", text: "0,R", frames: 0, actions: ActionRight, magnitude: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame(tt.text, 4)
			require.NoError(t, err)
			assert.Equal(t, tt.frames, f.Frames)
			assert.Equal(t, tt.actions, f.Actions)
			assert.InDelta(t, tt.angle, f.Angle, 1e-9)
			assert.InDelta(t, tt.magnitude, f.Magnitude, 1e-9)
			assert.Equal(t, 4, f.Line)
		})
	}
}

func TestParseFrame_Invalid(t *testing.T) {
	for _, text := range []string{"x", "-1,R", "10000", "1,R,W", "1,F", "1,F,north"} {
		t.Run(text, func(t *testing.T) {
			_, err := ParseFrame(text, 0)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestFrame_String(t *testing.T) {
	f, err := ParseFrame("7,J,R,F,90,0.5", 0)
	require.NoError(t, err)
	assert.Equal(t, "   7,R,J,F,90,0.5", f.String())
	assert.Equal(t, "R,J,F", f.Actions.String())
}

func TestFrame_RepeatString(t *testing.T) {
	assert.Equal(t, "", (&Frame{}).RepeatString())
	assert.Equal(t, "", (*Frame)(nil).RepeatString())
	assert.Equal(t, " 2/3", (&Frame{RepeatIndex: 2, RepeatCount: 3}).RepeatString())
}

func TestIsInputLine(t *testing.T) {
	assert.True(t, IsInputLine("  15,R"))
	assert.False(t, IsInputLine("Read, a"))
	assert.False(t, IsInputLine("***"))
	assert.False(t, IsInputLine(""))
}
