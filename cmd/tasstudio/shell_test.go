package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framestep/tasbridge/internal/hotkey"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

type fakeEditor struct {
	connected bool
	path      string
	settings  studioproto.Settings
	hotkeys   []studioproto.HotkeyPayload
	template  string
	cleared   bool
	record    string
	keyMods   studioproto.Modifiers
}

func (f *fakeEditor) Connect(context.Context) error        { f.connected = true; return nil }
func (f *fakeEditor) ForceReconnect(context.Context) error { f.connected = true; return nil }
func (f *fakeEditor) Connected() bool                      { return f.connected }
func (f *fakeEditor) SendPath(p string) error              { f.path = p; return nil }
func (f *fakeEditor) SendSettings(s studioproto.Settings) error {
	f.settings = s
	return nil
}
func (f *fakeEditor) SendHotkey(id studioproto.HotkeyID, released bool) error {
	f.hotkeys = append(f.hotkeys, studioproto.HotkeyPayload{Hotkey: id, Released: released})
	return nil
}
func (f *fakeEditor) SendKeyEvent(key studioproto.Key, mods studioproto.Modifiers, released bool) bool {
	f.keyMods = mods
	id, ok := hotkey.Match(hotkey.DefaultBindings(), key, mods)
	if ok {
		f.hotkeys = append(f.hotkeys, studioproto.HotkeyPayload{Hotkey: id, Released: released})
	}
	return ok
}
func (f *fakeEditor) SendCustomInfoTemplate(t string) error { f.template = t; return nil }
func (f *fakeEditor) ClearWatch() error                     { f.cleared = true; return nil }
func (f *fakeEditor) RequestRecord(name string) error       { f.record = name; return nil }

func (f *fakeEditor) RequestConsoleCommand(simple bool, done func(string)) {
	if simple {
		done("console load 1A")
		return
	}
	done("console load 1A 12.00 34.00")
}
func (f *fakeEditor) RequestModURL(done func(string))             { done("https://example.org/mod") }
func (f *fakeEditor) RequestModInfo(done func(string))            { done("") }
func (f *fakeEditor) RequestExactGameInfo(done func(string))      { done("Pos: 1.00, 2.00") }
func (f *fakeEditor) RequestCustomInfoTemplate(done func(string)) { done("{Player.Speed}") }
func (f *fakeEditor) RequestRawInfo(template string, alwaysList bool, done func(json.RawMessage)) {
	if alwaysList {
		done(json.RawMessage(`["` + template + `"]`))
		return
	}
	done(json.RawMessage(`"` + template + `"`))
}
func (f *fakeEditor) RequestGameState(done func(*studioproto.GameState)) {
	done(&studioproto.GameState{Frame: 7, Level: "1A", Scene: "Level", Position: studioproto.Vector2{X: 1, Y: 2}})
}
func (f *fakeEditor) RequestSetAutoComplete(args string, index int, done func([]studioproto.AutoCompleteEntry)) {
	done([]studioproto.AutoCompleteEntry{{Name: "Speed", Prefix: "Player."}})
}
func (f *fakeEditor) RequestInvokeAutoComplete(args string, index int, done func([]studioproto.AutoCompleteEntry)) {
	done(nil)
}

func newShell() (*shell, *fakeEditor, *bytes.Buffer) {
	ed := &fakeEditor{}
	out := &bytes.Buffer{}
	return &shell{ed: ed, out: out, ctx: context.Background()}, ed, out
}

func TestShell_Blank(t *testing.T) {
	sh, _, out := newShell()
	require.NoError(t, sh.exec("   "))
	assert.Zero(t, out.Len())
}

func TestShell_QuitAndUnknown(t *testing.T) {
	sh, _, _ := newShell()
	assert.ErrorIs(t, sh.exec("quit"), errQuit)
	assert.ErrorContains(t, sh.exec("teleport"), "unknown command")
}

func TestShell_ConnectAndStatus(t *testing.T) {
	sh, ed, out := newShell()
	require.NoError(t, sh.exec("connect"))
	assert.True(t, ed.connected)
	require.NoError(t, sh.exec("status"))
	assert.Equal(t, "connected: true\n", out.String())
}

func TestShell_PathKeepsSpaces(t *testing.T) {
	sh, ed, _ := newShell()
	require.NoError(t, sh.exec("path /tas/my run.tas"))
	assert.Equal(t, "/tas/my run.tas", ed.path)
	assert.Error(t, sh.exec("path"))
}

func TestShell_Hotkeys(t *testing.T) {
	sh, ed, _ := newShell()
	require.NoError(t, sh.exec("press startstop"))
	require.NoError(t, sh.exec("release StartStop"))
	assert.Equal(t, []studioproto.HotkeyPayload{
		{Hotkey: studioproto.HotkeyStartStop},
		{Hotkey: studioproto.HotkeyStartStop, Released: true},
	}, ed.hotkeys)

	assert.Error(t, sh.exec("press Teleport"))
	assert.Error(t, sh.exec("press"))
}

func TestShell_Key(t *testing.T) {
	sh, ed, out := newShell()
	require.NoError(t, sh.exec("key RightControl"))
	require.Len(t, ed.hotkeys, 1)
	assert.Equal(t, studioproto.HotkeyStartStop, ed.hotkeys[0].Hotkey)

	require.NoError(t, sh.exec("key Q shift ctrl up"))
	assert.Equal(t, studioproto.ModShift|studioproto.ModControl, ed.keyMods)
	assert.Contains(t, out.String(), "Q is not bound")

	assert.Error(t, sh.exec("key Q hyper"))
}

func TestShell_Settings(t *testing.T) {
	sh, ed, _ := newShell()
	require.NoError(t, sh.exec("settings 20 0.5 subpixel"))
	assert.Equal(t, studioproto.Settings{FastForwardSpeed: 20, SlowForwardSpeed: 0.5, InfoSubpixelIndicator: true}, ed.settings)

	require.NoError(t, sh.exec("settings 10 0.1 false"))
	assert.False(t, ed.settings.InfoSubpixelIndicator)

	assert.Error(t, sh.exec("settings fast 0.1"))
	assert.Error(t, sh.exec("settings 10"))
}

func TestShell_TemplateWatchRecord(t *testing.T) {
	sh, ed, _ := newShell()
	require.NoError(t, sh.exec("template {Player.Position} {Player.Speed}"))
	assert.Equal(t, "{Player.Position} {Player.Speed}", ed.template)
	require.NoError(t, sh.exec("clearwatch"))
	assert.True(t, ed.cleared)
	require.NoError(t, sh.exec("record run.mp4"))
	assert.Equal(t, "run.mp4", ed.record)
}

func TestShell_Requests(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"console", "console load 1A 12.00 34.00\n"},
		{"console simple", "console load 1A\n"},
		{"modurl", "https://example.org/mod\n"},
		{"modinfo", "\n"},
		{"info", "Pos: 1.00, 2.00\n"},
		{"template?", "{Player.Speed}\n"},
		{"rawinfo Player.Speed", "\"Player.Speed\"\n"},
		{"rawinfo Player.Speed list", "[\"Player.Speed\"]\n"},
		{"state", "frame 7  1A/Level  pos (1.00, 2.00)  speed (0.00, 0.00)\n"},
		{"setac Player.", "Player.Speed\t\n"},
		{"invokeac x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			sh, _, out := newShell()
			require.NoError(t, sh.exec(tt.line))
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestFormatState(t *testing.T) {
	st := studioproto.State{
		PlaybackState:     "Running",
		CurrentFrameInTas: 12,
		TotalFrames:       40,
		CurrentLine:       3,
		CurrentLineSuffix: "2",
		LevelName:         "1A",
		ChapterTime:       "0:00.200",
	}
	assert.Equal(t, "[Running] frame 12/40 line 3 2 1A 0:00.200", formatState(st))
	assert.Equal(t, "[Disabled] frame 0/0 line -1", formatState(studioproto.State{PlaybackState: "Disabled", CurrentLine: -1}))
}
