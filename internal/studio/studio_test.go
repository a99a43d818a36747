package studio

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framestep/tasbridge/internal/dispatcher"
	"github.com/framestep/tasbridge/internal/hotkey"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type received struct {
	mu     sync.Mutex
	events []dispatcher.Event
}

func (r *received) add(e dispatcher.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *received) all() []dispatcher.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatcher.Event(nil), r.events...)
}

type fixture struct {
	host *Host
	d    *dispatcher.Dispatcher
	srv  *httptest.Server
	url  string
	got  *received
}

func newFixture(t *testing.T, bindings studioproto.Bindings) *fixture {
	t.Helper()

	d, err := dispatcher.New(discard())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	f := &fixture{d: d, got: &received{}}
	for _, typ := range []string{studioproto.TypePath, studioproto.TypeHotkey, studioproto.TypeSettings, studioproto.TypeClearWatch} {
		d.Register(typ, f.got.add)
	}

	f.host = NewHost(d, HostConfig{Bindings: bindings, Logger: discard()})
	f.srv = httptest.NewServer(f.host.Handler())
	t.Cleanup(f.srv.Close)
	t.Cleanup(func() { _ = f.host.Close() })

	f.url = "ws" + strings.TrimPrefix(f.srv.URL, "http") + Path
	return f
}

func (f *fixture) client(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	cfg.URL = f.url
	cfg.Logger = discard()
	c := NewClient(cfg)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	require.Eventually(t, f.host.Connected, time.Second, 5*time.Millisecond)
	return c
}

func TestHost_AnnouncesBindings(t *testing.T) {
	bindings := studioproto.Bindings{studioproto.HotkeyStartStop: {"F5"}}
	f := newFixture(t, bindings)
	c := f.client(t, ClientConfig{})

	assert.Eventually(t, func() bool {
		_, ok := c.Session().Bindings()[studioproto.HotkeyFastForward]
		return !ok
	}, time.Second, 5*time.Millisecond, "host bindings replace the defaults")
	assert.Equal(t, []studioproto.Key{"F5"}, c.Session().Bindings()[studioproto.HotkeyStartStop])
}

func TestHost_StateLatestWins(t *testing.T) {
	f := newFixture(t, hotkey.DefaultBindings())
	c := f.client(t, ClientConfig{})

	states := make(chan studioproto.State, 256)
	c.OnState(func(s studioproto.State) { states <- s })

	start := time.Now()
	for i := range 100 {
		f.host.SendState(studioproto.State{CurrentLine: i, CurrentFrameInTas: i, TotalFrames: 100, LevelName: "1A"})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond, "pushing state never waits on the editor")

	require.Eventually(t, func() bool { return c.Session().CurrentFrameInTas() == 99 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 99, c.Session().CurrentLine())
	assert.Equal(t, 100, c.Session().TotalFrames())
	assert.Equal(t, "1A", c.Session().LevelName())

	last := -1
	for len(states) > 0 {
		s := <-states
		assert.Greater(t, s.CurrentFrameInTas, last, "snapshots arrive in order")
		last = s.CurrentFrameInTas
	}
}

func TestClient_DisconnectedSentinels(t *testing.T) {
	f := newFixture(t, hotkey.DefaultBindings())
	c := f.client(t, ClientConfig{})

	disconnected := make(chan struct{}, 1)
	f.host.OnDisconnect(func() { disconnected <- struct{}{} })

	f.host.SendState(studioproto.State{
		CurrentLine: 4, CurrentLineSuffix: "2", CurrentFrameInTas: 10, TotalFrames: 20, SaveStateLine: 3,
		GameInfo: "Pos: 1, 2", LevelName: "1A", ChapterTime: "0:01.000",
		ShowSubpixelIndicator: true, SubpixelRemainder: studioproto.Vector2{X: 0.5, Y: 0.25},
	})
	require.Eventually(t, func() bool { return c.Session().CurrentLine() == 4 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())

	s := c.Session()
	assert.False(t, c.Connected())
	assert.False(t, s.Connected())
	assert.Equal(t, -1, s.CurrentLine())
	assert.Equal(t, "", s.CurrentLineSuffix())
	assert.Equal(t, -1, s.CurrentFrameInTas())
	assert.Equal(t, -1, s.TotalFrames())
	assert.Equal(t, -1, s.SaveStateLine())
	assert.Equal(t, "", s.GameInfo())
	assert.Equal(t, "", s.LevelName())
	assert.Equal(t, "", s.ChapterTime())
	assert.False(t, s.ShowSubpixelIndicator())
	assert.Equal(t, studioproto.Vector2{}, s.SubpixelRemainder())

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("host did not notice the editor leaving")
	}
	assert.False(t, f.host.Connected())
}

func TestClient_FireCommands(t *testing.T) {
	f := newFixture(t, hotkey.DefaultBindings())
	c := f.client(t, ClientConfig{})

	require.NoError(t, c.SendPath("/tas/main.tas"))
	require.NoError(t, c.SendSettings(studioproto.Settings{FastForwardSpeed: 20}))
	require.NoError(t, c.ClearWatch())

	require.Eventually(t, func() bool { return len(f.got.all()) == 3 }, time.Second, 5*time.Millisecond)
	events := f.got.all()

	var path studioproto.PathPayload
	require.NoError(t, events[0].Decode(&path))
	assert.Equal(t, "/tas/main.tas", path.Path)
	assert.Nil(t, events[0].Reply, "fire commands expect no reply")

	var settings studioproto.Settings
	require.NoError(t, events[1].Decode(&settings))
	assert.InDelta(t, 20.0, settings.FastForwardSpeed, 0)

	assert.Equal(t, studioproto.TypeClearWatch, events[2].Type)
}

func TestClient_SendKeyEvent(t *testing.T) {
	f := newFixture(t, hotkey.DefaultBindings())
	c := f.client(t, ClientConfig{})

	assert.True(t, c.SendKeyEvent("RightControl", studioproto.ModControl, false))
	assert.True(t, c.SendKeyEvent("RightShift", studioproto.ModAlt|studioproto.ModShift, false))
	assert.False(t, c.SendKeyEvent("F12", studioproto.ModNone, false))

	require.Eventually(t, func() bool { return len(f.got.all()) == 2 }, time.Second, 5*time.Millisecond)
	var first, second studioproto.HotkeyPayload
	require.NoError(t, f.got.all()[0].Decode(&first))
	require.NoError(t, f.got.all()[1].Decode(&second))
	assert.Equal(t, studioproto.HotkeyStartStop, first.Hotkey)
	assert.Equal(t, studioproto.HotkeyFastForwardComment, second.Hotkey)
}

func TestClient_DataRequestRoundTrip(t *testing.T) {
	f := newFixture(t, hotkey.DefaultBindings())
	f.d.Register(studioproto.TypeDataRequest, func(e dispatcher.Event) error {
		var req studioproto.DataRequest
		if err := e.Decode(&req); err != nil {
			return err
		}
		assert.Equal(t, req.ID, e.ID)

		switch req.Kind {
		case studioproto.DataModURL:
			return e.Reply("https://example.invalid")
		case studioproto.DataGameState:
			return e.Reply(&studioproto.GameState{Level: "2B", Frame: 7})
		case studioproto.DataSetAutoComplete:
			var args studioproto.AutoCompleteArgs
			if err := json.Unmarshal(req.Payload, &args); err != nil {
				return err
			}
			return e.Reply([]studioproto.AutoCompleteEntry{{Name: "Speed", Prefix: args.Args, IsDone: true}})
		}
		return e.Reply(nil)
	})
	c := f.client(t, ClientConfig{})

	url := make(chan string, 1)
	c.RequestModURL(func(s string) { url <- s })
	assert.Equal(t, "https://example.invalid", <-url)

	state := make(chan *studioproto.GameState, 1)
	c.RequestGameState(func(s *studioproto.GameState) { state <- s })
	got := <-state
	require.NotNil(t, got)
	assert.Equal(t, "2B", got.Level)

	entries := make(chan []studioproto.AutoCompleteEntry, 1)
	c.RequestSetAutoComplete("Player.", 1, func(e []studioproto.AutoCompleteEntry) { entries <- e })
	assert.Equal(t, []studioproto.AutoCompleteEntry{{Name: "Speed", Prefix: "Player.", IsDone: true}}, <-entries)

	info := make(chan string, 1)
	c.RequestModInfo(func(s string) { info <- s })
	assert.Equal(t, "", <-info, "an empty answer is the neutral value")
}

func TestClient_RequestTimeoutResolvesNeutral(t *testing.T) {
	f := newFixture(t, hotkey.DefaultBindings())

	f.d.Register(studioproto.TypeDataRequest, func(e dispatcher.Event) error {
		var req studioproto.DataRequest
		_ = e.Decode(&req)
		if req.Kind == studioproto.DataInvokeAutoComplete {
			time.Sleep(150 * time.Millisecond)
			return e.Reply([]studioproto.AutoCompleteEntry{{Name: "Kill"}})
		}
		return nil
	})

	c := f.client(t, ClientConfig{RequestTimeout: 30 * time.Millisecond, LongRequestTimeout: 2 * time.Second})

	text := make(chan string, 1)
	start := time.Now()
	c.RequestConsoleCommand(true, func(s string) { text <- s })
	select {
	case s := <-text:
		assert.Equal(t, "", s)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("request never resolved")
	}

	entries := make(chan []studioproto.AutoCompleteEntry, 1)
	c.RequestInvokeAutoComplete("Player.", 0, func(e []studioproto.AutoCompleteEntry) { entries <- e })
	select {
	case e := <-entries:
		assert.Equal(t, []studioproto.AutoCompleteEntry{{Name: "Kill"}}, e, "autocomplete gets the long timeout")
	case <-time.After(3 * time.Second):
		t.Fatal("autocomplete never resolved")
	}
}

func TestClient_DisconnectResolvesPending(t *testing.T) {
	f := newFixture(t, hotkey.DefaultBindings())
	f.d.Register(studioproto.TypeDataRequest, func(dispatcher.Event) error { return nil })

	c := f.client(t, ClientConfig{RequestTimeout: time.Minute, LongRequestTimeout: time.Minute})

	raw := make(chan json.RawMessage, 1)
	c.RequestRawInfo("Player.Position", true, func(r json.RawMessage) { raw <- r })

	require.NoError(t, c.Close())
	select {
	case r := <-raw:
		assert.Nil(t, r)
	case <-time.After(time.Second):
		t.Fatal("pending request not resolved on disconnect")
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/studio", Logger: discard()})

	assert.ErrorIs(t, c.SendPath("a.tas"), ErrDisconnected)
	assert.True(t, c.SendKeyEvent("RightControl", studioproto.ModNone, false), "a bound key is consumed even when it cannot be sent")

	called := false
	c.RequestModURL(func(s string) {
		called = true
		assert.Equal(t, "", s)
	})
	assert.True(t, called, "resolves immediately")
	assert.Equal(t, -1, c.Session().CurrentLine())
}

func TestClient_DialDoesNotBlockCallers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	// Accept the TCP connection but never answer the upgrade.
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := NewClient(ClientConfig{URL: "ws://" + ln.Addr().String() + Path, Logger: discard()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialErr := make(chan error, 1)
	go func() { dialErr <- c.Connect(ctx) }()

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not dial")
	}
	defer conn.Close()

	start := time.Now()
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.SendHotkey(studioproto.HotkeyStartStop, false), ErrDisconnected)
	var url string
	c.RequestModURL(func(s string) { url = s })
	assert.Equal(t, "", url)
	assert.NoError(t, c.Connect(ctx), "a second connect does not dial again")
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	cancel()
	_ = conn.Close()
	select {
	case err := <-dialErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dial did not stop")
	}
	assert.False(t, c.Connected())
}

func TestClient_ForceReconnect(t *testing.T) {
	f := newFixture(t, hotkey.DefaultBindings())
	c := f.client(t, ClientConfig{})

	f.host.SendState(studioproto.State{CurrentLine: 5})
	require.Eventually(t, func() bool { return c.Session().CurrentLine() == 5 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.ForceReconnect(context.Background()))
	assert.True(t, c.Connected())
	assert.Equal(t, -1, c.Session().CurrentLine(), "no stale state after reconnecting")

	require.Eventually(t, f.host.Connected, time.Second, 5*time.Millisecond)
	require.NoError(t, c.SendPath("again.tas"))
	require.Eventually(t, func() bool { return len(f.got.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHost_NewEditorReplacesOld(t *testing.T) {
	f := newFixture(t, hotkey.DefaultBindings())
	first := f.client(t, ClientConfig{})
	second := f.client(t, ClientConfig{})

	require.Eventually(t, func() bool { return !first.Connected() }, time.Second, 5*time.Millisecond)
	assert.True(t, second.Connected())

	f.host.SendState(studioproto.State{CurrentLine: 8})
	require.Eventually(t, func() bool { return second.Session().CurrentLine() == 8 }, time.Second, 5*time.Millisecond)
}
