package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cast"

	"github.com/framestep/tasbridge/pkg/studioproto"
)

var errQuit = errors.New("quit")

// editor is the part of studio.Client the shell drives.
type editor interface {
	Connect(ctx context.Context) error
	ForceReconnect(ctx context.Context) error
	Connected() bool

	SendPath(path string) error
	SendSettings(s studioproto.Settings) error
	SendHotkey(id studioproto.HotkeyID, released bool) error
	SendKeyEvent(key studioproto.Key, mods studioproto.Modifiers, released bool) bool
	SendCustomInfoTemplate(template string) error
	ClearWatch() error
	RequestRecord(fileName string) error

	RequestConsoleCommand(simple bool, done func(string))
	RequestModURL(done func(string))
	RequestModInfo(done func(string))
	RequestExactGameInfo(done func(string))
	RequestCustomInfoTemplate(done func(string))
	RequestRawInfo(template string, alwaysList bool, done func(json.RawMessage))
	RequestGameState(done func(*studioproto.GameState))
	RequestSetAutoComplete(args string, index int, done func([]studioproto.AutoCompleteEntry))
	RequestInvokeAutoComplete(args string, index int, done func([]studioproto.AutoCompleteEntry))
}

// shell runs one editor command per input line.
type shell struct {
	ed  editor
	out io.Writer
	ctx context.Context
}

const help = `commands:
  connect | reconnect | status
  path <file>
  press <hotkey> | release <hotkey>
  key <key> [shift|ctrl|alt ...] [up]
  settings <fastForward> <slowForward> [subpixel]
  template <text> | clearwatch | record <file>
  console [simple] | modurl | modinfo | info | template? | state
  rawinfo <template> [list]
  setac <args> | invokeac <args>
  quit`

func (s *shell) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch cmd {
	case "help", "?":
		fmt.Fprintln(s.out, help)
	case "quit", "exit":
		return errQuit
	case "connect":
		return s.ed.Connect(s.ctx)
	case "reconnect":
		return s.ed.ForceReconnect(s.ctx)
	case "status":
		fmt.Fprintf(s.out, "connected: %v\n", s.ed.Connected())

	case "path":
		if rest == "" {
			return errors.New("usage: path <file>")
		}
		return s.ed.SendPath(rest)
	case "press", "release":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <hotkey>", cmd)
		}
		id, err := studioproto.ParseHotkey(args[0])
		if err != nil {
			return err
		}
		return s.ed.SendHotkey(id, cmd == "release")
	case "key":
		return s.key(args)
	case "settings":
		return s.settings(args)
	case "template":
		return s.ed.SendCustomInfoTemplate(rest)
	case "clearwatch":
		return s.ed.ClearWatch()
	case "record":
		return s.ed.RequestRecord(rest)

	case "console":
		simple := len(args) > 0 && strings.EqualFold(args[0], "simple")
		s.printString(func(done func(string)) { s.ed.RequestConsoleCommand(simple, done) })
	case "modurl":
		s.printString(s.ed.RequestModURL)
	case "modinfo":
		s.printString(s.ed.RequestModInfo)
	case "info":
		s.printString(s.ed.RequestExactGameInfo)
	case "template?":
		s.printString(s.ed.RequestCustomInfoTemplate)
	case "rawinfo":
		if len(args) == 0 {
			return errors.New("usage: rawinfo <template> [list]")
		}
		list := len(args) > 1 && strings.EqualFold(args[len(args)-1], "list")
		template := args[0]
		res := make(chan json.RawMessage, 1)
		s.ed.RequestRawInfo(template, list, func(v json.RawMessage) { res <- v })
		fmt.Fprintln(s.out, string(<-res))
	case "state":
		res := make(chan *studioproto.GameState, 1)
		s.ed.RequestGameState(func(v *studioproto.GameState) { res <- v })
		gs := <-res
		if gs == nil {
			fmt.Fprintln(s.out, "no game state")
			return nil
		}
		fmt.Fprintf(s.out, "frame %d  %s/%s  pos (%.2f, %.2f)  speed (%.2f, %.2f)\n",
			gs.Frame, gs.Level, gs.Scene, gs.Position.X, gs.Position.Y, gs.Speed.X, gs.Speed.Y)
	case "setac", "invokeac":
		res := make(chan []studioproto.AutoCompleteEntry, 1)
		done := func(v []studioproto.AutoCompleteEntry) { res <- v }
		if cmd == "setac" {
			s.ed.RequestSetAutoComplete(rest, 0, done)
		} else {
			s.ed.RequestInvokeAutoComplete(rest, 0, done)
		}
		for _, e := range <-res {
			fmt.Fprintf(s.out, "%s%s\t%s\n", e.Prefix, e.Name, e.Extra)
		}

	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (s *shell) printString(request func(done func(string))) {
	res := make(chan string, 1)
	request(func(v string) { res <- v })
	fmt.Fprintln(s.out, <-res)
}

func (s *shell) key(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: key <key> [shift|ctrl|alt ...] [up]")
	}
	var mods studioproto.Modifiers
	released := false
	for _, a := range args[1:] {
		if strings.EqualFold(a, "up") {
			released = true
			continue
		}
		m := studioproto.Key(a).Modifier()
		if m == studioproto.ModNone {
			return fmt.Errorf("unknown modifier %q", a)
		}
		mods |= m
	}
	if !s.ed.SendKeyEvent(studioproto.Key(args[0]), mods, released) {
		fmt.Fprintf(s.out, "%s is not bound to a hotkey\n", args[0])
	}
	return nil
}

func (s *shell) settings(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: settings <fastForward> <slowForward> [subpixel]")
	}
	ff, err := cast.ToFloat64E(args[0])
	if err != nil {
		return fmt.Errorf("invalid fast forward speed: %w", err)
	}
	sf, err := cast.ToFloat64E(args[1])
	if err != nil {
		return fmt.Errorf("invalid slow forward speed: %w", err)
	}
	subpixel := false
	if len(args) > 2 {
		if subpixel, err = cast.ToBoolE(args[2]); err != nil {
			subpixel = strings.EqualFold(args[2], "subpixel")
		}
	}
	return s.ed.SendSettings(studioproto.Settings{
		FastForwardSpeed:      ff,
		SlowForwardSpeed:      sf,
		InfoSubpixelIndicator: subpixel,
	})
}

// formatState renders a snapshot as one status line.
func formatState(st studioproto.State) string {
	line := fmt.Sprintf("[%s] frame %d/%d line %d", st.PlaybackState, st.CurrentFrameInTas, st.TotalFrames, st.CurrentLine)
	if st.CurrentLineSuffix != "" {
		line += " " + st.CurrentLineSuffix
	}
	if st.LevelName != "" {
		line += " " + st.LevelName
	}
	if st.ChapterTime != "" {
		line += " " + st.ChapterTime
	}
	return line
}
