package playback

import (
	"encoding/json"
	"fmt"

	"github.com/framestep/tasbridge/internal/dispatcher"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

// DataSource answers the editor's read-only queries. Its methods run on the
// playback goroutine.
type DataSource interface {
	ConsoleCommandText(simple bool) string
	ModURL() string
	ModInfo() string
	ExactGameInfo() string
	RawInfo(template string, alwaysList bool) any
	GameState() *studioproto.GameState
	CustomInfoTemplate() string
	SetCustomInfoTemplate(template string)
	ClearWatch()
}

// AutoCompleter suggests arguments for the Set and Invoke commands.
type AutoCompleter interface {
	SetAutoComplete(argsText string, index int) []studioproto.AutoCompleteEntry
	InvokeAutoComplete(argsText string, index int) []studioproto.AutoCompleteEntry
}

// RegisterHandlers wires the editor messages into the manager. Every message
// that touches playback state is applied through AddMainThreadAction, and
// each handler is safe to run twice for the same message.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher, data DataSource, ac AutoCompleter) {
	d.Register(studioproto.TypePath, func(e dispatcher.Event) error {
		var p studioproto.PathPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		m.AddMainThreadAction(func() { m.SetPath(p.Path) })
		return nil
	}, dispatcher.Logged())

	d.Register(studioproto.TypeSettings, func(e dispatcher.Event) error {
		var s studioproto.Settings
		if err := e.Decode(&s); err != nil {
			return err
		}
		m.AddMainThreadAction(func() { m.ApplySettings(s) })
		return nil
	}, dispatcher.Logged())

	d.Register(studioproto.TypeHotkey, func(e dispatcher.Event) error {
		var h studioproto.HotkeyPayload
		if err := e.Decode(&h); err != nil {
			return err
		}
		m.hotkeys.Apply(h.Hotkey, h.Released)
		return nil
	})

	d.Register(studioproto.TypeCustomInfoTemplate, func(e dispatcher.Event) error {
		var t studioproto.TemplatePayload
		if err := e.Decode(&t); err != nil {
			return err
		}
		m.AddMainThreadAction(func() { data.SetCustomInfoTemplate(t.Template) })
		return nil
	}, dispatcher.Logged())

	d.Register(studioproto.TypeClearWatch, func(e dispatcher.Event) error {
		m.AddMainThreadAction(data.ClearWatch)
		return nil
	}, dispatcher.Logged())

	d.Register(studioproto.TypeRecord, func(e dispatcher.Event) error {
		var r studioproto.RecordPayload
		if err := e.Decode(&r); err != nil {
			return err
		}
		m.logger.Warn("Recording is not supported by this host", "file", r.FileName)
		return nil
	}, dispatcher.Logged())

	d.Register(studioproto.TypeDataRequest, func(e dispatcher.Event) error {
		return m.handleDataRequest(e, data, ac)
	}, dispatcher.Buffered(16), dispatcher.Logged())
}

func (m *Manager) handleDataRequest(e dispatcher.Event, data DataSource, ac AutoCompleter) error {
	var req studioproto.DataRequest
	if err := e.Decode(&req); err != nil {
		return err
	}
	if e.Reply == nil {
		return fmt.Errorf("data request %s has no reply channel", req.ID)
	}

	switch req.Kind {
	case studioproto.DataSetAutoComplete, studioproto.DataInvokeAutoComplete:
		// Autocomplete only reads the target registry and may take a while,
		// so it stays off the playback goroutine.
		var args studioproto.AutoCompleteArgs
		if err := decodeArgs(req, &args); err != nil {
			return e.Reply(nil)
		}
		if req.Kind == studioproto.DataSetAutoComplete {
			return e.Reply(ac.SetAutoComplete(args.Args, args.Index))
		}
		return e.Reply(ac.InvokeAutoComplete(args.Args, args.Index))
	}

	var answer func() any
	switch req.Kind {
	case studioproto.DataConsoleCommand:
		var args studioproto.ConsoleCommandArgs
		_ = decodeArgs(req, &args)
		answer = func() any { return data.ConsoleCommandText(args.Simple) }
	case studioproto.DataModURL:
		answer = func() any { return data.ModURL() }
	case studioproto.DataModInfo:
		answer = func() any { return data.ModInfo() }
	case studioproto.DataExactGameInfo:
		answer = func() any { return data.ExactGameInfo() }
	case studioproto.DataRawInfo:
		var args studioproto.RawInfoArgs
		if err := decodeArgs(req, &args); err != nil {
			return e.Reply(nil)
		}
		answer = func() any { return data.RawInfo(args.Template, args.AlwaysList) }
	case studioproto.DataGameState:
		answer = func() any { return data.GameState() }
	case studioproto.DataCustomInfoTemplate:
		answer = func() any { return data.CustomInfoTemplate() }
	default:
		_ = e.Reply(nil)
		return fmt.Errorf("unknown data kind: %s", req.Kind)
	}

	m.AddMainThreadAction(func() {
		if err := e.Reply(answer()); err != nil {
			m.logger.Debug("Failed to answer data request", "id", req.ID, "kind", req.Kind, "error", err)
		}
	})
	return nil
}

func decodeArgs(req studioproto.DataRequest, v any) error {
	if len(req.Payload) == 0 {
		return fmt.Errorf("%s: missing arguments", req.Kind)
	}
	return json.Unmarshal(req.Payload, v)
}
