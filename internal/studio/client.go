package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"github.com/framestep/tasbridge/internal/hotkey"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

// ErrDisconnected is returned when there is no live link.
var ErrDisconnected = errors.New("studio not connected")

const (
	DefaultRequestTimeout     = time.Second
	DefaultLongRequestTimeout = 15 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	URL string // e.g. ws://127.0.0.1:32270/studio

	// RequestTimeout bounds data requests. LongRequestTimeout applies to
	// autocomplete and raw info, which may take a while on the host.
	RequestTimeout     time.Duration
	LongRequestTimeout time.Duration

	Logger *slog.Logger
}

// Client is the editor side of the channel. It never reconnects on its own.
type Client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	session *Session

	mu         sync.Mutex
	peer       *connection
	connecting bool
	pending    map[string]*request
	onState []func(studioproto.State)
}

type request struct {
	timer *time.Timer
	done  func(json.RawMessage)
}

// NewClient creates a disconnected client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.LongRequestTimeout <= 0 {
		cfg.LongRequestTimeout = DefaultLongRequestTimeout
	}
	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		session: NewSession(),
		pending: make(map[string]*request),
	}
}

// Session returns the state received from the host.
func (c *Client) Session() *Session {
	return c.session
}

// OnState registers fn to run on the read goroutine for every snapshot.
func (c *Client) OnState(fn func(studioproto.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// Connected reports whether the link is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer != nil
}

// Connect dials the host once. It is a no-op while connected or while
// another Connect is dialing. The lock is not held during the dial, so the
// accessors keep answering "disconnected" until the link is up.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.peer != nil || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	conn, _, err := ws.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	var peer *connection
	peer = newConnection(conn, c.logger, c.receive, func() { c.disconnected(peer) })
	c.peer = peer
	c.mu.Unlock()

	c.session.SetConnected(true)
	peer.start()

	c.logger.Info("Connected to host", "url", c.cfg.URL)
	return nil
}

// ForceReconnect drops the current link, if any, and dials again.
func (c *Client) ForceReconnect(ctx context.Context) error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.close()
	}
	return c.Connect(ctx)
}

// Close drops the link. Pending requests resolve to their neutral value.
func (c *Client) Close() error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.close()
	}
	return nil
}

func (c *Client) disconnected(peer *connection) {
	c.mu.Lock()
	if c.peer != peer {
		c.mu.Unlock()
		return
	}
	c.peer = nil
	pending := c.pending
	c.pending = make(map[string]*request)
	c.mu.Unlock()

	c.session.SetConnected(false)
	c.logger.Info("Disconnected from host")

	for _, r := range pending {
		r.timer.Stop()
		r.done(nil)
	}
}

func (c *Client) receive(env studioproto.Envelope) {
	switch env.Type {
	case studioproto.TypeState:
		var state studioproto.State
		if err := env.Decode(&state); err != nil {
			c.logger.Debug("Malformed state", "error", err)
			return
		}
		c.session.Update(state)

		c.mu.Lock()
		hooks := c.onState
		c.mu.Unlock()
		for _, fn := range hooks {
			fn(state)
		}

	case studioproto.TypeBindings:
		var b studioproto.Bindings
		if err := env.Decode(&b); err != nil {
			c.logger.Debug("Malformed bindings", "error", err)
			return
		}
		c.session.SetBindings(b)

	case studioproto.TypeDataResponse:
		var resp studioproto.DataResponse
		if err := env.Decode(&resp); err != nil {
			c.logger.Debug("Malformed data response", "error", err)
			return
		}
		c.complete(resp.ID, resp.Payload)

	default:
		c.logger.Debug("Unexpected message from host", "type", env.Type)
	}
}

func (c *Client) send(typ string, payload any) error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()

	if peer == nil {
		return ErrDisconnected
	}
	data, err := marshalEnvelope(typ, payload)
	if err != nil {
		return err
	}
	if !peer.send(data) {
		return fmt.Errorf("%s dropped", typ)
	}
	return nil
}

// SendPath tells the host which script to play.
func (c *Client) SendPath(path string) error {
	return c.send(studioproto.TypePath, studioproto.PathPayload{Path: path})
}

// SendSettings syncs the playback speeds and display options.
func (c *Client) SendSettings(s studioproto.Settings) error {
	return c.send(studioproto.TypeSettings, s)
}

// SendHotkey reports a hotkey press or release.
func (c *Client) SendHotkey(id studioproto.HotkeyID, released bool) error {
	return c.send(studioproto.TypeHotkey, studioproto.HotkeyPayload{Hotkey: id, Released: released})
}

// SendCustomInfoTemplate replaces the host's custom info template.
func (c *Client) SendCustomInfoTemplate(template string) error {
	return c.send(studioproto.TypeCustomInfoTemplate, studioproto.TemplatePayload{Template: template})
}

// ClearWatch clears the host's watched entities.
func (c *Client) ClearWatch() error {
	return c.send(studioproto.TypeClearWatch, nil)
}

// RequestRecord asks the host to record the run to fileName.
func (c *Client) RequestRecord(fileName string) error {
	return c.send(studioproto.TypeRecord, studioproto.RecordPayload{FileName: fileName})
}

// SendKeyEvent matches a physical key against the bindings and forwards the
// hotkey. It reports whether the key was bound to one.
func (c *Client) SendKeyEvent(key studioproto.Key, mods studioproto.Modifiers, released bool) bool {
	id, ok := hotkey.Match(c.session.Bindings(), key, mods)
	if !ok {
		return false
	}
	if err := c.SendHotkey(id, released); err != nil {
		c.logger.Debug("Hotkey not sent", "hotkey", id, "error", err)
	}
	return true
}

func (c *Client) timeoutFor(kind studioproto.DataKind) time.Duration {
	switch kind {
	case studioproto.DataSetAutoComplete, studioproto.DataInvokeAutoComplete, studioproto.DataRawInfo:
		return c.cfg.LongRequestTimeout
	default:
		return c.cfg.RequestTimeout
	}
}

// Request sends a data request. done runs exactly once: with the response
// payload, or with nil on timeout, disconnect or an empty answer. When not
// connected it runs before Request returns.
func (c *Client) Request(kind studioproto.DataKind, args any, done func(json.RawMessage)) {
	req := studioproto.DataRequest{ID: uuid.NewString(), Kind: kind}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			c.logger.Error("Failed to encode request arguments", "kind", kind, "error", err)
			done(nil)
			return
		}
		req.Payload = raw
	}

	c.mu.Lock()
	if c.peer == nil {
		c.mu.Unlock()
		done(nil)
		return
	}
	r := &request{done: done}
	r.timer = time.AfterFunc(c.timeoutFor(kind), func() {
		c.logger.Debug("Data request timed out", "id", req.ID, "kind", kind)
		c.complete(req.ID, nil)
	})
	c.pending[req.ID] = r
	c.mu.Unlock()

	if err := c.send(studioproto.TypeDataRequest, req); err != nil {
		c.complete(req.ID, nil)
	}
}

func (c *Client) complete(id string, payload json.RawMessage) {
	c.mu.Lock()
	r, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		return
	}
	r.timer.Stop()
	if string(payload) == "null" {
		payload = nil
	}
	r.done(payload)
}

func requestValue[T any](c *Client, kind studioproto.DataKind, args any, done func(T)) {
	c.Request(kind, args, func(raw json.RawMessage) {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				c.logger.Debug("Malformed data response", "kind", kind, "error", err)
				var zero T
				v = zero
			}
		}
		done(v)
	})
}

// RequestConsoleCommand fetches the console command recreating the current
// position. Neutral value: "".
func (c *Client) RequestConsoleCommand(simple bool, done func(string)) {
	requestValue(c, studioproto.DataConsoleCommand, studioproto.ConsoleCommandArgs{Simple: simple}, done)
}

func (c *Client) RequestModURL(done func(string)) {
	requestValue(c, studioproto.DataModURL, nil, done)
}

func (c *Client) RequestModInfo(done func(string)) {
	requestValue(c, studioproto.DataModInfo, nil, done)
}

func (c *Client) RequestExactGameInfo(done func(string)) {
	requestValue(c, studioproto.DataExactGameInfo, nil, done)
}

func (c *Client) RequestCustomInfoTemplate(done func(string)) {
	requestValue(c, studioproto.DataCustomInfoTemplate, nil, done)
}

// RequestRawInfo evaluates template on the host. The result is left encoded;
// nil is the neutral value.
func (c *Client) RequestRawInfo(template string, alwaysList bool, done func(json.RawMessage)) {
	c.Request(studioproto.DataRawInfo, studioproto.RawInfoArgs{Template: template, AlwaysList: alwaysList}, done)
}

// RequestGameState fetches a game state snapshot. Neutral value: nil.
func (c *Client) RequestGameState(done func(*studioproto.GameState)) {
	requestValue(c, studioproto.DataGameState, nil, done)
}

// RequestSetAutoComplete completes the arguments of a Set command.
// Neutral value: nil.
func (c *Client) RequestSetAutoComplete(args string, index int, done func([]studioproto.AutoCompleteEntry)) {
	requestValue(c, studioproto.DataSetAutoComplete, studioproto.AutoCompleteArgs{Args: args, Index: index}, done)
}

// RequestInvokeAutoComplete completes the arguments of an Invoke command.
func (c *Client) RequestInvokeAutoComplete(args string, index int, done func([]studioproto.AutoCompleteEntry)) {
	requestValue(c, studioproto.DataInvokeAutoComplete, studioproto.AutoCompleteArgs{Args: args, Index: index}, done)
}
