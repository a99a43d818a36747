// Package studio connects the simulation host and the editor over a WebSocket.
package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/framestep/tasbridge/internal/dispatcher"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

// Path is where the host accepts the editor.
const Path = "/studio"

// HostConfig configures a Host.
type HostConfig struct {
	Address  string
	Bindings studioproto.Bindings
	Logger   *slog.Logger
}

// Host is the simulation side of the channel. It serves one editor at a
// time; a new editor replaces the previous one.
type Host struct {
	cfg        HostConfig
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
	upgrader   ws.Upgrader

	mu           sync.Mutex
	peer         *connection
	onDisconnect []func()
	server       *http.Server
}

// NewHost creates a host that routes editor messages to d.
func NewHost(d *dispatcher.Dispatcher, cfg HostConfig) *Host {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Host{
		cfg:        cfg,
		dispatcher: d,
		logger:     cfg.Logger,
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// OnDisconnect registers fn to run whenever the editor goes away.
func (h *Host) OnDisconnect(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = append(h.onDisconnect, fn)
}

// Handler returns the HTTP handler upgrading editor connections.
func (h *Host) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, h.serveStudio)
	return mux
}

// ListenAndServe accepts editors on the configured address until ctx is done.
func (h *Host) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.cfg.Address, err)
	}
	return h.Serve(ctx, ln)
}

// Serve accepts editors on ln until ctx is done.
func (h *Host) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}

	h.mu.Lock()
	h.server = srv
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	h.logger.Info("Studio host listening", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Host) serveStudio(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Studio upgrade failed", "error", err)
		return
	}

	var peer *connection
	peer = newConnection(conn, h.logger, h.receive, func() { h.disconnected(peer) })

	h.mu.Lock()
	old := h.peer
	h.peer = peer
	bindings := h.cfg.Bindings
	h.mu.Unlock()

	if old != nil {
		h.logger.Info("Replacing connected editor")
		old.close()
	}

	h.logger.Info("Editor connected", "remote", r.RemoteAddr)
	peer.start()

	if data, err := marshalEnvelope(studioproto.TypeBindings, bindings); err == nil {
		peer.send(data)
	}
}

func (h *Host) disconnected(peer *connection) {
	h.mu.Lock()
	if h.peer != peer {
		h.mu.Unlock()
		return
	}
	h.peer = nil
	hooks := h.onDisconnect
	h.mu.Unlock()

	h.logger.Info("Editor disconnected")
	for _, fn := range hooks {
		fn()
	}
}

// receive runs on the read goroutine of the current editor.
func (h *Host) receive(env studioproto.Envelope) {
	e := dispatcher.Event{Type: env.Type, Payload: env.Payload}

	if env.Type == studioproto.TypeDataRequest {
		var req studioproto.DataRequest
		if err := env.Decode(&req); err != nil {
			h.logger.Debug("Malformed data request", "error", err)
			return
		}
		e.ID = req.ID
		e.Reply = func(payload any) error { return h.reply(req.ID, payload) }
	}

	if err := h.dispatcher.Dispatch(e); err != nil {
		h.logger.Debug("Editor message not handled", "type", env.Type, "error", err)
	}
}

func (h *Host) reply(id string, payload any) error {
	resp := studioproto.DataResponse{ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal response %s: %w", id, err)
		}
		resp.Payload = raw
	}
	return h.send(studioproto.TypeDataResponse, resp)
}

func (h *Host) current() *connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peer
}

// Connected reports whether an editor is attached.
func (h *Host) Connected() bool {
	return h.current() != nil
}

// SendState pushes a snapshot. It never blocks; an unsent older snapshot is
// replaced.
func (h *Host) SendState(state studioproto.State) {
	peer := h.current()
	if peer == nil {
		return
	}
	data, err := marshalEnvelope(studioproto.TypeState, state)
	if err != nil {
		h.logger.Error("Failed to encode state", "error", err)
		return
	}
	peer.sendLatest(data)
}

// SendBindings pushes the hotkey bindings the editor should match keys against.
func (h *Host) SendBindings(b studioproto.Bindings) error {
	h.mu.Lock()
	h.cfg.Bindings = b
	h.mu.Unlock()
	return h.send(studioproto.TypeBindings, b)
}

func (h *Host) send(typ string, payload any) error {
	peer := h.current()
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

// Close drops the editor and stops the server.
func (h *Host) Close() error {
	h.mu.Lock()
	peer := h.peer
	srv := h.server
	h.mu.Unlock()

	if peer != nil {
		peer.close()
	}
	if srv != nil {
		return srv.Close()
	}
	return nil
}
