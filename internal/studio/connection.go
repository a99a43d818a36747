package studio

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/framestep/tasbridge/pkg/studioproto"
)

const (
	sendChSize = 256
	writeWait  = 5 * time.Second
	readLimit  = 1 << 20
)

// connection owns one WebSocket with a single write goroutine. State
// snapshots go through a one-slot buffer where the newest replaces the
// oldest; every other message is queued in order and dropped when the
// queue is full.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan []byte
	latest chan []byte
	done   chan struct{} // closed on shutdown
	closed bool

	onMessage func(studioproto.Envelope)
	onClose   func()

	logger *slog.Logger
}

func newConnection(conn *ws.Conn, logger *slog.Logger, onMessage func(studioproto.Envelope), onClose func()) *connection {
	conn.SetReadLimit(readLimit)
	return &connection{
		conn:      conn,
		sendCh:    make(chan []byte, sendChSize),
		latest:    make(chan []byte, 1),
		done:      make(chan struct{}),
		onMessage: onMessage,
		onClose:   onClose,
		logger:    logger,
	}
}

func (c *connection) start() {
	go c.writeLoop()
	go c.readLoop()
}

// writeLoop drains both queues and writes messages to the WebSocket.
// It returns on error or shutdown.
func (c *connection) writeLoop() {
	for {
		var data []byte
		select {
		case <-c.done:
			return
		case data = <-c.sendCh:
		case data = <-c.latest:
		}

		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
			c.close()
			return
		}
		if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
			c.logger.Warn("WebSocket write error", "error", err)
			c.close()
			return
		}
	}
}

// readLoop decodes envelopes and hands them to onMessage.
func (c *connection) readLoop() {
	defer c.close()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					c.logger.Warn("WebSocket read error", "error", err)
				}
			}
			return
		}

		var env studioproto.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			c.logger.Debug("Malformed message received", "raw", string(message))
			continue
		}
		c.onMessage(env)
	}
}

// send pushes data to the write loop. Non-blocking; drops if the queue is full.
func (c *connection) send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.sendCh <- data:
		return true
	default:
		c.logger.Warn("WebSocket send queue full, dropping message")
		return false
	}
}

// sendLatest replaces any snapshot not yet written with data.
func (c *connection) sendLatest(data []byte) {
	for {
		select {
		case <-c.done:
			return
		case c.latest <- data:
			return
		default:
		}
		select {
		case <-c.latest:
		default:
		}
	}
}

func (c *connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close sends a close frame, shuts down both loops and runs onClose once.
func (c *connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	_ = c.conn.Close()

	if c.onClose != nil {
		c.onClose()
	}
}

func marshalEnvelope(typ string, payload any) ([]byte, error) {
	env, err := studioproto.NewEnvelope(typ, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
