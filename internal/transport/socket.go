package transport

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// socket is one upgraded WebSocket connection.
type socket struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *slog.Logger

	send chan []byte
	done chan struct{}

	mu            sync.RWMutex
	handlers      map[string]func(payload []byte)
	disconnectFns []func()

	closeOnce sync.Once
}

func newSocket(id string, conn *websocket.Conn, server *Server, logger *slog.Logger) *socket {
	return &socket{
		id:       id,
		conn:     conn,
		server:   server,
		logger:   logger.With("client", id),
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		handlers: make(map[string]func(payload []byte)),
	}
}

func (c *socket) ID() string { return c.id }

func (c *socket) Join(roomID string) {
	c.server.joinRoom(c, roomID)
}

func (c *socket) Emit(event string, payload []byte) error {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrSocketClosed
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *socket) On(event string, handler func(payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

func (c *socket) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectFns = append(c.disconnectFns, fn)
}

func (c *socket) handler(event string) (func(payload []byte), bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[event]
	return h, ok
}

// start launches the read and write pumps. Handlers must already be bound.
func (c *socket) start() {
	go c.writePump()
	go c.readPump()
}

func (c *socket) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed envelope", "error", err)
			continue
		}

		handler, ok := c.handler(env.Event)
		if !ok {
			// Unknown event names are not an error; they were simply never
			// subscribed to.
			continue
		}
		handler(env.Data)
	}
}

func (c *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears the socket down exactly once: deregisters it, signals the
// pumps, closes the connection, and runs disconnect callbacks.
func (c *socket) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.server.removeSocket(c)
		c.conn.Close()

		c.mu.RLock()
		fns := make([]func(), len(c.disconnectFns))
		copy(fns, c.disconnectFns)
		c.mu.RUnlock()
		for _, fn := range fns {
			fn()
		}
	})
}
