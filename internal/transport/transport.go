package transport

import (
	"encoding/json"
	"errors"
)

// Transport is the socket collaborator contract consumed by the listener
// service and the message controllers.
type Transport interface {
	// OnConnection registers the callback invoked for every accepted
	// socket, before any of its events are read.
	OnConnection(fn func(Socket))

	// EmitToRoom delivers an event to every client in a room, locally and
	// on peer instances, optionally excluding one client id.
	EmitToRoom(roomID, event string, payload []byte, exceptID string) error

	// Broadcast delivers an event to every client connected to this
	// instance.
	Broadcast(event string, payload []byte)

	// CloseAll closes every connection and stops accepting new ones.
	CloseAll()
}

// Socket is one connected client.
type Socket interface {
	// ID returns the server-assigned client identifier.
	ID() string

	// Join adds the socket to a room for multicast delivery.
	Join(roomID string)

	// Emit sends one event to this client.
	Emit(event string, payload []byte) error

	// On binds a handler for an inbound event name. Binding happens once,
	// right after connection; events without a handler are ignored.
	On(event string, handler func(payload []byte))

	// OnDisconnect registers a callback for when the connection ends.
	OnDisconnect(fn func())
}

// Envelope is the wire format for both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var (
	// ErrSocketClosed is returned by Emit after the connection ended.
	ErrSocketClosed = errors.New("socket closed")

	// ErrSendBufferFull is returned when a client reads too slowly to keep
	// up with its outbound queue.
	ErrSendBufferFull = errors.New("send buffer full")
)
