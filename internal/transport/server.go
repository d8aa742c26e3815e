package transport

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SecretHeader is the alternative to the "secret" query parameter for
// clients that prefer not to put the shared secret in a URL.
const SecretHeader = "X-Listener-Secret"

// Config holds server settings.
type Config struct {
	// SecretKey is the shared secret every connecting client must present.
	SecretKey string
}

// Server accepts WebSocket connections and implements Transport. It serves
// as an http.Handler mounted at the configured socket path.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	relay    *Relay

	mu           sync.RWMutex
	sockets      map[string]*socket
	rooms        map[string]map[string]*socket
	onConnection func(Socket)
	closed       bool
}

// NewServer creates a WebSocket server.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sockets: make(map[string]*socket),
		rooms:   make(map[string]map[string]*socket),
	}
}

// AttachRelay wires a cross-instance relay into room emits. Relayed
// envelopes from peers are delivered to local room members only; they are
// never re-published.
func (s *Server) AttachRelay(r *Relay) {
	s.relay = r
	r.deliver = s.deliverLocal
}

// OnConnection registers the connection callback. It runs for each new
// socket before the read loop starts, so event handlers bound inside it
// never miss a message.
func (s *Server) OnConnection(fn func(Socket)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnection = fn
}

// ServeHTTP authenticates the handshake and upgrades the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	onConnection := s.onConnection
	s.mu.RUnlock()

	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	if !s.authenticate(r) {
		s.logger.Warn("authentication failed", "remote", r.RemoteAddr)
		http.Error(w, "invalid authentication credentials", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sock := newSocket(uuid.NewString(), conn, s, s.logger)

	s.mu.Lock()
	s.sockets[sock.id] = sock
	s.mu.Unlock()

	if onConnection != nil {
		onConnection(sock)
	}
	sock.start()
}

func (s *Server) authenticate(r *http.Request) bool {
	if s.cfg.SecretKey == "" {
		return true
	}
	secret := r.URL.Query().Get("secret")
	if secret == "" {
		secret = r.Header.Get(SecretHeader)
	}
	return secret == s.cfg.SecretKey
}

// EmitToRoom delivers an event to a room's local members and publishes it
// for peer instances.
func (s *Server) EmitToRoom(roomID, event string, payload []byte, exceptID string) error {
	s.deliverLocal(roomID, event, payload, exceptID)

	if s.relay == nil {
		return nil
	}
	return s.relay.Publish(roomID, event, payload, exceptID)
}

// deliverLocal sends an event to the room's members on this instance.
func (s *Server) deliverLocal(roomID, event string, payload []byte, exceptID string) {
	s.mu.RLock()
	members := make([]*socket, 0, len(s.rooms[roomID]))
	for _, sock := range s.rooms[roomID] {
		members = append(members, sock)
	}
	s.mu.RUnlock()

	for _, sock := range members {
		if sock.id == exceptID {
			continue
		}
		if err := sock.Emit(event, payload); err != nil {
			s.logger.Warn("room emit dropped", "room", roomID, "client", sock.id, "error", err)
		}
	}
}

// Broadcast sends an event to every socket on this instance.
func (s *Server) Broadcast(event string, payload []byte) {
	s.mu.RLock()
	sockets := make([]*socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.RUnlock()

	for _, sock := range sockets {
		if err := sock.Emit(event, payload); err != nil {
			s.logger.Warn("broadcast dropped", "client", sock.id, "error", err)
		}
	}
}

// CloseAll stops accepting connections and closes every socket.
func (s *Server) CloseAll() {
	s.mu.Lock()
	s.closed = true
	sockets := make([]*socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()

	for _, sock := range sockets {
		sock.close()
	}

	s.logger.Info("all connections closed", "count", len(sockets))
}

// LocalCount returns the number of sockets connected to this instance.
func (s *Server) LocalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sockets)
}

func (s *Server) joinRoom(sock *socket, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[roomID] == nil {
		s.rooms[roomID] = make(map[string]*socket)
	}
	s.rooms[roomID][sock.id] = sock
}

func (s *Server) removeSocket(sock *socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, sock.id)
	for roomID, members := range s.rooms {
		delete(members, sock.id)
		if len(members) == 0 {
			delete(s.rooms, roomID)
		}
	}
}
