package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mb1tel/listener/internal/dispatch"
	"github.com/mb1tel/listener/internal/presence"
	"github.com/mb1tel/listener/internal/room"
	"github.com/mb1tel/listener/internal/store"
	"github.com/mb1tel/listener/internal/throttle"
	"github.com/mb1tel/listener/internal/transport"
)

const (
	// EventJoinRoom is sent by a client to subscribe to a room. The
	// payload is the room id as a JSON string.
	EventJoinRoom = "join-room"

	// EventClientCount carries the cluster-wide client total to every
	// connected client. The payload is a bare JSON number.
	EventClientCount = "client-count-update"
)

// Config holds the service-level timing knobs.
type Config struct {
	// RefreshInterval is how often the aggregate count is recomputed
	// from the shared store and pushed through the throttler.
	RefreshInterval time.Duration

	// ThrottleWindow is the minimum spacing between count broadcasts.
	ThrottleWindow time.Duration

	// ClientRecordTTL bounds how long per-client diagnostic records
	// remain in the store after the client is gone.
	ClientRecordTTL time.Duration
}

// clientRecord is the diagnostic entry written under client:{id}.
type clientRecord struct {
	RoomID      string `json:"roomId"`
	InstanceID  string `json:"instanceId"`
	ConnectedAt string `json:"connectedAt"`
}

// Service coordinates the connection lifecycle across the transport, the
// presence registry, and the registered message controllers.
type Service struct {
	cfg         Config
	transport   transport.Transport
	store       store.Store
	presence    *presence.Registry
	rooms       *room.Tracker
	controllers *dispatch.Registry
	throttler   *throttle.Throttler
	logger      *slog.Logger

	baseCtx context.Context

	now func() time.Time
}

// New builds a Service around the given collaborators. The throttler is
// owned by the service: delayed broadcasts recompute the aggregate count
// from the store so a burst settles on the freshest total.
func New(cfg Config, tr transport.Transport, st store.Store, reg *presence.Registry, rooms *room.Tracker, controllers *dispatch.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:         cfg,
		transport:   tr,
		store:       st,
		presence:    reg,
		rooms:       rooms,
		controllers: controllers,
		logger:      logger.With("component", "service"),
		baseCtx:     context.Background(),
		now:         time.Now,
	}
	s.throttler = throttle.New(cfg.ThrottleWindow, s.recomputeTotal, s.broadcastCount, logger)
	return s
}

// Start registers the connection handler and launches the background
// loops. It returns once the loops are running; they stop when ctx is
// canceled.
func (s *Service) Start(ctx context.Context) {
	s.baseCtx = ctx
	s.transport.OnConnection(s.handleConnection)

	go func() {
		if err := s.presence.RegisterWithRetry(ctx); err != nil {
			return
		}
		s.presence.RunHeartbeat(ctx)
	}()
	go s.refreshLoop(ctx)

	s.logger.Info("service started",
		"instance", s.presence.InstanceID(),
		"refresh_interval", s.cfg.RefreshInterval,
		"throttle_window", s.cfg.ThrottleWindow)
}

// Stop removes this instance from the shared store and closes every
// local connection.
func (s *Service) Stop(ctx context.Context) {
	s.presence.Deregister(ctx)
	s.transport.CloseAll()
	s.logger.Info("service stopped", "instance", s.presence.InstanceID())
}

func (s *Service) handleConnection(sock transport.Socket) {
	count := s.presence.ConnectionOpened()
	if err := s.presence.UpdateCount(s.baseCtx); err != nil {
		s.logger.Error("publish local count failed", "error", err)
	}
	s.throttler.Request(s.presence.LocalCount)

	s.logger.Info("client connected",
		"client", sock.ID(),
		"instance", s.presence.InstanceID(),
		"local_clients", count)

	sock.On(EventJoinRoom, func(payload []byte) {
		s.handleJoinRoom(sock, payload)
	})
	for _, c := range s.controllers.All() {
		sock.On(c.EventName(), func(payload []byte) {
			if !c.Validate(payload) {
				s.logger.Warn("invalid payload dropped",
					"event", c.EventName(), "client", sock.ID())
				return
			}
			c.Handle(sock, payload)
		})
	}
	sock.OnDisconnect(func() {
		s.handleDisconnect(sock)
	})
}

func (s *Service) handleJoinRoom(sock transport.Socket, payload []byte) {
	roomID, err := decodeRoomID(payload)
	if err != nil {
		s.logger.Warn("join-room payload rejected", "client", sock.ID(), "error", err)
		return
	}

	sock.Join(roomID)
	s.rooms.Join(sock.ID(), roomID)
	s.logger.Info("client joined room",
		"client", sock.ID(), "room", roomID, "instance", s.presence.InstanceID())

	if err := s.writeClientRecord(sock.ID(), roomID); err != nil {
		s.logger.Error("client record write failed", "client", sock.ID(), "error", err)
	}
}

func (s *Service) handleDisconnect(sock transport.Socket) {
	affected := s.rooms.Leave(sock.ID())
	count := s.presence.ConnectionClosed()
	if err := s.presence.UpdateCount(s.baseCtx); err != nil {
		s.logger.Error("publish local count failed", "error", err)
	}
	s.throttler.Request(s.presence.LocalCount)

	s.logger.Info("client disconnected",
		"client", sock.ID(),
		"instance", s.presence.InstanceID(),
		"rooms_left", len(affected),
		"local_clients", count)
}

// refreshLoop periodically folds the per-instance counts into a cluster
// total and routes it through the throttler, keeping clients converged
// even without local connect or disconnect activity.
func (s *Service) refreshLoop(ctx context.Context) {
	if s.cfg.RefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total, err := s.presence.Aggregate(ctx)
			if err != nil {
				s.logger.Error("aggregate refresh failed", "error", err)
				continue
			}
			s.throttler.Request(func() int { return total })
		}
	}
}

func (s *Service) recomputeTotal() (int, error) {
	return s.presence.Aggregate(s.baseCtx)
}

func (s *Service) broadcastCount(count int) {
	s.transport.Broadcast(EventClientCount, []byte(strconv.Itoa(count)))
	s.logger.Debug("client count broadcast", "total", count)
}

func (s *Service) writeClientRecord(clientID, roomID string) error {
	rec := clientRecord{
		RoomID:      roomID,
		InstanceID:  s.presence.InstanceID(),
		ConnectedAt: s.now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal client record: %w", err)
	}
	return s.store.SetWithTTL(s.baseCtx, "client:"+clientID, string(data), s.cfg.ClientRecordTTL)
}

// decodeRoomID accepts the room id either as a bare JSON string or
// wrapped in an object under "roomId".
func decodeRoomID(payload []byte) (string, error) {
	var roomID string
	if err := json.Unmarshal(payload, &roomID); err == nil {
		if roomID == "" {
			return "", fmt.Errorf("empty room id")
		}
		return roomID, nil
	}

	var wrapped struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return "", fmt.Errorf("decode room id: %w", err)
	}
	if wrapped.RoomID == "" {
		return "", fmt.Errorf("empty room id")
	}
	return wrapped.RoomID, nil
}
