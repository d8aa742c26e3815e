package dispatch

import (
	"encoding/json"
	"log/slog"

	"github.com/mb1tel/listener/internal/transport"
)

// EventForward is the pass-through forwarding event name, used for messages
// bridged in from third-party channels.
const EventForward = "message:forward"

// ForwardPayload is the routing portion of a forwarded message. The rest of
// the payload is opaque and relayed verbatim.
type ForwardPayload struct {
	RoomID   string `json:"roomId"`
	ExceptID string `json:"exceptId,omitempty"`
}

// ForwardController relays a payload unchanged to a room, optionally
// excluding one client. The excluded id is typically the bridge socket that
// injected the message, so it never receives its own echo.
type ForwardController struct {
	transport  transport.Transport
	instanceID string
	logger     *slog.Logger
}

// NewForwardController creates the pass-through forwarding controller.
func NewForwardController(t transport.Transport, instanceID string, logger *slog.Logger) *ForwardController {
	if logger == nil {
		logger = slog.Default()
	}

	return &ForwardController{
		transport:  t,
		instanceID: instanceID,
		logger:     logger.With("controller", EventForward),
	}
}

func (c *ForwardController) EventName() string { return EventForward }

// Validate requires only a room id; the payload body is opaque by design.
func (c *ForwardController) Validate(payload []byte) bool {
	var p ForwardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return false
	}
	return p.RoomID != ""
}

func (c *ForwardController) Handle(s transport.Socket, payload []byte) {
	if !c.Validate(payload) {
		c.logger.Warn("invalid forward payload", "client", s.ID())
		return
	}

	var p ForwardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("invalid forward payload", "client", s.ID(), "error", err)
		return
	}

	if err := c.transport.EmitToRoom(p.RoomID, EventForward, payload, p.ExceptID); err != nil {
		c.logger.Error("forward to room failed", "room", p.RoomID, "error", err)
		return
	}

	c.logger.Info("message forwarded", "event", EventForward, "room", p.RoomID, "instance", c.instanceID)
}
