package dispatch

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mb1tel/listener/internal/transport"
)

// EventMessage is the default chat event name.
const EventMessage = "message"

// AnonymousSender is used when a chat payload carries no sender.
const AnonymousSender = "Anonymous"

// ChatPayload is the inbound shape of a default chat message.
type ChatPayload struct {
	RoomID  string  `json:"roomId"`
	Message *string `json:"message"`
	Sender  string  `json:"sender,omitempty"`
}

// ChatMessage is the record relayed to the room.
type ChatMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	RoomID    string `json:"roomId"`
}

// ChatController handles default chat messages: it synthesizes a message
// record with a generated id and timestamp, then relays it to the room.
type ChatController struct {
	transport  transport.Transport
	instanceID string
	logger     *slog.Logger
	now        func() time.Time
}

// NewChatController creates the default message controller.
func NewChatController(t transport.Transport, instanceID string, logger *slog.Logger) *ChatController {
	if logger == nil {
		logger = slog.Default()
	}

	return &ChatController{
		transport:  t,
		instanceID: instanceID,
		logger:     logger.With("controller", EventMessage),
		now:        time.Now,
	}
}

func (c *ChatController) EventName() string { return EventMessage }

// Validate requires a room id and a string message body. An empty message
// string is valid; an absent or non-string one is not.
func (c *ChatController) Validate(payload []byte) bool {
	var p ChatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return false
	}
	return p.RoomID != "" && p.Message != nil
}

func (c *ChatController) Handle(s transport.Socket, payload []byte) {
	if !c.Validate(payload) {
		c.logger.Warn("invalid message payload", "client", s.ID())
		return
	}

	var p ChatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("invalid message payload", "client", s.ID(), "error", err)
		return
	}

	sender := p.Sender
	if sender == "" {
		sender = AnonymousSender
	}

	record := ChatMessage{
		ID:        uuid.NewString(),
		Text:      *p.Message,
		Sender:    sender,
		Timestamp: c.now().UTC().Format(time.RFC3339),
		RoomID:    p.RoomID,
	}

	data, err := json.Marshal(record)
	if err != nil {
		c.logger.Error("marshal message record", "client", s.ID(), "error", err)
		return
	}

	if err := c.transport.EmitToRoom(p.RoomID, EventMessage, data, ""); err != nil {
		c.logger.Error("relay to room failed", "room", p.RoomID, "error", err)
		return
	}

	c.logger.Info("message relayed", "event", EventMessage, "room", p.RoomID, "instance", c.instanceID)
}
