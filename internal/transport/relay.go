package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// relayChannel is the pub/sub channel shared by all instances of one
// deployment.
const relayChannel = "socket:relay"

// relayEnvelope is a room emit in flight between instances.
type relayEnvelope struct {
	Origin   string          `json:"origin"`
	Room     string          `json:"room"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
	ExceptID string          `json:"exceptId,omitempty"`
}

// Relay fans room emits out to peer instances over redis pub/sub. Each
// instance publishes with its own origin id and ignores envelopes it
// published itself.
type Relay struct {
	client  redis.UniversalClient
	origin  string
	logger  *slog.Logger
	deliver func(roomID, event string, payload []byte, exceptID string)
}

// NewRelay creates a relay identified by this instance's id. Attach it to a
// Server before calling Run.
func NewRelay(client redis.UniversalClient, origin string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		client: client,
		origin: origin,
		logger: logger.With("component", "relay"),
	}
}

// Publish sends a room emit to peer instances.
func (r *Relay) Publish(roomID, event string, payload []byte, exceptID string) error {
	data, err := json.Marshal(relayEnvelope{
		Origin:   r.origin,
		Room:     roomID,
		Event:    event,
		Data:     payload,
		ExceptID: exceptID,
	})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}

	if err := r.client.Publish(context.Background(), relayChannel, data).Err(); err != nil {
		return fmt.Errorf("publish relay envelope: %w", err)
	}
	return nil
}

// Run subscribes to the relay channel and applies peer envelopes to local
// room members until ctx is done. Subscription drops are handled by the
// client's own reconnect; malformed envelopes are logged and skipped.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.client.Subscribe(ctx, relayChannel)
	defer pubsub.Close()

	r.logger.Info("relay subscribed", "channel", relayChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("malformed relay envelope", "error", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			if r.deliver == nil {
				continue
			}
			r.deliver(env.Room, env.Event, env.Data, env.ExceptID)
		}
	}
}
