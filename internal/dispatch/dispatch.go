// Package dispatch routes inbound socket events to controllers.
//
// A controller owns one event name end to end: validating the payload and
// deciding how it is delivered. New event types are added by implementing
// Controller and registering it at startup; nothing in the dispatch or
// transport code changes.
package dispatch

import (
	"fmt"

	"github.com/mb1tel/listener/internal/transport"
)

// Controller is the unit of behavior bound to one inbound event name.
type Controller interface {
	// EventName returns the inbound event this controller owns.
	EventName() string

	// Validate reports whether a payload is well-formed. It must be a pure
	// predicate with no side effects.
	Validate(payload []byte) bool

	// Handle processes one inbound event from a connected client. Invalid
	// payloads are logged and dropped; Handle never panics into the
	// transport layer.
	Handle(s transport.Socket, payload []byte)
}

// Registry is the event-name to controller lookup table. It is built once
// at startup, before any connection is accepted, and read-only afterwards.
type Registry struct {
	controllers map[string]Controller
}

// NewRegistry creates an empty controller registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]Controller)}
}

// Register adds a controller. Two controllers claiming the same event name
// is a configuration bug; it is rejected here so startup fails loudly
// instead of one controller silently shadowing the other.
func (r *Registry) Register(c Controller) error {
	name := c.EventName()
	if _, exists := r.controllers[name]; exists {
		return fmt.Errorf("controller already registered for event %q", name)
	}
	r.controllers[name] = c
	return nil
}

// Get returns the controller for an event name.
func (r *Registry) Get(name string) (Controller, bool) {
	c, ok := r.controllers[name]
	return c, ok
}

// All returns every registered controller, for per-socket event binding.
func (r *Registry) All() []Controller {
	out := make([]Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	return out
}
