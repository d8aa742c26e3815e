// Package room tracks which locally-connected clients belong to which
// logical room.
//
// This state is instance-local bookkeeping for cleanup and telemetry; the
// transport layer independently tracks socket-to-room membership for
// delivery, so losing this map on a crash affects nothing client-visible.
package room

import "sync"

// Tracker maps room ids to sets of locally-connected client ids. A room
// entry exists only while it has members.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{rooms: make(map[string]map[string]bool)}
}

// Join adds a client to a room, creating the room entry on first join.
func (t *Tracker) Join(clientID, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[roomID] == nil {
		t.rooms[roomID] = make(map[string]bool)
	}
	t.rooms[roomID][clientID] = true
}

// Leave removes a client from every room containing it and deletes rooms
// that become empty. It returns the affected room ids; a second Leave for
// the same client is a no-op returning nil.
//
// The scan is linear in room count, which stays small relative to client
// count per instance. If that ever inverts, switch to a client-to-room
// index; external behavior stays the same.
func (t *Tracker) Leave(clientID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for roomID, members := range t.rooms {
		if !members[clientID] {
			continue
		}
		delete(members, clientID)
		affected = append(affected, roomID)
		if len(members) == 0 {
			delete(t.rooms, roomID)
		}
	}
	return affected
}

// Members returns the client ids currently in a room.
func (t *Tracker) Members(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := t.rooms[roomID]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomCount returns the number of rooms with at least one member.
func (t *Tracker) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}
