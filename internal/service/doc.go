// Package service wires the transport, presence registry, room tracker,
// and message controllers into the listener's connection lifecycle.
//
// On connect it bumps the local count and asks the throttler to notify
// clients; on inbound events the bound controller validates and relays; on
// disconnect it cleans room membership and rebroadcasts. Two periodic loops
// keep the shared store fresh: the presence heartbeat and the aggregate
// refresh that feeds the throttled client-count broadcast.
package service
