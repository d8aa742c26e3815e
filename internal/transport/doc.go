// Package transport implements the real-time socket layer: WebSocket
// connection handling, per-socket event subscription, room multicast, and
// cross-instance message relay over redis pub/sub.
//
// The wire format is a JSON envelope in both directions:
//
//	{"event": "message", "data": {...}}
//
// Events a socket has not subscribed to are ignored. A room emit reaches
// local members directly and remote members through the relay channel; the
// publishing instance skips its own relayed envelopes.
package transport
