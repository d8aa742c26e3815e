package store

import (
	"context"
	"time"
)

// Store is the key-value store contract consumed by presence tracking.
//
// Every operation is a single network call; callers own retry and
// log-and-continue policy. Connection-level retries and backoff belong to
// the underlying client.
type Store interface {
	// HashSet sets one field in a hash key.
	HashSet(ctx context.Context, key, field, value string) error

	// HashGetAll returns all fields of a hash key. A missing key yields an
	// empty map, not an error.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// HashDelete removes one field from a hash key.
	HashDelete(ctx context.Context, key, field string) error

	// SetAdd adds a member to a set key.
	SetAdd(ctx context.Context, key, member string) error

	// SetRemove removes a member from a set key.
	SetRemove(ctx context.Context, key, member string) error

	// SetMembers returns all members of a set key. A missing key yields an
	// empty slice.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Expire applies a TTL to a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SetWithTTL writes a plain string key with an expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Ping checks store connectivity, for the health surface.
	Ping(ctx context.Context) error

	// Close releases client resources.
	Close() error
}
