package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mb1tel/listener/internal/config"
)

// redisStore implements Store over a go-redis universal client.
type redisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedis builds a Store from the redis config section. The universal
// client covers all three topologies behind one API: a plain client for
// standalone, a cluster client when mode is cluster, and a failover client
// when a sentinel master name is set.
func NewRedis(cfg config.RedisConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := &redis.UniversalOptions{
		Addrs:      cfg.Addrs,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	}

	switch cfg.Mode {
	case "standalone":
		if len(cfg.Addrs) > 1 {
			return nil, fmt.Errorf("standalone mode expects one address, got %d", len(cfg.Addrs))
		}
	case "sentinel":
		opts.MasterName = cfg.MasterName
	case "cluster":
		// UniversalClient switches to cluster mode on multiple addrs; force
		// it for single-address cluster configs too.
		if len(cfg.Addrs) == 1 {
			logger.Warn("cluster mode with a single seed address", "addr", cfg.Addrs[0])
		}
	default:
		return nil, fmt.Errorf("unknown redis mode %q", cfg.Mode)
	}

	client := redis.NewUniversalClient(opts)
	logger.Info("redis client initialized", "mode", cfg.Mode, "addrs", cfg.Addrs)

	return &redisStore{client: client, logger: logger}, nil
}

// Client exposes the underlying client for pub/sub use by the transport
// relay. Presence code must stay on the Store interface.
func Client(s Store) (redis.UniversalClient, bool) {
	rs, ok := s.(*redisStore)
	if !ok {
		return nil, false
	}
	return rs.client, true
}

func (s *redisStore) HashSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("hset %s %s: %w", key, field, err)
	}
	return nil
}

func (s *redisStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return res, nil
}

func (s *redisStore) HashDelete(ctx context.Context, key, field string) error {
	if err := s.client.HDel(ctx, key, field).Err(); err != nil {
		return fmt.Errorf("hdel %s %s: %w", key, field, err)
	}
	return nil
}

func (s *redisStore) SetAdd(ctx context.Context, key, member string) error {
	if err := s.client.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) SetRemove(ctx context.Context, key, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	res, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return res, nil
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
