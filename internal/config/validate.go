package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ListenerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.SecretKey == "" {
		return errors.New("server.secret_key is required")
	}

	switch c.Redis.Mode {
	case "standalone", "cluster", "sentinel":
	default:
		return fmt.Errorf("redis.mode must be standalone, cluster, or sentinel, got %q", c.Redis.Mode)
	}
	if len(c.Redis.Addrs) == 0 {
		return errors.New("redis.addrs requires at least one address")
	}
	if c.Redis.Mode == "sentinel" && c.Redis.MasterName == "" {
		return errors.New("redis.master_name is required in sentinel mode")
	}

	if c.Presence.LivenessThreshold <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("presence.liveness_threshold (%s) must exceed heartbeat_interval (%s)",
			c.Presence.LivenessThreshold, c.Presence.HeartbeatInterval)
	}
	if c.Presence.KeyTTL <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("presence.key_ttl (%s) must exceed heartbeat_interval (%s)",
			c.Presence.KeyTTL, c.Presence.HeartbeatInterval)
	}

	if c.Broadcast.ThrottleWindow <= 0 {
		return errors.New("broadcast.throttle_window must be positive")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}

	return nil
}
