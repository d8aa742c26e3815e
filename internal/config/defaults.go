package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
//
// The presence timings are a coupled policy: the key TTL (40s) outlives one
// heartbeat period (30s), and the liveness threshold (60s) tolerates one
// missed heartbeat cycle without an instance flapping in and out of the
// aggregate.
const (
	DefaultAddr               = ":3000"
	DefaultWSPath             = "/listener"
	DefaultRedisMode          = "standalone"
	DefaultRedisAddr          = "localhost:6379"
	DefaultRedisMaxRetries    = 3
	DefaultKeyTTL             = 40 * time.Second
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultLivenessThreshold  = 60 * time.Second
	DefaultRefreshInterval    = 15 * time.Second
	DefaultRegisterRetryDelay = 5 * time.Second
	DefaultClientRecordTTL    = 24 * time.Hour
	DefaultThrottleWindow     = 1 * time.Second
	DefaultLogLevel           = "info"
)

func (c *ListenerConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = resolveInstanceID()
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}

	if c.Redis.Mode == "" {
		c.Redis.Mode = DefaultRedisMode
	}
	if len(c.Redis.Addrs) == 0 {
		c.Redis.Addrs = []string{DefaultRedisAddr}
	}
	if c.Redis.MaxRetries == 0 {
		c.Redis.MaxRetries = DefaultRedisMaxRetries
	}

	if c.Presence.KeyTTL == 0 {
		c.Presence.KeyTTL = DefaultKeyTTL
	}
	if c.Presence.HeartbeatInterval == 0 {
		c.Presence.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Presence.LivenessThreshold == 0 {
		c.Presence.LivenessThreshold = DefaultLivenessThreshold
	}
	if c.Presence.RefreshInterval == 0 {
		c.Presence.RefreshInterval = DefaultRefreshInterval
	}
	if c.Presence.RegisterRetryDelay == 0 {
		c.Presence.RegisterRetryDelay = DefaultRegisterRetryDelay
	}
	if c.Presence.ClientRecordTTL == 0 {
		c.Presence.ClientRecordTTL = DefaultClientRecordTTL
	}

	if c.Broadcast.ThrottleWindow == 0 {
		c.Broadcast.ThrottleWindow = DefaultThrottleWindow
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// resolveInstanceID picks an instance identity the way deployments assign
// one: explicit env var, container hostname, or a generated dev id.
func resolveInstanceID() string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("dev-%s", uuid.NewString()[:8])
}
