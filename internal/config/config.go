package config

import "time"

// ListenerConfig is the root configuration for a listener instance.
type ListenerConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Presence  PresenceConfig  `yaml:"presence"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Log       LogConfig       `yaml:"log"`
}

// InstanceConfig identifies this listener instance.
type InstanceConfig struct {
	// ID is the stable opaque identifier for this process. Empty means
	// resolve from $INSTANCE_ID, then $HOSTNAME, then a generated dev id.
	ID string `yaml:"id"`
}

// ServerConfig holds the HTTP/WebSocket front door settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	WSPath    string `yaml:"ws_path"`
	SecretKey string `yaml:"secret_key"`
}

// RedisConfig holds the key-value store connection settings.
type RedisConfig struct {
	Mode       string   `yaml:"mode"` // "standalone", "cluster", or "sentinel"
	Addrs      []string `yaml:"addrs"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	MasterName string   `yaml:"master_name"` // sentinel only
	MaxRetries int      `yaml:"max_retries"`
}

// PresenceConfig holds instance registration and liveness settings.
type PresenceConfig struct {
	KeyTTL             time.Duration `yaml:"key_ttl"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	LivenessThreshold  time.Duration `yaml:"liveness_threshold"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	RegisterRetryDelay time.Duration `yaml:"register_retry_delay"`
	ClientRecordTTL    time.Duration `yaml:"client_record_ttl"`
}

// BroadcastConfig holds client notification settings.
type BroadcastConfig struct {
	ThrottleWindow time.Duration `yaml:"throttle_window"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}
