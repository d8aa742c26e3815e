// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Defaults follow the reference presence policy: 40s key TTL, 30s heartbeat,
// 60s liveness threshold, 1s broadcast throttle window.
package config
