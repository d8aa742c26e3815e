package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mb1tel/listener/internal/store"
)

// Well-known presence keys. These are deliberately a fixed set of names so
// that cluster deployments keep them in one hash slot; never derive key
// names from instance ids.
const (
	KeyInstances  = "socket:instances"
	KeyCounts     = "socket:clients:counts"
	KeyLastUpdate = "socket:clients:lastUpdate"
)

// Config holds the liveness policy for a registry.
type Config struct {
	// KeyTTL is applied to both presence hashes on every write, so a
	// crashed deployment's keys expire on their own.
	KeyTTL time.Duration

	// HeartbeatInterval spaces the periodic re-registration writes.
	HeartbeatInterval time.Duration

	// LivenessThreshold is the maximum heartbeat age before an observer
	// excludes an instance from the aggregate.
	LivenessThreshold time.Duration

	// RegisterRetryDelay spaces registration retries while the store is
	// unreachable at startup.
	RegisterRetryDelay time.Duration
}

// Registry tracks this instance's local connection count and aggregates
// counts across all live instances.
type Registry struct {
	cfg        Config
	store      store.Store
	logger     *slog.Logger
	instanceID string

	mu         sync.Mutex
	localCount int

	now func() time.Time
}

// NewRegistry creates a presence registry for one instance.
func NewRegistry(instanceID string, cfg Config, st store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		cfg:        cfg,
		store:      st,
		logger:     logger.With("component", "presence"),
		instanceID: instanceID,
		now:        time.Now,
	}
}

// InstanceID returns this process's stable instance identifier.
func (r *Registry) InstanceID() string {
	return r.instanceID
}

// LocalCount returns the number of clients connected to this instance.
func (r *Registry) LocalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localCount
}

// ConnectionOpened increments the local count and returns the new value.
func (r *Registry) ConnectionOpened() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localCount++
	return r.localCount
}

// ConnectionClosed decrements the local count, never below zero, and
// returns the new value.
func (r *Registry) ConnectionClosed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.localCount > 0 {
		r.localCount--
	}
	return r.localCount
}

// Register marks this instance live with count zero and the current
// timestamp, and applies the key TTL. Calling it again for the same
// instance overwrites the previous entries; there is never more than one
// entry per instance per map.
func (r *Registry) Register(ctx context.Context) error {
	if err := r.store.SetAdd(ctx, KeyInstances, r.instanceID); err != nil {
		return fmt.Errorf("register instance: %w", err)
	}
	if err := r.store.HashSet(ctx, KeyCounts, r.instanceID, "0"); err != nil {
		return fmt.Errorf("register count: %w", err)
	}
	if err := r.store.HashSet(ctx, KeyLastUpdate, r.instanceID, r.nowMillis()); err != nil {
		return fmt.Errorf("register timestamp: %w", err)
	}
	if err := r.refreshTTL(ctx); err != nil {
		return err
	}

	r.logger.Info("instance registered", "instance", r.instanceID)
	return nil
}

// RegisterWithRetry calls Register until it succeeds or ctx is done,
// sleeping a fixed delay between attempts. Store unavailability at startup
// is non-fatal; the process keeps serving local clients and retries.
func (r *Registry) RegisterWithRetry(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := r.Register(ctx)
		if err == nil {
			return nil
		}
		r.logger.Error("registration failed, will retry",
			"instance", r.instanceID,
			"attempt", attempt,
			"retry_in", r.cfg.RegisterRetryDelay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RegisterRetryDelay):
		}
	}
}

// UpdateCount rewrites this instance's count and heartbeat timestamp and
// refreshes the TTL on both presence hashes.
func (r *Registry) UpdateCount(ctx context.Context) error {
	count := strconv.Itoa(r.LocalCount())

	if err := r.store.HashSet(ctx, KeyCounts, r.instanceID, count); err != nil {
		return fmt.Errorf("update count: %w", err)
	}
	if err := r.store.HashSet(ctx, KeyLastUpdate, r.instanceID, r.nowMillis()); err != nil {
		return fmt.Errorf("update timestamp: %w", err)
	}
	return r.refreshTTL(ctx)
}

// Heartbeat performs one heartbeat cycle. Transient store errors are logged
// and the cycle is skipped; the next cycle tries again.
func (r *Registry) Heartbeat(ctx context.Context) {
	if err := r.UpdateCount(ctx); err != nil {
		r.logger.Error("heartbeat skipped", "instance", r.instanceID, "error", err)
	}
}

// RunHeartbeat runs heartbeat cycles on the configured interval until ctx
// is done.
func (r *Registry) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Heartbeat(ctx)
		}
	}
}

// Aggregate sums the client counts of all instances whose last heartbeat is
// within the liveness threshold. An instance with a count but a missing or
// stale timestamp contributes zero. When the instance set is empty, the
// local count is returned as a fallback so an expired or not yet populated
// registry does not read as zero users.
func (r *Registry) Aggregate(ctx context.Context) (int, error) {
	ids, err := r.store.SetMembers(ctx, KeyInstances)
	if err != nil {
		return 0, fmt.Errorf("aggregate instances: %w", err)
	}
	if len(ids) == 0 {
		return r.LocalCount(), nil
	}

	counts, err := r.store.HashGetAll(ctx, KeyCounts)
	if err != nil {
		return 0, fmt.Errorf("aggregate counts: %w", err)
	}
	lastUpdates, err := r.store.HashGetAll(ctx, KeyLastUpdate)
	if err != nil {
		return 0, fmt.Errorf("aggregate timestamps: %w", err)
	}

	now := r.now().UnixMilli()
	total := 0
	for _, id := range ids {
		countStr, hasCount := counts[id]
		updateStr, hasUpdate := lastUpdates[id]
		if !hasCount || !hasUpdate {
			continue
		}

		lastUpdate, err := strconv.ParseInt(updateStr, 10, 64)
		if err != nil {
			r.logger.Warn("malformed heartbeat timestamp", "instance", id, "value", updateStr)
			continue
		}
		if now-lastUpdate >= r.cfg.LivenessThreshold.Milliseconds() {
			r.logger.Debug("skipping stale instance", "instance", id, "age_ms", now-lastUpdate)
			continue
		}

		count, err := strconv.Atoi(countStr)
		if err != nil {
			r.logger.Warn("malformed client count", "instance", id, "value", countStr)
			continue
		}
		total += count
	}

	return total, nil
}

// Deregister removes this instance from the presence keys on graceful
// shutdown. Best effort: failures are logged, not retried, since the TTL
// cleans up whatever is left behind.
func (r *Registry) Deregister(ctx context.Context) {
	if err := r.store.SetRemove(ctx, KeyInstances, r.instanceID); err != nil {
		r.logger.Error("deregister instance failed", "instance", r.instanceID, "error", err)
	}
	if err := r.store.HashDelete(ctx, KeyCounts, r.instanceID); err != nil {
		r.logger.Error("deregister count failed", "instance", r.instanceID, "error", err)
	}
	if err := r.store.HashDelete(ctx, KeyLastUpdate, r.instanceID); err != nil {
		r.logger.Error("deregister timestamp failed", "instance", r.instanceID, "error", err)
	}

	r.logger.Info("instance deregistered", "instance", r.instanceID)
}

func (r *Registry) refreshTTL(ctx context.Context) error {
	if err := r.store.Expire(ctx, KeyCounts, r.cfg.KeyTTL); err != nil {
		return fmt.Errorf("refresh counts ttl: %w", err)
	}
	if err := r.store.Expire(ctx, KeyLastUpdate, r.cfg.KeyTTL); err != nil {
		return fmt.Errorf("refresh timestamps ttl: %w", err)
	}
	return nil
}

func (r *Registry) nowMillis() string {
	return strconv.FormatInt(r.now().UnixMilli(), 10)
}
