package presence

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory Store with per-operation error injection.
type fakeStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	sets   map[string]map[string]bool
	ttls   map[string]time.Duration

	failHashSet    error
	failSetMembers error
	failHashGetAll error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]bool),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeStore) HashSet(_ context.Context, key, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHashSet != nil {
		return f.failHashSet
	}
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][field] = value
	return nil
}

func (f *fakeStore) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHashGetAll != nil {
		return nil, f.failHashGetAll
	}
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) HashDelete(_ context.Context, key, field string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hashes[key], field)
	return nil
}

func (f *fakeStore) SetAdd(_ context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	f.sets[key][member] = true
	return nil
}

func (f *fakeStore) SetRemove(_ context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sets[key], member)
	return nil
}

func (f *fakeStore) SetMembers(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetMembers != nil {
		return nil, f.failSetMembers
	}
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (f *fakeStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][""] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func (f *fakeStore) hashValue(key, field string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.hashes[key][field]
	return v, ok
}

func testConfig() Config {
	return Config{
		KeyTTL:             40 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		LivenessThreshold:  60 * time.Second,
		RegisterRetryDelay: 5 * time.Second,
	}
}

func newTestRegistry(id string, st *fakeStore) *Registry {
	return NewRegistry(id, testConfig(), st, nil)
}

func TestRegister(t *testing.T) {
	st := newFakeStore()
	r := newTestRegistry("inst-a", st)

	if err := r.Register(context.Background()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if count, ok := st.hashValue(KeyCounts, "inst-a"); !ok || count != "0" {
		t.Errorf("count = %q (present=%v), want %q", count, ok, "0")
	}
	if _, ok := st.hashValue(KeyLastUpdate, "inst-a"); !ok {
		t.Error("last-update entry missing after Register")
	}
	if st.ttls[KeyCounts] != 40*time.Second {
		t.Errorf("counts TTL = %s, want 40s", st.ttls[KeyCounts])
	}
	if st.ttls[KeyLastUpdate] != 40*time.Second {
		t.Errorf("last-update TTL = %s, want 40s", st.ttls[KeyLastUpdate])
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	st := newFakeStore()
	r := newTestRegistry("inst-a", st)
	ctx := context.Background()

	if err := r.Register(ctx); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	first, _ := st.hashValue(KeyLastUpdate, "inst-a")

	r.now = func() time.Time { return time.Now().Add(time.Second) }
	if err := r.Register(ctx); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}

	members, _ := st.SetMembers(ctx, KeyInstances)
	if len(members) != 1 {
		t.Errorf("instance set has %d members, want 1", len(members))
	}
	if len(st.hashes[KeyCounts]) != 1 {
		t.Errorf("counts hash has %d entries, want 1", len(st.hashes[KeyCounts]))
	}
	second, _ := st.hashValue(KeyLastUpdate, "inst-a")
	if second == first {
		t.Error("second Register did not refresh the timestamp")
	}
}

func TestLocalCountNeverNegative(t *testing.T) {
	r := newTestRegistry("inst-a", newFakeStore())

	if got := r.ConnectionClosed(); got != 0 {
		t.Errorf("ConnectionClosed on empty registry = %d, want 0", got)
	}
	r.ConnectionOpened()
	r.ConnectionOpened()
	if got := r.LocalCount(); got != 2 {
		t.Errorf("LocalCount = %d, want 2", got)
	}
}

func TestUpdateCountWritesLocalCount(t *testing.T) {
	st := newFakeStore()
	r := newTestRegistry("inst-a", st)
	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionOpened()

	if err := r.UpdateCount(context.Background()); err != nil {
		t.Fatalf("UpdateCount failed: %v", err)
	}

	if count, _ := st.hashValue(KeyCounts, "inst-a"); count != "3" {
		t.Errorf("count = %q, want %q", count, "3")
	}
}

func TestHeartbeatSkipsCycleOnStoreError(t *testing.T) {
	st := newFakeStore()
	st.failHashSet = errors.New("connection refused")
	r := newTestRegistry("inst-a", st)

	// Must not panic or propagate; the cycle is just skipped.
	r.Heartbeat(context.Background())
}

func TestAggregateSumsLiveInstances(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()

	a := newTestRegistry("inst-a", st)
	b := newTestRegistry("inst-b", st)

	if err := a.Register(ctx); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := b.Register(ctx); err != nil {
		t.Fatalf("register b: %v", err)
	}

	for i := 0; i < 3; i++ {
		a.ConnectionOpened()
	}
	for i := 0; i < 2; i++ {
		b.ConnectionOpened()
	}
	if err := a.UpdateCount(ctx); err != nil {
		t.Fatalf("heartbeat a: %v", err)
	}
	if err := b.UpdateCount(ctx); err != nil {
		t.Fatalf("heartbeat b: %v", err)
	}

	total, err := a.Aggregate(ctx)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if total != 5 {
		t.Errorf("Aggregate = %d, want 5", total)
	}

	// Age instance b's heartbeat past the 60s liveness threshold; its
	// count entry still exists but must contribute zero.
	stale := time.Now().Add(-61 * time.Second).UnixMilli()
	if err := st.HashSet(ctx, KeyLastUpdate, "inst-b", strconv.FormatInt(stale, 10)); err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}

	total, err = a.Aggregate(ctx)
	if err != nil {
		t.Fatalf("Aggregate after staleness failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Aggregate with stale peer = %d, want 3", total)
	}
}

func TestAggregateIgnoresMissingTimestamp(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()

	a := newTestRegistry("inst-a", st)
	if err := a.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	a.ConnectionOpened()
	if err := a.UpdateCount(ctx); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	// A peer with a count but no heartbeat timestamp contributes zero.
	if err := st.SetAdd(ctx, KeyInstances, "inst-ghost"); err != nil {
		t.Fatalf("seed ghost: %v", err)
	}
	if err := st.HashSet(ctx, KeyCounts, "inst-ghost", "99"); err != nil {
		t.Fatalf("seed ghost count: %v", err)
	}

	total, err := a.Aggregate(ctx)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if total != 1 {
		t.Errorf("Aggregate = %d, want 1", total)
	}
}

func TestAggregateFallsBackToLocalCount(t *testing.T) {
	st := newFakeStore()
	r := newTestRegistry("inst-a", st)
	r.ConnectionOpened()
	r.ConnectionOpened()

	// No instances registered at all: report what this process can see.
	total, err := r.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if total != 2 {
		t.Errorf("Aggregate fallback = %d, want local count 2", total)
	}
}

func TestAggregateReturnsErrorWhenSetUnreachable(t *testing.T) {
	st := newFakeStore()
	st.failSetMembers = errors.New("connection refused")
	r := newTestRegistry("inst-a", st)

	if _, err := r.Aggregate(context.Background()); err == nil {
		t.Fatal("Aggregate = nil error, want store error")
	}
}

func TestDeregisterRemovesEntries(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()
	r := newTestRegistry("inst-a", st)

	if err := r.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Deregister(ctx)

	members, _ := st.SetMembers(ctx, KeyInstances)
	if len(members) != 0 {
		t.Errorf("instance set has %d members after Deregister, want 0", len(members))
	}
	if _, ok := st.hashValue(KeyCounts, "inst-a"); ok {
		t.Error("count entry still present after Deregister")
	}
	if _, ok := st.hashValue(KeyLastUpdate, "inst-a"); ok {
		t.Error("last-update entry still present after Deregister")
	}
}
