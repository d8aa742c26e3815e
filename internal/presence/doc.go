// Package presence implements cross-instance presence aggregation.
//
// Each process registers itself in the shared store under a small fixed set
// of keys: a set of live instance ids, a hash of per-instance client counts,
// and a hash of per-instance last-heartbeat timestamps. All three carry a
// TTL so a crashed instance expires passively instead of needing a failure
// detector. Observers filter out instances whose last heartbeat is older
// than the liveness threshold, so a stale count never leaks into the
// aggregate even while its hash entry still exists.
package presence
