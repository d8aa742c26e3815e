// Package store adapts the shared key-value store to the small set of typed
// operations presence tracking needs: hash set/get-all/delete, set
// add/remove/members, and key expiration.
//
// The adapter must behave identically whether redis runs standalone,
// sentinel-backed, or clustered. Presence keys are a small fixed set of
// well-known names so they hash to one cluster slot; callers must not
// introduce per-instance key names.
package store
