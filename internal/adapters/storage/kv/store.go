// Package kv is a small durable key/value blob store. It backs the values a
// browser would keep in local storage: the local waitlist blob and the
// per-client submission markers.
package kv

import "context"

// Store persists opaque string values by key.
type Store interface {
	// Get returns the value and true, or "" and false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}
