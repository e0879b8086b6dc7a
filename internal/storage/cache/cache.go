// Package cache provides the small key/value cache used for session
// validation results and upstream listings.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented cache with per-entry expiry.
type Store interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
