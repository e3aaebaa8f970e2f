package ports

import (
	"context"
	"time"
)

// Cache for raw provider responses keyed by a request fingerprint.
type RouteCache interface {
	// Return the cached payload and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}
