// Cache of values looked up from the platform (eg, account creation times), with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
package cachestore

import (
	"context"
)

type CacheStore interface {
	// Returns an empty string on a miss
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}
