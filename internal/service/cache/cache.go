// Package cache holds short-lived response caches for the HTTP API.
package cache

import "time"

// BytesCache stores encoded responses with a TTL.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
	// Load returns the cached value for key, or runs fill once for all
	// concurrent callers and caches its result for ttl. A zero ttl skips
	// storing.
	Load(key string, ttl time.Duration, fill func() ([]byte, error)) ([]byte, error)
	Purge(prefix string) int
}
