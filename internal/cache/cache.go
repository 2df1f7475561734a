// Package cache stores small, slow-to-fetch values such as token metadata.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value for ttl; a zero ttl keeps it until evicted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}
