// Package kv is a small key-value abstraction used to cache prompt
// enhancements. Redis backs it in production; an in-memory map serves
// development and tests.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store
var ErrNotFound = errors.New("kv: key not found")

// Store is a byte-valued key-value store with per-key expiry
type Store interface {
	// Set stores value under key. A zero ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns ErrNotFound for missing or expired keys
	Get(ctx context.Context, key string) ([]byte, error)

	Delete(ctx context.Context, key string) error
	Close() error
}
