// Package statestore abstracts the fast key-value backend that holds crawl
// progress. The crawler only requires this capability surface, so the Redis
// implementation can be swapped in tests.
package statestore

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound signals that the requested key does not exist.
var ErrKeyNotFound = errors.New("statestore: key not found")

// Store is the capability surface the crawl engine requires from its durable
// state backend. Every operation is an independent atomic single-key write.
type Store interface {
	// Get returns the string value at key or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes value under key; a zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// SAdd adds members to the set at key, creating it if needed.
	SAdd(ctx context.Context, key string, members ...string) error
	// SMembers returns all members of the set at key (empty if missing).
	SMembers(ctx context.Context, key string) ([]string, error)
	// SIsMember reports whether member is in the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)
	// Scan returns all keys beginning with prefix. Order is unspecified.
	Scan(ctx context.Context, prefix string) ([]string, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases client resources.
	Close() error
}
