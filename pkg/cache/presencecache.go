// Package cache holds the live-state stores used by the feed: presence caches
// for the berth map and a bounded seen-set for duplicate suppression.
package cache

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is wrapped by Fetch when a key has no value.
var ErrNotFound = errors.New("key not found in presence cache")

// PresenceCache holds ephemeral, last-known state (which train description
// occupies a berth). There is no source of truth behind it, so values are only
// ever written and removed explicitly.
type PresenceCache[K comparable, V any] interface {
	Set(ctx context.Context, key K, value V) error
	// Fetch returns an error wrapping ErrNotFound for a missing key.
	Fetch(ctx context.Context, key K) (V, error)
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key K) error
	io.Closer
}
