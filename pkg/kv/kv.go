// Package kv provides a small key-value store interface used for caching
// derived data, such as image embeddings keyed by content hash.
//
// The package includes a BadgerDB-backed implementation for production use and
// an in-memory implementation for testing.
package kv

import (
	"context"
	"errors"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("kv: not found")
)

// Store is the interface for a flat key-value store.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair. Overwrites any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
