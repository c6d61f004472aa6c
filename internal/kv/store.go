// Package kv provides the flat key-value persistence the dataset store is built on.
//
// Values are opaque byte slices (JSON documents in practice). Drivers exist for an
// in-process map, SQLite through gorm, Redis, and a lock-protected JSON file.
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("kv: store closed")

// Store is a synchronous get/set/enumerate key-value store.
type Store interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every stored key in lexical order.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
