// Package kvstore defines the scoped blob-store capability that Reverie uses
// for all persistence: long-term memory documents and session state are
// serialised to opaque string blobs and written under well-known keys.
//
// The [Store] interface is deliberately minimal so that alternative backends
// (in-memory, flat files, SQLite, PostgreSQL, browser localStorage bridges, …)
// can be supplied without the core depending on any of them. Every
// implementation must be safe for concurrent use.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Store.Get] when no value exists for a key.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the abstraction over any key/value persistence backend.
//
// Values are opaque strings; callers own their encoding. Writes must be
// durable by the time Set returns (to the extent the backend supports
// durability) so that a crash between two operations loses at most one
// uncommitted mutation.
type Store interface {
	// Get returns the value stored under key, or [ErrNotFound] if the key has
	// never been written (or has been deleted).
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
