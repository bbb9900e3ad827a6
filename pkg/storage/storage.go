// Package storage provides the key-value persistence capability used by the
// repositories and the run log store. Keys are slash-separated paths; values
// are opaque byte blobs. The engine keeps small frequently-read records
// (task/run/review summaries) and large rarely-read payloads (run event logs,
// snapshots) in separate Storage instances.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist in storage.
var ErrNotFound = errors.New("not found")

// Storage is a key-value blob store.
type Storage interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	// List returns all keys under prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
}
