package media

import (
	"context"
	"io"
)

// StorageProvider persists downloaded media. Stored objects are never
// rewritten.
type StorageProvider interface {
	// Put writes data under key. Writing an existing key is an error.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// AccessPath returns the local path consumers use to read key.
	AccessPath(key string) string
}
