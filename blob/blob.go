// Package blob defines the blob store contract: content get/put plus a
// best-effort, eventually consistent custom-metadata side channel.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists at the given path.
var ErrNotFound = errors.New("object not found")

// Object is a downloaded blob with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Store is the blob store consumed by the file envelope codec.
//
// Metadata written through SetMetadata propagates eventually: a read
// immediately after a write may observe stale or missing entries, so
// callers must treat absence as "possibly not yet visible".
type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	Download(ctx context.Context, path string) (*Object, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	GetMetadata(ctx context.Context, path string) (map[string]string, error)
	SetMetadata(ctx context.Context, path string, meta map[string]string) error
}
