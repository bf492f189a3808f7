// Package store reads objects (manifests and archive tarballs) from the
// remote bulk-data location: the arXiv S3 bucket or an HTTP mirror of it.
package store

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when the requested key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore streams a single object into w and returns the bytes written.
type ObjectStore interface {
	Fetch(ctx context.Context, key string, w io.Writer) (int64, error)
}

// Lister enumerates keys under a prefix. Only mirrors without a manifest
// need it.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}
