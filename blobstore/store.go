// Package blobstore abstracts the durable byte store behind manifests
// and archives. Segments are read through the local filesystem and
// mmap; the blobstore carries the small, frequently rewritten objects
// (manifest versions, the CURRENT pointer) and bulk archive streams,
// locally or on S3-compatible object storage.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return errors satisfying errors.Is(err, ErrNotFound).
// The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of immutable blobs.
type Store interface {
	// Open opens a blob for streaming reads.
	Open(ctx context.Context, name string) (Blob, error)

	// Create starts a streaming write. The blob becomes visible under
	// name only when Close returns nil.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put publishes data under name atomically: readers observe either
	// the previous blob or the new one, never a partial write.
	Put(ctx context.Context, name string, data []byte) error

	// Get reads a whole blob.
	Get(ctx context.Context, name string) ([]byte, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle.
type Blob interface {
	io.ReadCloser

	// Size returns the blob's length in bytes.
	Size() int64
}

// WritableBlob is an in-progress write.
type WritableBlob interface {
	io.WriteCloser

	// Abort discards the write. Safe to call after a failed Close.
	Abort() error
}

// ReadAll drains a blob and closes it.
func ReadAll(b Blob) ([]byte, error) {
	defer func() { _ = b.Close() }()
	return io.ReadAll(b)
}
