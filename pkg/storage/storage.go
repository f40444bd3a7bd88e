// Package storage defines the FileStore interface for persisting image
// blobs. It abstracts the underlying backend so that callers can swap
// between local disk and S3-compatible object stores without changing
// application code.
//
// The primary use case within picseek is keeping the original bytes of
// every ingested image, addressed by a path derived from the item ID.
package storage

import (
	"context"
	"io"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading.
	// The caller must close the returned ReadCloser when done.
	// If the file does not exist, an error wrapping os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing.
	// If the file already exists it is truncated.
	// Parent directories are created automatically.
	// The caller must close the returned WriteCloser to flush data.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file.
	// If the file does not exist, Delete returns nil (idempotent).
	Delete(ctx context.Context, path string) error

	// DeleteAll removes every file under the store root and returns the
	// number of files removed. Safe to retry after partial failure.
	DeleteAll(ctx context.Context) (int, error)

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// ReadAll reads the full contents of the named file and closes the
// reader.
func ReadAll(ctx context.Context, fs FileStore, path string) ([]byte, error) {
	r, err := fs.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteAll writes data to the named file in a single call and closes the
// writer, returning the first error encountered.
func WriteAll(ctx context.Context, fs FileStore, path string, data []byte) error {
	w, err := fs.Write(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
