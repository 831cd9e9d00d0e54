// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
)

// ObjectStorage is where pipeline inputs are staged from and outputs are
// published to. Keys are slash-separated paths relative to the backend root.
type ObjectStorage interface {
	// List returns the rasters, vector layers and control files in the storage.
	List(ctx context.Context) ([]StorageObject, error)

	// Download stages an object at a local path, creating parent directories.
	Download(ctx context.Context, key string, dest string) error

	// Upload publishes a local file under key. Read-only backends return
	// an error wrapping domain.ErrUnsupported.
	Upload(ctx context.Context, src string, key string) error

	// GetReader returns a reader for the given object.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether key is present; a missing object is not an error.
	Exists(ctx context.Context, key string) (bool, error)
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash
}

// StorageType names a storage backend in configuration.
type StorageType string

// Storage backends. An empty type or "none" reads inputs straight from disk.
const (
	StorageTypeNone  StorageType = "none"
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)
