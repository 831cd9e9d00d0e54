// Package storage provides object storage adapters for staging pipeline
// inputs and publishing its outputs.
package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// LocalStorage serves a directory tree as object storage.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns the data files below the base directory, keyed by slash-separated relative path.
func (s *LocalStorage) List(_ context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsDataFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.StorageObject{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Err: err}
	}

	return objects, nil
}

// Download copies key to dest. Staging a file onto itself is a no-op.
func (s *LocalStorage) Download(_ context.Context, key string, dest string) error {
	if err := copyFile(s.FullPath(key), dest); err != nil {
		return &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	return nil
}

// Upload copies a pipeline output into the storage directory.
func (s *LocalStorage) Upload(_ context.Context, src string, key string) error {
	if err := copyFile(src, s.FullPath(key)); err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	return nil
}

func copyFile(srcPath, dest string) error {
	if filepath.Clean(srcPath) == filepath.Clean(dest) {
		return nil
	}

	src, err := os.Open(srcPath) //#nosec G304 -- path below the configured storage root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.Join(domain.ErrNotFound, err)
		}
		return err
	}
	defer func() { _ = src.Close() }()

	return writeFile(dest, src)
}

// GetReader opens the file stored under key.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.FullPath(key)) //#nosec G304 -- path below the configured storage root
	if err != nil {
		return nil, &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	return f, nil
}

// Exists checks if a file exists.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.FullPath(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &domain.StorageError{Operation: "exists", Key: key, Err: err}
	}
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, key)
}
