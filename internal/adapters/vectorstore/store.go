// Package vectorstore selects a vector repository by file extension.
package vectorstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// Store implements VectorRepository over format-specific repositories.
type Store struct {
	formats map[string]output.VectorRepository
}

// New creates a store; keys are lower-case extensions including the dot.
func New(formats map[string]output.VectorRepository) *Store {
	m := make(map[string]output.VectorRepository, len(formats))
	for ext, repo := range formats {
		m[strings.ToLower(ext)] = repo
	}
	return &Store{formats: m}
}

// Read reads the layer with the repository registered for path's extension.
func (s *Store) Read(ctx context.Context, path string) (*domain.VectorLayer, error) {
	repo, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	return repo.Read(ctx, path)
}

// Write writes the layer with the repository registered for path's extension.
func (s *Store) Write(ctx context.Context, path string, layer *domain.VectorLayer) error {
	repo, err := s.lookup(path)
	if err != nil {
		return err
	}
	return repo.Write(ctx, path, layer)
}

func (s *Store) lookup(path string) (output.VectorRepository, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if repo, ok := s.formats[ext]; ok {
		return repo, nil
	}
	return nil, &domain.IOError{
		Op:   "open",
		Path: path,
		Err:  fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, ext),
	}
}
