// Package application contains the application services.
package application

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// shapefileSidecars are the files that travel with a .shp.
var shapefileSidecars = []string{".shx", ".dbf", ".prj", ".cpg"}

// Workspace stages inputs from object storage into a local directory and
// publishes outputs back. Without storage, paths are used as given.
type Workspace struct {
	mu      sync.RWMutex
	staged  map[string]*stagedEntry
	storage output.ObjectStorage
	metrics output.MetricsCollector
	logger  *slog.Logger
	dir     string
}

type stagedEntry struct {
	Key      string
	Path     string
	StagedAt time.Time
}

// StagedFile describes a file copied into the workspace.
type StagedFile struct {
	Key      string    `json:"key"`
	Path     string    `json:"path"`
	StagedAt time.Time `json:"staged_at"`
}

// NewWorkspace creates a workspace rooted at dir.
func NewWorkspace(
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	dir string,
) *Workspace {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &Workspace{
		staged:  make(map[string]*stagedEntry),
		storage: storage,
		metrics: metrics,
		logger:  logger,
		dir:     dir,
	}
}

// Dir returns the local working directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// LocalPath maps a key or relative path into the working directory.
// Absolute paths are returned unchanged.
func (w *Workspace) LocalPath(name string) string {
	if name == "" || filepath.IsAbs(name) || w.dir == "" {
		return name
	}
	return filepath.Join(w.dir, filepath.FromSlash(name))
}

// Stage makes key available on the local filesystem and returns its path.
// A shapefile is staged together with its sidecar files.
func (w *Workspace) Stage(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", &domain.ValidationError{Field: "path", Constraint: "non-empty", Message: "no input path"}
	}

	if w.storage == nil || filepath.IsAbs(key) {
		return key, nil
	}

	local := w.LocalPath(key)
	if err := w.download(ctx, key, local); err != nil {
		return "", &domain.IOError{Op: "stage", Path: key, Err: err}
	}

	if strings.EqualFold(filepath.Ext(key), ".shp") {
		base := strings.TrimSuffix(key, filepath.Ext(key))
		for _, ext := range shapefileSidecars {
			w.stageSidecar(ctx, base+ext)
		}
	}

	return local, nil
}

// stageSidecar downloads an optional companion file; absence is not an error.
func (w *Workspace) stageSidecar(ctx context.Context, key string) {
	exists, err := w.storage.Exists(ctx, key)
	if err != nil || !exists {
		w.logger.Debug("sidecar not staged", "key", key, "error", err)
		return
	}
	if err := w.download(ctx, key, w.LocalPath(key)); err != nil {
		w.logger.Warn("failed to stage sidecar", "key", key, "error", err)
	}
}

func (w *Workspace) download(ctx context.Context, key, dest string) error {
	start := time.Now()
	err := w.storage.Download(ctx, key, dest)
	w.metrics.IncStorageOperations("download", err == nil)
	w.metrics.ObserveStorageDuration("download", time.Since(start))
	if err != nil {
		w.logger.Error("failed to download input", "key", key, "error", err)
		return err
	}

	w.mu.Lock()
	w.staged[key] = &stagedEntry{Key: key, Path: dest, StagedAt: time.Now()}
	w.mu.Unlock()

	w.logger.Debug("input staged", "key", key, "path", dest)
	return nil
}

// Publish uploads a local output under key. Shapefile outputs carry their sidecars.
// It is a no-op without storage.
func (w *Workspace) Publish(ctx context.Context, localPath, key string) error {
	if w.storage == nil || key == "" || filepath.IsAbs(key) {
		return nil
	}

	if err := w.upload(ctx, localPath, key); err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(key), ".shp") {
		localBase := strings.TrimSuffix(localPath, filepath.Ext(localPath))
		keyBase := strings.TrimSuffix(key, filepath.Ext(key))
		for _, ext := range shapefileSidecars {
			if _, err := os.Stat(localBase + ext); err != nil {
				continue
			}
			if err := w.upload(ctx, localBase+ext, keyBase+ext); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Workspace) upload(ctx context.Context, localPath, key string) error {
	start := time.Now()
	err := w.storage.Upload(ctx, localPath, key)
	w.metrics.IncStorageOperations("upload", err == nil)
	w.metrics.ObserveStorageDuration("upload", time.Since(start))
	if err != nil {
		if errors.Is(err, domain.ErrUnsupported) {
			w.logger.Warn("storage is read-only; output kept locally", "key", key, "path", localPath)
			return nil
		}
		return &domain.IOError{Op: "publish", Path: key, Err: err}
	}
	w.logger.Info("output published", "key", key)
	return nil
}

// Staged returns the staged files ordered by key.
func (w *Workspace) Staged() []StagedFile {
	w.mu.RLock()
	defer w.mu.RUnlock()

	files := make([]StagedFile, 0, len(w.staged))
	for _, e := range w.staged {
		files = append(files, StagedFile(*e))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
	return files
}

// CleanStats reports a Clean pass.
type CleanStats struct {
	Removed int
	Kept    int
}

// Clean deletes staged copies whose keys no longer exist in storage.
func (w *Workspace) Clean(ctx context.Context) (CleanStats, error) {
	if w.storage == nil {
		return CleanStats{}, nil
	}

	objects, err := w.storage.List(ctx)
	if err != nil {
		return CleanStats{}, err
	}
	remote := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		remote[obj.Key] = struct{}{}
	}

	stale := w.findStale(remote)
	stats := CleanStats{}
	for _, e := range stale {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to delete staged file", "path", e.Path, "error", err)
			continue
		}
		w.mu.Lock()
		delete(w.staged, e.Key)
		w.mu.Unlock()
		stats.Removed++
	}

	w.mu.RLock()
	stats.Kept = len(w.staged)
	w.mu.RUnlock()

	w.logger.Info("workspace cleaned", "removed", stats.Removed, "kept", stats.Kept)
	return stats, nil
}

func (w *Workspace) findStale(remote map[string]struct{}) []stagedEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var stale []stagedEntry
	for key, e := range w.staged {
		if _, ok := remote[key]; !ok {
			stale = append(stale, *e)
		}
	}
	return stale
}
