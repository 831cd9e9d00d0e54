package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// HTTPStorage stages pipeline inputs from a read-only HTTP(S) mirror.
type HTTPStorage struct {
	client    *http.Client
	baseURL   string
	indexFile string
	username  string
	password  string
}

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTPStorage{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile: cfg.IndexFile,
		username:  cfg.Username,
		password:  cfg.Password,
	}
}

// get issues an authenticated request for key relative to the base URL.
func (s *HTTPStorage) get(ctx context.Context, method, key string) (*http.Response, error) {
	target, err := url.JoinPath(s.baseURL, strings.Split(key, "/")...)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	return s.client.Do(req)
}

// statusError converts a non-200 response into a storage error.
func statusError(op, key string, resp *http.Response) error {
	err := fmt.Errorf("HTTP %d", resp.StatusCode)
	if resp.StatusCode == http.StatusNotFound {
		err = fmt.Errorf("%w: HTTP 404", domain.ErrNotFound)
	}
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}

// List returns the data files named in the index file. Each line holds a key,
// optionally followed by its size in bytes; blank lines and # comments are skipped.
func (s *HTTPStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	resp, err := s.get(ctx, http.MethodGet, s.indexFile)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: s.indexFile, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list", s.indexFile, resp)
	}

	var objects []output.StorageObject
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") || !IsDataFile(fields[0]) {
			continue
		}

		obj := output.StorageObject{Key: fields[0]}
		if len(fields) > 1 {
			obj.Size, _ = strconv.ParseInt(fields[1], 10, 64)
		}
		objects = append(objects, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: s.indexFile, Err: err}
	}

	return objects, nil
}

// Download stages a file at dest.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := writeFile(dest, body); err != nil {
		return &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	return nil
}

// Upload is not supported: the HTTP backend is a read-only mirror.
func (s *HTTPStorage) Upload(_ context.Context, _ string, key string) error {
	return &domain.StorageError{Operation: "upload", Key: key, Err: domain.ErrUnsupported}
}

// GetReader returns the body of a file.
func (s *HTTPStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.get(ctx, http.MethodGet, key)
	if err != nil {
		return nil, &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, statusError("download", key, resp)
	}
	return resp.Body, nil
}

// Exists checks a file with a HEAD request. A 404 is a definite no; other failures are errors.
func (s *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.get(ctx, http.MethodHead, key)
	if err != nil {
		return false, &domain.StorageError{Operation: "exists", Key: key, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError("exists", key, resp)
	}
}
