package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jobrunner/verdant/internal/domain"
)

func newMirror(t *testing.T) *httptest.Server {
	t.Helper()
	files := map[string]string{
		"/index.txt":            "# scenes\nscene.tif 12\n\nvector/parcels.shp\nnotes.txt\n",
		"/scene.tif":            "raster bytes",
		"/vector/parcels.shp":   "shp",
		"/vector/my parcel.dbf": "dbf",
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "reader" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
}

func newMirrorStorage(srv *httptest.Server) *HTTPStorage {
	return NewHTTPStorage(HTTPConfig{BaseURL: srv.URL + "/", Username: "reader", Password: "secret"})
}

func TestHTTPStorageList(t *testing.T) {
	srv := newMirror(t)
	defer srv.Close()

	objects, err := newMirrorStorage(srv).List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("List() = %+v, want 2 objects", objects)
	}
	if objects[0].Key != "scene.tif" || objects[0].Size != 12 {
		t.Errorf("objects[0] = %+v", objects[0])
	}
	if objects[1].Key != "vector/parcels.shp" || objects[1].Size != 0 {
		t.Errorf("objects[1] = %+v", objects[1])
	}
}

func TestHTTPStorageDownload(t *testing.T) {
	srv := newMirror(t)
	defer srv.Close()
	s := newMirrorStorage(srv)
	dir := t.TempDir()

	dest := filepath.Join(dir, "in", "parcel.dbf")
	if err := s.Download(context.Background(), "vector/my parcel.dbf", dest); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if data, _ := os.ReadFile(dest); string(data) != "dbf" {
		t.Errorf("downloaded %q, want dbf", data)
	}

	err := s.Download(context.Background(), "missing.tif", filepath.Join(dir, "missing.tif"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Download(missing) error = %v, want ErrNotFound", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "missing.tif")); statErr == nil {
		t.Error("failed download left a file behind")
	}
}

func TestHTTPStorageExists(t *testing.T) {
	srv := newMirror(t)
	defer srv.Close()
	s := newMirrorStorage(srv)

	if ok, err := s.Exists(context.Background(), "scene.tif"); err != nil || !ok {
		t.Errorf("Exists(scene.tif) = %v, %v", ok, err)
	}
	if ok, err := s.Exists(context.Background(), "scene.prj"); err != nil || ok {
		t.Errorf("Exists(scene.prj) = %v, %v, want false, nil", ok, err)
	}

	anon := NewHTTPStorage(HTTPConfig{BaseURL: srv.URL})
	if _, err := anon.Exists(context.Background(), "scene.tif"); err == nil {
		t.Error("Exists() without credentials should error")
	}
}

func TestKeyspace(t *testing.T) {
	tests := []struct {
		prefix, key, full string
	}{
		{"", "scene.tif", "scene.tif"},
		{"inputs", "scene.tif", "inputs/scene.tif"},
		{"inputs/2024", "vector/parcels.shp", "inputs/2024/vector/parcels.shp"},
	}

	for _, tt := range tests {
		k := keyspace(tt.prefix)
		if got := k.full(tt.key); got != tt.full {
			t.Errorf("full(%q) = %q, want %q", tt.key, got, tt.full)
		}
		if got := k.rel(tt.full); got != tt.key {
			t.Errorf("rel(%q) = %q, want %q", tt.full, got, tt.key)
		}
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"ndvi.tif":         "image/tiff",
		"out/parcels.GPKG": "application/geopackage+sqlite3",
		"map.png":          "image/png",
		"parcels.shp":      "application/octet-stream",
	}
	for name, want := range tests {
		if got := contentType(name); got != want {
			t.Errorf("contentType(%q) = %q, want %q", name, got, want)
		}
	}
}
