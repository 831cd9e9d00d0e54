package storage

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// keyspace maps pipeline keys onto a bucket or container prefix.
type keyspace string

func (k keyspace) full(key string) string {
	if k == "" {
		return key
	}
	return path.Join(string(k), key)
}

// rel strips the prefix from a remote object name.
func (k keyspace) rel(name string) string {
	return strings.TrimPrefix(strings.TrimPrefix(name, string(k)), "/")
}

// writeFile streams r into dest through a temporary sibling, so readers
// of dest never see a partially staged raster or layer.
func writeFile(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// contentTypes covers the formats the pipeline publishes.
var contentTypes = map[string]string{
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".gpkg": "application/geopackage+sqlite3",
	".png":  "image/png",
	".csv":  "text/csv",
	".prj":  "text/plain",
	".cpg":  "text/plain",
}

func contentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
