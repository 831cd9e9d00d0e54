package storage

import (
	"path"
	"strings"
)

// DataSuffixes are the file extensions the pipeline reads or publishes:
// rasters, shapefile members and GeoPackages.
var DataSuffixes = []string{".tif", ".tiff", ".shp", ".shx", ".dbf", ".prj", ".cpg", ".gpkg", ".csv"}

// IsDataFile reports whether name carries one of DataSuffixes, ignoring case.
func IsDataFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, s := range DataSuffixes {
		if ext == s {
			return true
		}
	}
	return false
}
