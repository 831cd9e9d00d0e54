package output

import (
	"context"

	"github.com/jobrunner/verdant/internal/domain"
)

// RasterReader defines the secondary port for reading raster datasets.
type RasterReader interface {
	// Describe opens the dataset, reads its metadata and releases it.
	Describe(ctx context.Context, path string) (domain.RasterMeta, error)

	// ReadBands reads whole bands (1-based) as float32 grids.
	ReadBands(ctx context.Context, path string, bands ...int) ([]domain.Band, error)
}

// RasterWriter defines the secondary port for persisting derived rasters.
type RasterWriter interface {
	// WriteIndex writes a single-band raster with the given metadata.
	WriteIndex(ctx context.Context, path string, index *domain.IndexRaster, meta domain.RasterMeta) error
}
