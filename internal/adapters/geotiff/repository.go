// Package geotiff provides the GDAL-based raster repository.
package geotiff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/jobrunner/verdant/internal/domain"
)

var registerOnce sync.Once

// Repository implements the RasterReader and RasterWriter ports with GDAL.
// Datasets are opened and closed within each call.
type Repository struct {
	creationOptions []string
}

// NewRepository registers the GDAL drivers and creates a repository.
// creationOptions are passed to the GeoTIFF driver, e.g. "COMPRESS=DEFLATE".
func NewRepository(creationOptions ...string) *Repository {
	registerOnce.Do(godal.RegisterAll)
	return &Repository{creationOptions: creationOptions}
}

// Describe opens a raster, reads its metadata and releases it.
func (r *Repository) Describe(ctx context.Context, path string) (domain.RasterMeta, error) {
	if err := ctx.Err(); err != nil {
		return domain.RasterMeta{}, err
	}

	ds, err := r.open(path)
	if err != nil {
		return domain.RasterMeta{}, err
	}
	defer func() { _ = ds.Close() }()

	return describe(ds), nil
}

// ReadBands reads whole bands as float32 grids.
func (r *Repository) ReadBands(ctx context.Context, path string, bands ...int) ([]domain.Band, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := r.open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	meta := describe(ds)
	all := ds.Bands()

	out := make([]domain.Band, 0, len(bands))
	for _, idx := range bands {
		if err := meta.ValidBand(idx); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrBandOutOfRange, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf := make([]float32, meta.Width*meta.Height)
		if err := all[idx-1].Read(0, 0, buf, meta.Width, meta.Height); err != nil {
			return nil, &domain.IOError{Op: "read", Path: path, Err: fmt.Errorf("band %d: %w", idx, err)}
		}
		out = append(out, domain.Band{
			Index:  idx,
			Width:  meta.Width,
			Height: meta.Height,
			Data:   buf,
		})
	}
	return out, nil
}

// WriteIndex writes a single-band Float32 GeoTIFF on the grid described by meta.
func (r *Repository) WriteIndex(ctx context.Context, path string, index *domain.IndexRaster, meta domain.RasterMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if index == nil || len(index.Data) != index.Width*index.Height {
		return &domain.ComputationError{Op: "write index", Err: errors.New("index grid is empty or inconsistent")}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return &domain.IOError{Op: "write", Path: path, Err: err}
		}
	}

	var opts []godal.DatasetCreateOption
	if len(r.creationOptions) > 0 {
		opts = append(opts, godal.CreationOption(r.creationOptions...))
	}

	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float32, index.Width, index.Height, opts...)
	if err != nil {
		return &domain.IOError{Op: "create", Path: path, Err: err}
	}

	if err := writeDataset(ds, index, meta); err != nil {
		_ = ds.Close()
		return &domain.IOError{Op: "write", Path: path, Err: err}
	}
	if err := ds.Close(); err != nil {
		return &domain.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func writeDataset(ds *godal.Dataset, index *domain.IndexRaster, meta domain.RasterMeta) error {
	if !meta.Transform.IsZero() {
		if err := ds.SetGeoTransform([6]float64(meta.Transform)); err != nil {
			return fmt.Errorf("setting geotransform: %w", err)
		}
	}
	if meta.Projection != "" {
		if err := ds.SetProjection(meta.Projection); err != nil {
			return fmt.Errorf("setting projection: %w", err)
		}
	}

	band := ds.Bands()[0]
	if meta.HasNoData {
		if err := band.SetNoData(meta.NoData); err != nil {
			return fmt.Errorf("setting nodata: %w", err)
		}
	}
	return band.Write(0, 0, index.Data, index.Width, index.Height)
}

func (r *Repository) open(path string) (*godal.Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &domain.IOError{Op: "open", Path: path, Err: err}
	}
	ds, err := godal.Open(path)
	if err != nil {
		return nil, &domain.IOError{Op: "open", Path: path, Err: err}
	}
	if ds.Structure().NBands == 0 {
		_ = ds.Close()
		return nil, &domain.IOError{Op: "open", Path: path, Err: errors.New("not a raster dataset")}
	}
	return ds, nil
}

func describe(ds *godal.Dataset) domain.RasterMeta {
	st := ds.Structure()
	meta := domain.RasterMeta{
		Driver:     ds.Driver().ShortName(),
		Width:      st.SizeX,
		Height:     st.SizeY,
		Count:      st.NBands,
		DataType:   dataType(st.DataType),
		Transform:  domain.IdentityTransform,
		Projection: ds.Projection(),
	}

	if gt, err := ds.GeoTransform(); err == nil {
		meta.Transform = domain.GeoTransform(gt)
	}
	if bands := ds.Bands(); len(bands) > 0 {
		meta.NoData, meta.HasNoData = bands[0].NoData()
	}
	return meta
}

// dataType maps GDAL sample types to their domain names.
func dataType(dt godal.DataType) domain.DataType {
	switch dt {
	case godal.Byte:
		return domain.Byte
	case godal.UInt16:
		return domain.UInt16
	case godal.Int16:
		return domain.Int16
	case godal.UInt32:
		return domain.UInt32
	case godal.Int32:
		return domain.Int32
	case godal.Float32:
		return domain.Float32
	case godal.Float64:
		return domain.Float64
	default:
		return domain.DataType(dt.String())
	}
}
