package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// Diagnostics of the raster stage.
const (
	msgRasterOpen  = "could not open raster"
	msgRasterRead  = "problem reading the file"
	msgRasterDiv   = "problem dividing the bands"
	msgRasterWrite = "problem writing the index raster"
)

// RasterIndexSource derives a normalized-difference index from a multi-band raster.
// Failures are logged and reported as false; no error reaches the caller.
type RasterIndexSource struct {
	path   string
	meta   domain.RasterMeta
	reader output.RasterReader
	writer output.RasterWriter
	logger *slog.Logger
}

// OpenIndexSource checks the raster at path: it opens the dataset, reads its metadata and releases it.
func OpenIndexSource(
	ctx context.Context,
	path string,
	reader output.RasterReader,
	writer output.RasterWriter,
	logger *slog.Logger,
) (*RasterIndexSource, bool) {
	logger = logger.With("raster", path)

	meta, err := reader.Describe(ctx, path)
	if err != nil {
		report(logger, msgRasterOpen, err)
		return nil, false
	}

	logger.Info("raster opened",
		"driver", meta.Driver,
		"width", meta.Width,
		"height", meta.Height,
		"bands", meta.Count,
		"dtype", meta.DataType,
	)

	return &RasterIndexSource{
		path:   path,
		meta:   meta,
		reader: reader,
		writer: writer,
		logger: logger,
	}, true
}

// Meta returns the source raster's metadata.
func (s *RasterIndexSource) Meta() domain.RasterMeta {
	return s.meta
}

// Path returns the source raster's path.
func (s *RasterIndexSource) Path() string {
	return s.path
}

// ComputeIndex reads the two bands and computes (pos - neg) / (pos + neg).
// Cells with a zero denominator are 0. The returned metadata describes a
// single-band Float32 GeoTIFF on the source grid.
func (s *RasterIndexSource) ComputeIndex(ctx context.Context, pos, neg int) (index *domain.IndexRaster, meta domain.RasterMeta, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			report(s.logger, msgRasterDiv, panicError("normalized difference", r))
			index, meta, ok = nil, domain.RasterMeta{}, false
		}
	}()

	if pos == 0 {
		pos = domain.DefaultPositiveBand
	}
	if neg == 0 {
		neg = domain.DefaultNegativeBand
	}

	for _, b := range []int{pos, neg} {
		if err := s.meta.ValidBand(b); err != nil {
			report(s.logger, msgRasterDiv, &domain.ComputationError{Op: "select bands", Err: errors.Join(domain.ErrBandOutOfRange, err)})
			return nil, domain.RasterMeta{}, false
		}
	}

	bands, err := s.reader.ReadBands(ctx, s.path, pos, neg)
	if err != nil {
		if errors.Is(err, domain.ErrBandOutOfRange) {
			report(s.logger, msgRasterDiv, &domain.ComputationError{Op: "select bands", Err: err})
		} else {
			report(s.logger, msgRasterRead, err)
		}
		return nil, domain.RasterMeta{}, false
	}

	index, err = domain.NormalizedDifference(bands[0], bands[1])
	if err != nil {
		report(s.logger, msgRasterDiv, err)
		return nil, domain.RasterMeta{}, false
	}

	if index.Masked > 0 {
		s.logger.Debug("zero denominator cells set to 0", "cells", index.Masked)
	}
	s.logger.Info("index computed", "positive_band", pos, "negative_band", neg, "masked", index.Masked)

	return index, s.meta.ForIndex(), true
}

// SaveIndex writes the index as a single-band GeoTIFF.
func (s *RasterIndexSource) SaveIndex(ctx context.Context, path string, index *domain.IndexRaster, meta domain.RasterMeta) bool {
	if err := s.writer.WriteIndex(ctx, path, index, meta); err != nil {
		report(s.logger, msgRasterWrite, err)
		return false
	}
	s.logger.Info("index raster written", "path", path)
	return true
}
