package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// Diagnostics of the vector stage.
const (
	msgVectorRead   = "could not read vector layer"
	msgZonalRaster  = "problem reading the raster for zonal statistics"
	msgZonalCompute = "problem computing zonal statistics"
	msgFieldMissing = "field not found"
	msgFieldMean    = "problem computing the field mean"
	msgVectorWrite  = "problem writing the vector layer"
)

// ZonalAggregator owns a vector layer loaded in memory and writes zonal
// statistics of a raster into its attribute table.
type ZonalAggregator struct {
	path    string
	layer   *domain.VectorLayer
	vectors output.VectorRepository
	rasters output.RasterReader
	logger  *slog.Logger
	covered int
}

// NewZonalAggregator reads every feature of the layer at path.
func NewZonalAggregator(
	ctx context.Context,
	path string,
	vectors output.VectorRepository,
	rasters output.RasterReader,
	logger *slog.Logger,
) (*ZonalAggregator, bool) {
	logger = logger.With("vector", path)

	layer, err := vectors.Read(ctx, path)
	if err != nil {
		report(logger, fmt.Sprintf("%s %s", msgVectorRead, path), err)
		return nil, false
	}

	logger.Info("vector layer loaded",
		"layer", layer.Name,
		"features", layer.FeatureCount(),
		"fields", len(layer.Fields),
		"geometry_type", layer.GeometryType,
	)

	return &ZonalAggregator{
		path:    path,
		layer:   layer,
		vectors: vectors,
		rasters: rasters,
		logger:  logger,
	}, true
}

// Layer returns the in-memory layer.
func (a *ZonalAggregator) Layer() *domain.VectorLayer {
	return a.layer
}

// Covered returns how many features received a value in the last Aggregate.
func (a *ZonalAggregator) Covered() int {
	return a.covered
}

// Aggregate computes statistic over band 1 of the raster for every feature and
// stores it in outputField. The schema is only touched once every value is
// computed, so a failure leaves any previous column intact.
func (a *ZonalAggregator) Aggregate(ctx context.Context, rasterPath, statistic, outputField string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			report(a.logger, msgZonalCompute, panicError("zonal statistics", r))
			ok = false
		}
	}()

	field := strings.TrimSpace(outputField)
	if field == "" || domain.IsGeometryColumn(field) {
		report(a.logger, msgZonalCompute, &domain.ValidationError{
			Field:      "output_field",
			Value:      outputField,
			Constraint: "non-empty, not the geometry column",
			Message:    "invalid output field",
		})
		return false
	}

	stat, err := domain.ParseStatistic(statistic)
	if err != nil {
		report(a.logger, msgZonalCompute, &domain.ComputationError{Op: "parse statistic", Err: err})
		return false
	}

	if a.layer.HasField(field) {
		a.logger.Warn("field already exists and will be overwritten", "field", field)
	}

	meta, err := a.rasters.Describe(ctx, rasterPath)
	if err != nil {
		report(a.logger, msgZonalRaster, err)
		return false
	}
	if layerExtent, ok := a.layer.Extent(); ok && !meta.Extent().Intersects(layerExtent) {
		a.logger.Warn("vector layer does not overlap the raster; every feature will be missing",
			"raster", rasterPath, "layer", a.layer.Name)
	}

	bands, err := a.rasters.ReadBands(ctx, rasterPath, 1)
	if err != nil {
		report(a.logger, msgZonalRaster, err)
		return false
	}

	result, err := domain.ZonalStats(bands[0], meta.Transform, a.layer.Geometries(), stat, domain.ZonalNoData)
	if err != nil {
		report(a.logger, msgZonalCompute, err)
		return false
	}

	if err := a.layer.SetColumn(field, stat.ResultType(), result.Column()); err != nil {
		report(a.logger, msgZonalCompute, err)
		return false
	}

	a.covered = result.Covered()
	a.logger.Info("zonal statistics written",
		"statistic", stat.String(),
		"field", field,
		"features", a.layer.FeatureCount(),
		"covered", a.covered,
	)
	return true
}

// SummarizeField returns the mean of a numeric column, ignoring missing values.
// A column with no values yields NaN and true.
func (a *ZonalAggregator) SummarizeField(field string) (float64, bool) {
	mean, err := fieldMean(a.layer, field)
	switch {
	case errors.Is(err, domain.ErrSchema):
		report(a.logger, fmt.Sprintf("%s: %s", msgFieldMissing, field), err)
		return math.NaN(), false
	case err != nil:
		report(a.logger, msgFieldMean, err)
		return math.NaN(), false
	case math.IsNaN(mean):
		a.logger.Warn("field has no values; mean is NaN", "field", field)
	}
	return mean, true
}

// Save persists the layer at path; the format follows the extension.
func (a *ZonalAggregator) Save(ctx context.Context, path string) bool {
	if err := a.vectors.Write(ctx, path, a.layer); err != nil {
		report(a.logger, msgVectorWrite, err)
		return false
	}
	a.logger.Info("vector layer written", "path", path, "features", a.layer.FeatureCount())
	return true
}

// fieldMean averages the non-missing values of a column.
func fieldMean(layer *domain.VectorLayer, field string) (float64, error) {
	if domain.IsGeometryColumn(field) {
		return 0, &domain.ComputationError{Op: "mean", Err: errors.New("geometry column is not numeric")}
	}
	col, ok := layer.Column(field)
	if !ok {
		return 0, &domain.SchemaError{Fields: []string{field}, Message: msgFieldMissing}
	}

	values := make([]float64, 0, len(col))
	for _, v := range col {
		if v == nil {
			continue
		}
		if b, isBool := v.(bool); isBool {
			values = append(values, boolValue(b))
			continue
		}
		f, ok := domain.ToFloat(v)
		if !ok {
			return 0, &domain.ComputationError{Op: "mean", Err: fmt.Errorf("field %s holds non-numeric value %v", field, v)}
		}
		if !math.IsNaN(f) {
			values = append(values, f)
		}
	}

	if len(values) == 0 {
		return math.NaN(), nil
	}
	return stat.Mean(values, nil), nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
