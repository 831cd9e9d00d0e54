package application

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// Diagnostics of the optional plot steps.
const (
	msgControlFile = "problem reading the plot control file"
	msgScatter     = "problem drawing the scatter plot"
	msgChoropleth  = "problem drawing the map"
)

// PipelineService runs the index-and-aggregate pipeline.
type PipelineService struct {
	rasters   output.RasterReader
	indexes   output.RasterWriter
	vectors   output.VectorRepository
	plotter   output.Plotter
	workspace *Workspace
	metrics   output.MetricsCollector
	logger    *slog.Logger
}

// NewPipelineService creates a pipeline service. plotter may be nil, which
// disables the plot steps.
func NewPipelineService(
	rasters output.RasterReader,
	indexes output.RasterWriter,
	vectors output.VectorRepository,
	plotter output.Plotter,
	workspace *Workspace,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *PipelineService {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &PipelineService{
		rasters:   rasters,
		indexes:   indexes,
		vectors:   vectors,
		plotter:   plotter,
		workspace: workspace,
		metrics:   metrics,
		logger:    logger,
	}
}

// run tracks one pass through the stages.
type run struct {
	*PipelineService
	ctx    context.Context
	report domain.RunReport
	logger *slog.Logger
	last   time.Time
}

// step runs fn and advances to stage on success. The first failure halts the run.
func (r *run) step(stage domain.Stage, fn func() bool) bool {
	if r.report.FailedStep != "" {
		return false
	}
	if err := r.ctx.Err(); err != nil {
		r.logger.Warn("run canceled", "stage", stage, "error", err)
		r.fail(stage, "canceled")
		return false
	}
	if !fn() {
		r.fail(stage, "failed")
		return false
	}

	took := time.Since(r.last)
	r.last = time.Now()
	r.report.Advance(stage, took)
	r.metrics.ObserveStageDuration(stage.String(), took)
	r.logger.Debug("stage reached", "stage", stage, "took", took)
	return true
}

func (r *run) fail(stage domain.Stage, kind string) {
	r.report.FailedStep = stage.String()
	r.metrics.IncStageFailure(stage.String(), kind)
}

// Run executes every stage of req in order and halts at the first failure.
// Optional plots run after the vector layer is persisted; their failures are
// reported but do not fail the run.
func (p *PipelineService) Run(ctx context.Context, req domain.RunRequest) domain.RunReport {
	r := &run{
		PipelineService: p,
		ctx:             ctx,
		report: domain.RunReport{
			ID:          uuid.NewString(),
			StartedAt:   time.Now().UTC(),
			Stage:       domain.StageUninitialized,
			OutputField: req.OutputField,
		},
		last: time.Now(),
	}
	r.logger = p.logger.With("run", r.report.ID)
	r.logger.Info("run started", "raster", req.RasterPath, "vector", req.VectorPath, "statistic", req.Statistic)

	var (
		source *RasterIndexSource
		index  *domain.IndexRaster
		meta   domain.RasterMeta
		agg    *ZonalAggregator
	)

	indexPath := p.workspace.LocalPath(req.IndexPath)
	outputPath := p.workspace.LocalPath(req.OutputPath)

	r.step(domain.StageRasterOpened, func() bool {
		path, ok := r.stage(req.RasterPath)
		if !ok {
			return false
		}
		source, ok = OpenIndexSource(ctx, path, p.rasters, p.indexes, r.logger)
		return ok
	})

	r.step(domain.StageIndexComputed, func() bool {
		var ok bool
		index, meta, ok = source.ComputeIndex(ctx, req.PositiveBand, req.NegativeBand)
		if ok {
			r.report.MaskedCells = index.Masked
			p.metrics.SetMaskedCells(index.Masked)
		}
		return ok
	})

	r.step(domain.StageIndexPersisted, func() bool {
		if !source.SaveIndex(ctx, indexPath, index, meta) {
			return false
		}
		r.report.IndexPath = indexPath
		return r.publish(indexPath, req.IndexPath)
	})

	r.step(domain.StageVectorLoaded, func() bool {
		path, ok := r.stage(req.VectorPath)
		if !ok {
			return false
		}
		agg, ok = NewZonalAggregator(ctx, path, p.vectors, p.rasters, r.logger)
		if ok {
			r.report.Features = agg.Layer().FeatureCount()
		}
		return ok
	})

	r.step(domain.StageStatsComputed, func() bool {
		if !agg.Aggregate(ctx, indexPath, req.Statistic, req.OutputField) {
			return false
		}
		r.report.Covered = agg.Covered()
		p.metrics.SetFeatureCount(r.report.Features)
		return true
	})

	r.step(domain.StageVectorPersisted, func() bool {
		if req.LayerName != "" {
			agg.Layer().Name = req.LayerName
		}
		if !agg.Save(ctx, outputPath) {
			return false
		}
		r.report.OutputPath = outputPath
		return r.publish(outputPath, req.OutputPath)
	})

	if r.report.Stage.Complete() {
		if mean, ok := agg.SummarizeField(req.OutputField); ok {
			r.report.SetFieldMean(mean)
			if !math.IsNaN(mean) {
				p.metrics.SetFieldMean(mean)
			}
		}
		r.plots(req, agg)
	}

	r.report.FinishedAt = time.Now().UTC()
	r.report.Success = r.report.Stage.Complete()
	p.metrics.IncRunCount(r.report.Success)

	if r.report.Success {
		r.logger.Info("run completed",
			"features", r.report.Features,
			"covered", r.report.Covered,
			"masked_cells", r.report.MaskedCells,
			"output", r.report.OutputPath,
			"duration", r.report.Duration(),
		)
	} else {
		r.logger.Error("run halted",
			"stage", r.report.Stage,
			"failed_step", r.report.FailedStep,
			"duration", r.report.Duration(),
		)
	}
	return r.report
}

func (r *run) stage(key string) (string, bool) {
	path, err := r.workspace.Stage(r.ctx, key)
	if err != nil {
		report(r.logger, "could not stage input", err)
		return "", false
	}
	return path, true
}

func (r *run) publish(localPath, key string) bool {
	if err := r.workspace.Publish(r.ctx, localPath, key); err != nil {
		report(r.logger, "could not publish output", err)
		return false
	}
	return true
}

func (r *run) plots(req domain.RunRequest, agg *ZonalAggregator) {
	if r.plotter == nil {
		return
	}

	if req.ChoroplethPath != "" {
		path := r.workspace.LocalPath(req.ChoroplethPath)
		ok := r.choropleth(r.ctx, r.logger, agg.Layer(), req.OutputField, path)
		if ok && r.publish(path, req.ChoroplethPath) {
			r.logger.Debug("map published", "key", req.ChoroplethPath)
		}
		r.report.Plots = append(r.report.Plots, domain.PlotOutcome{Kind: "choropleth", Path: path, OK: ok})
	}

	if req.ControlFile != "" {
		table, ok := NewAttributeTable(agg.Layer(), r.logger).ExtractFields(nil)
		if ok {
			ok = r.scatterFromControlFile(r.ctx, r.logger, table, r.workspace.LocalPath(req.ControlFile))
		}
		r.report.Plots = append(r.report.Plots, domain.PlotOutcome{Kind: "scatter", Path: req.ControlFile, OK: ok})
	}
}

// PlotChoropleth maps field over the layer's polygons.
func (p *PipelineService) PlotChoropleth(ctx context.Context, layer *domain.VectorLayer, field, path string) bool {
	return p.choropleth(ctx, p.logger, layer, field, path)
}

// PlotFromControlFile draws the scatter plot described by the control file at path.
// A relative output file is placed in the working directory.
func (p *PipelineService) PlotFromControlFile(ctx context.Context, table *domain.Table, path string) bool {
	return p.scatterFromControlFile(ctx, p.logger, table, path)
}

func (p *PipelineService) choropleth(ctx context.Context, logger *slog.Logger, layer *domain.VectorLayer, field, path string) bool {
	if p.plotter == nil {
		return false
	}
	if err := p.plotter.Choropleth(ctx, layer, field, path, field); err != nil {
		report(logger, msgChoropleth, err)
		return false
	}
	logger.Info("map written", "path", path, "field", field)
	return true
}

func (p *PipelineService) scatterFromControlFile(ctx context.Context, logger *slog.Logger, table *domain.Table, path string) bool {
	if p.plotter == nil {
		return false
	}

	params, err := p.plotter.ReadControlFile(ctx, path)
	if err != nil {
		report(logger, msgControlFile, err)
		return false
	}
	spec, err := domain.ParseScatterSpec(params)
	if err != nil {
		report(logger, msgControlFile, err)
		return false
	}
	spec.OutFile = p.workspace.LocalPath(spec.OutFile)

	if err := p.plotter.Scatter(ctx, table, spec); err != nil {
		report(logger, msgScatter, err)
		return false
	}
	logger.Info("scatter plot written", "path", spec.OutFile, "x", spec.XField, "y", spec.YField)
	return true
}
