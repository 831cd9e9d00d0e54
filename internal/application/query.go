package application

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// LayerService answers attribute queries against the output layer of the
// latest successful run.
type LayerService struct {
	runs    *RunService
	vectors output.VectorRepository
	logger  *slog.Logger

	mu     sync.Mutex
	runID  string
	cached *domain.VectorLayer
}

// NewLayerService creates a new layer service.
func NewLayerService(runs *RunService, vectors output.VectorRepository, logger *slog.Logger) *LayerService {
	return &LayerService{
		runs:    runs,
		vectors: vectors,
		logger:  logger,
	}
}

// Layer returns the output layer of the latest successful run, reading it on
// first use after each run.
func (s *LayerService) Layer(ctx context.Context) (*domain.VectorLayer, error) {
	report, ok := s.runs.LatestReport()
	if !ok || !report.Success || report.OutputPath == "" {
		return nil, domain.ErrNoLayer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.runID == report.ID {
		return s.cached, nil
	}

	layer, err := s.vectors.Read(ctx, report.OutputPath)
	if err != nil {
		s.logger.Error("failed to read output layer", "path", report.OutputPath, "error", err)
		return nil, err
	}
	s.cached, s.runID = layer, report.ID
	s.logger.Debug("output layer loaded", "run", report.ID, "features", layer.FeatureCount())
	return layer, nil
}

// ExtractFields returns a snapshot of the named columns, or every
// non-geometry column when fields is nil.
func (s *LayerService) ExtractFields(ctx context.Context, fields []string) (*domain.Table, error) {
	layer, err := s.Layer(ctx)
	if err != nil {
		return nil, err
	}
	return extractFields(layer, fields)
}

// SummarizeField returns the mean of a numeric column of the output layer.
func (s *LayerService) SummarizeField(ctx context.Context, field string) (float64, error) {
	layer, err := s.Layer(ctx)
	if err != nil {
		return 0, err
	}
	return fieldMean(layer, field)
}
