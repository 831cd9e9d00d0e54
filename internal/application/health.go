package application

import (
	"context"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/input"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// HealthService provides health check functionality.
type HealthService struct {
	runs    *RunService
	storage output.ObjectStorage
}

// NewHealthService creates a new health service. storage may be nil.
func NewHealthService(runs *RunService, storage output.ObjectStorage) *HealthService {
	return &HealthService{
		runs:    runs,
		storage: storage,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true before the first run and after a successful one.
func (s *HealthService) IsReady(_ context.Context) bool {
	report, ok := s.runs.LatestReport()
	if !ok {
		return true
	}
	return report.Success
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	details := input.HealthDetails{
		Healthy:    s.IsHealthy(ctx),
		Ready:      s.IsReady(ctx),
		LastStage:  domain.StageUninitialized.String(),
		RunsTotal:  s.runs.RunsTotal(),
		Components: map[string]string{"pipeline": "idle"},
	}

	if report, ok := s.runs.LatestReport(); ok {
		details.LastStage = report.Stage.String()
		details.LastRunOK = report.Success
		if report.Success {
			details.Components["pipeline"] = "ok"
		} else {
			details.Components["pipeline"] = "failed at " + report.FailedStep
		}
	}

	details.Components["storage"] = s.storageStatus(ctx)
	return details
}

func (s *HealthService) storageStatus(ctx context.Context) string {
	if s.storage == nil {
		return "local"
	}
	if _, err := s.storage.List(ctx); err != nil {
		return "unavailable"
	}
	return "ok"
}
