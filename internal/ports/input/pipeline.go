// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/verdant/internal/domain"
)

// RunTrigger defines the primary port for starting pipeline runs.
type RunTrigger interface {
	// TriggerRun runs the configured pipeline now, subject to rate limiting.
	TriggerRun(ctx context.Context) (domain.RunReport, error)

	// LatestReport returns the report of the most recent run.
	LatestReport() (domain.RunReport, bool)
}

// LayerQuery defines the primary port for reading the latest output layer.
type LayerQuery interface {
	// ExtractFields returns a snapshot of the named columns, or all non-geometry columns when nil.
	ExtractFields(ctx context.Context, fields []string) (*domain.Table, error)

	// SummarizeField returns the mean of a numeric column.
	SummarizeField(ctx context.Context, field string) (float64, error)

	// Layer returns the latest output layer.
	Layer(ctx context.Context) (*domain.VectorLayer, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy    bool              // Overall health status
	Ready      bool              // Ready to accept requests
	LastStage  string            // Stage reached by the latest run
	LastRunOK  bool              // Latest run reached the final stage
	RunsTotal  int               // Runs since start
	Components map[string]string // Component statuses
}
