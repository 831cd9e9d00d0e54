package output

import (
	"context"

	"github.com/jobrunner/verdant/internal/domain"
)

// VectorRepository defines the secondary port for vector layer persistence.
type VectorRepository interface {
	// Read loads every feature of the layer at path into memory.
	Read(ctx context.Context, path string) (*domain.VectorLayer, error)

	// Write persists the layer, replacing any existing file at path.
	Write(ctx context.Context, path string, layer *domain.VectorLayer) error
}

// Plotter renders layers and attribute tables to image files.
type Plotter interface {
	// Choropleth draws polygons shaded by a numeric field.
	Choropleth(ctx context.Context, layer *domain.VectorLayer, field, path, title string) error

	// Scatter draws two columns of a table against each other.
	Scatter(ctx context.Context, table *domain.Table, spec domain.ScatterSpec) error

	// ReadControlFile loads Param,Value pairs from a plot control file.
	ReadControlFile(ctx context.Context, path string) (map[string]string, error)
}
