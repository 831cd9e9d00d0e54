package application

import (
	"log/slog"

	"github.com/jobrunner/verdant/internal/domain"
)

const msgExtract = "problem extracting fields"

// AttributeTable exposes attribute columns of a layer as detached tables.
type AttributeTable struct {
	layer  *domain.VectorLayer
	logger *slog.Logger
}

// NewAttributeTable creates an accessor over layer.
func NewAttributeTable(layer *domain.VectorLayer, logger *slog.Logger) *AttributeTable {
	return &AttributeTable{layer: layer, logger: logger}
}

// ExtractFields copies the named columns, or every non-geometry column when
// fields is nil. Any unknown name fails the whole call.
func (t *AttributeTable) ExtractFields(fields []string) (*domain.Table, bool) {
	table, err := extractFields(t.layer, fields)
	if err != nil {
		report(t.logger, msgExtract, err)
		return nil, false
	}
	return table, true
}

func extractFields(layer *domain.VectorLayer, fields []string) (*domain.Table, error) {
	if layer == nil {
		return nil, &domain.ValidationError{Field: "layer", Message: "no layer loaded"}
	}

	if fields == nil {
		var cols []string
		for _, c := range layer.Columns() {
			if !domain.IsGeometryColumn(c) {
				cols = append(cols, c)
			}
		}
		return domain.SnapshotTable(layer, cols), nil
	}

	var invalid []string
	for _, f := range fields {
		if domain.IsGeometryColumn(f) || !layer.HasField(f) {
			invalid = append(invalid, f)
		}
	}
	if len(invalid) > 0 {
		return nil, &domain.SchemaError{Fields: invalid, Message: "fields not in layer schema"}
	}

	return domain.SnapshotTable(layer, fields), nil
}
