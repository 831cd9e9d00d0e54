package domain

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// GeometryColumn is the name under which a layer exposes its geometry.
const GeometryColumn = "geometry"

// IsGeometryColumn matches the geometry column name case-insensitively.
func IsGeometryColumn(name string) bool {
	return strings.EqualFold(name, GeometryColumn)
}

// FieldType is the storage class of an attribute column.
type FieldType string

// Attribute column types.
const (
	FieldInteger FieldType = "INTEGER"
	FieldReal    FieldType = "REAL"
	FieldText    FieldType = "TEXT"
	FieldBoolean FieldType = "BOOLEAN"
	FieldDate    FieldType = "DATE"
)

// IsNumeric reports whether values of the type can be averaged.
func (t FieldType) IsNumeric() bool {
	return t == FieldInteger || t == FieldReal
}

// Field is one attribute column of a layer schema.
type Field struct {
	Name string
	Type FieldType
}

// VectorLayer is a feature collection held fully in memory.
// Attribute names in Fields are unique; every feature is aligned with the schema.
type VectorLayer struct {
	Name         string       // Layer/table name
	Path         string       // Source file
	SRID         int          // Spatial Reference ID, 0 when unknown
	Projection   string       // WKT of the CRS, if known
	GeometryType GeometryType // Declared geometry type
	Fields       []Field      // Ordered attribute schema (geometry excluded)
	Features     []Feature
}

// FeatureCount returns the number of features.
func (l *VectorLayer) FeatureCount() int {
	return len(l.Features)
}

// Field returns the schema entry for name.
func (l *VectorLayer) Field(name string) (*Field, bool) {
	for i := range l.Fields {
		if l.Fields[i].Name == name {
			return &l.Fields[i], true
		}
	}
	return nil, false
}

// HasField reports whether name is an attribute column.
func (l *VectorLayer) HasField(name string) bool {
	_, ok := l.Field(name)
	return ok
}

// HasColumn reports whether name is an attribute column or the geometry column.
func (l *VectorLayer) HasColumn(name string) bool {
	return name == GeometryColumn || l.HasField(name)
}

// Columns returns every column name, attributes first and geometry last.
func (l *VectorLayer) Columns() []string {
	cols := make([]string, 0, len(l.Fields)+1)
	for _, f := range l.Fields {
		cols = append(cols, f.Name)
	}
	return append(cols, GeometryColumn)
}

// DropField removes an attribute column and its values. It reports whether
// the column existed.
func (l *VectorLayer) DropField(name string) bool {
	for i := range l.Fields {
		if l.Fields[i].Name != name {
			continue
		}
		l.Fields = append(l.Fields[:i:i], l.Fields[i+1:]...)
		for j := range l.Features {
			delete(l.Features[j].Properties, name)
		}
		return true
	}
	return false
}

// SetColumn writes values as column name, replacing any existing column of
// that name. The column is appended at the end of the schema. values[i]
// belongs to Features[i]; nil marks a missing value.
func (l *VectorLayer) SetColumn(name string, typ FieldType, values []interface{}) error {
	if IsGeometryColumn(name) || strings.TrimSpace(name) == "" {
		return &ValidationError{
			Field:      "output_field",
			Value:      name,
			Constraint: "non-empty, not the geometry column",
			Message:    "invalid column name",
		}
	}
	if len(values) != len(l.Features) {
		return &ValidationError{
			Field:      name,
			Value:      len(values),
			Constraint: fmt.Sprintf("== %d", len(l.Features)),
			Message:    "column length must equal feature count",
		}
	}

	l.DropField(name)
	l.Fields = append(l.Fields, Field{Name: name, Type: typ})
	for i := range l.Features {
		if l.Features[i].Properties == nil {
			l.Features[i].Properties = make(map[string]interface{})
		}
		l.Features[i].Properties[name] = values[i]
	}
	return nil
}

// Column returns the values of an attribute column in feature order.
func (l *VectorLayer) Column(name string) ([]interface{}, bool) {
	if !l.HasField(name) {
		return nil, false
	}
	out := make([]interface{}, len(l.Features))
	for i := range l.Features {
		out[i] = l.Features[i].Properties[name]
	}
	return out, true
}

// Geometries returns feature geometries in feature order.
func (l *VectorLayer) Geometries() []orb.Geometry {
	out := make([]orb.Geometry, len(l.Features))
	for i := range l.Features {
		out[i] = l.Features[i].Geometry
	}
	return out
}

// Bound returns the union of all feature bounds.
func (l *VectorLayer) Bound() (orb.Bound, bool) {
	var (
		b     orb.Bound
		found bool
	)
	for i := range l.Features {
		g := l.Features[i].Geometry
		if g == nil {
			continue
		}
		if !found {
			b, found = g.Bound(), true
			continue
		}
		b = b.Union(g.Bound())
	}
	return b, found
}

// Extent returns the layer bounding box; ok is false when no feature has a geometry.
func (l *VectorLayer) Extent() (Extent, bool) {
	b, ok := l.Bound()
	if !ok {
		return Extent{}, false
	}
	return ExtentFromBound(b), true
}
