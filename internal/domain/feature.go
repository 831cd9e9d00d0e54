package domain

import (
	"strings"

	"github.com/paulmach/orb"
)

// Feature is a single vector record: geometry plus attributes.
type Feature struct {
	ID         int64                  // Feature ID (fid)
	Geometry   orb.Geometry           // nil for features without geometry
	Properties map[string]interface{} // Attribute data; nil values are missing
}

// ToFloat converts a numeric attribute value. ok is false for missing
// and non-numeric values.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// GeometryType represents the type of a geometry.
type GeometryType string

// Geometry type constants.
const (
	GeomGeometry           GeometryType = "GEOMETRY"
	GeomPoint              GeometryType = "POINT"
	GeomLineString         GeometryType = "LINESTRING"
	GeomPolygon            GeometryType = "POLYGON"
	GeomMultiPoint         GeometryType = "MULTIPOINT"
	GeomMultiLineString    GeometryType = "MULTILINESTRING"
	GeomMultiPolygon       GeometryType = "MULTIPOLYGON"
	GeomGeometryCollection GeometryType = "GEOMETRYCOLLECTION"
)

// GeometryTypeOf returns the upper-case OGC name of g's type.
func GeometryTypeOf(g orb.Geometry) GeometryType {
	if g == nil {
		return GeomGeometry
	}
	return GeometryType(strings.ToUpper(g.GeoJSONType()))
}
