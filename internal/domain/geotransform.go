// Package domain contains the core business entities and value objects.
package domain

import (
	"math"

	"github.com/paulmach/orb"
)

// GeoTransform is a GDAL-style affine transform from pixel to map space:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// IdentityTransform maps pixel (col, row) to map (col, row).
var IdentityTransform = GeoTransform{0, 1, 0, 0, 0, 1}

// Apply maps fractional pixel coordinates to map coordinates.
func (gt GeoTransform) Apply(col, row float64) (x, y float64) {
	x = gt[0] + col*gt[1] + row*gt[2]
	y = gt[3] + col*gt[4] + row*gt[5]
	return x, y
}

// CellCenter returns the map coordinate of the center of cell (col, row).
func (gt GeoTransform) CellCenter(col, row int) orb.Point {
	x, y := gt.Apply(float64(col)+0.5, float64(row)+0.5)
	return orb.Point{x, y}
}

// Invert returns the map-to-pixel transform. ok is false for a degenerate transform.
func (gt GeoTransform) Invert() (inv GeoTransform, ok bool) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 || math.IsNaN(det) {
		return GeoTransform{}, false
	}
	inv[0] = (gt[2]*gt[3] - gt[0]*gt[5]) / det
	inv[1] = gt[5] / det
	inv[2] = -gt[2] / det
	inv[3] = (gt[0]*gt[4] - gt[1]*gt[3]) / det
	inv[4] = -gt[4] / det
	inv[5] = gt[1] / det
	return inv, true
}

// IsZero reports whether the transform was never set.
func (gt GeoTransform) IsZero() bool {
	return gt == GeoTransform{}
}

// Window is a half-open pixel rectangle [ColMin, ColMax) x [RowMin, RowMax).
type Window struct {
	ColMin, RowMin int
	ColMax, RowMax int
}

// Empty reports whether the window covers no cells.
func (w Window) Empty() bool {
	return w.ColMax <= w.ColMin || w.RowMax <= w.RowMin
}

// WindowFor returns the pixel window covering bound, clipped to a width x height grid.
func (gt GeoTransform) WindowFor(bound orb.Bound, width, height int) (Window, bool) {
	inv, ok := gt.Invert()
	if !ok {
		return Window{}, false
	}

	corners := [4]orb.Point{
		bound.Min,
		bound.Max,
		{bound.Min[0], bound.Max[1]},
		{bound.Max[0], bound.Min[1]},
	}

	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, p := range corners {
		c, r := inv.Apply(p[0], p[1])
		minC, maxC = math.Min(minC, c), math.Max(maxC, c)
		minR, maxR = math.Min(minR, r), math.Max(maxR, r)
	}

	w := Window{
		ColMin: clamp(int(math.Floor(minC)), 0, width),
		RowMin: clamp(int(math.Floor(minR)), 0, height),
		ColMax: clamp(int(math.Ceil(maxC)), 0, width),
		RowMax: clamp(int(math.Ceil(maxR)), 0, height),
	}
	return w, !w.Empty()
}

// CellAt returns the cell containing p, if it lies on the grid.
func (gt GeoTransform) CellAt(p orb.Point, width, height int) (col, row int, ok bool) {
	inv, ok := gt.Invert()
	if !ok {
		return 0, 0, false
	}
	c, r := inv.Apply(p[0], p[1])
	col, row = int(math.Floor(c)), int(math.Floor(r))
	if col < 0 || row < 0 || col >= width || row >= height {
		return 0, 0, false
	}
	return col, row, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Extent is a map-space bounding box.
type Extent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// ExtentFromBound converts an orb bound.
func ExtentFromBound(b orb.Bound) Extent {
	return Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

// Intersects reports whether two extents overlap. Touching edges count.
func (e Extent) Intersects(o Extent) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Common SRID constants.
const (
	SRIDUndefinedCartesian  = -1
	SRIDUndefinedGeographic = 0
	SRIDWGS84               = 4326
)
