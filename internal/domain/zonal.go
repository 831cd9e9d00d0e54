package domain

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ZonalStatResult holds one statistic per feature, index-aligned with the layer.
type ZonalStatResult struct {
	Statistic Statistic
	Values    []StatValue
}

// Column converts the result to attribute values; missing entries become nil.
func (r ZonalStatResult) Column() []interface{} {
	typ := r.Statistic.ResultType()
	out := make([]interface{}, len(r.Values))
	for i, v := range r.Values {
		out[i] = v.Interface(typ)
	}
	return out
}

// Covered counts features that received a valid value.
func (r ZonalStatResult) Covered() int {
	n := 0
	for _, v := range r.Values {
		if v.Valid {
			n++
		}
	}
	return n
}

// ZonalStats aggregates band over each geometry. A cell belongs to a polygon
// when its center lies inside it or on its boundary; a point takes the cell
// that contains it. Cells equal to nodata and NaN cells are excluded.
func ZonalStats(band Band, gt GeoTransform, geoms []orb.Geometry, s Statistic, nodata float64) (ZonalStatResult, error) {
	if len(band.Data) != band.Width*band.Height {
		return ZonalStatResult{}, &ComputationError{
			Op:  "zonal " + s.Name,
			Err: fmt.Errorf("%w: %d samples for %dx%d grid", ErrShapeMismatch, len(band.Data), band.Width, band.Height),
		}
	}
	if gt.IsZero() {
		gt = IdentityTransform
	}
	if _, ok := gt.Invert(); !ok {
		return ZonalStatResult{}, &ComputationError{
			Op:  "zonal " + s.Name,
			Err: fmt.Errorf("degenerate geotransform %v", [6]float64(gt)),
		}
	}

	z := zoner{band: band, gt: gt, nodata: nodata}
	res := ZonalStatResult{Statistic: s, Values: make([]StatValue, len(geoms))}
	for i, g := range geoms {
		res.Values[i] = s.Compute(z.sample(g))
	}
	return res, nil
}

type zoner struct {
	band   Band
	gt     GeoTransform
	nodata float64
}

// sample gathers the cells covered by g.
func (z zoner) sample(g orb.Geometry) CellSample {
	cells := make(map[int]struct{})
	z.collect(g, cells)

	idx := make([]int, 0, len(cells))
	for i := range cells {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	var c CellSample
	for _, i := range idx {
		v := float64(z.band.Data[i])
		switch {
		case math.IsNaN(v):
			c.NaN++
		case v == z.nodata:
			c.NoData++
		default:
			c.Values = append(c.Values, v)
		}
	}
	return c
}

func (z zoner) collect(g orb.Geometry, cells map[int]struct{}) {
	switch geom := g.(type) {
	case orb.Polygon:
		z.collectPolygon(geom, cells)
	case orb.MultiPolygon:
		for _, p := range geom {
			z.collectPolygon(p, cells)
		}
	case orb.Ring:
		z.collectPolygon(orb.Polygon{geom}, cells)
	case orb.Bound:
		z.collectPolygon(geom.ToPolygon(), cells)
	case orb.Point:
		z.collectPoint(geom, cells)
	case orb.MultiPoint:
		for _, p := range geom {
			z.collectPoint(p, cells)
		}
	case orb.Collection:
		for _, sub := range geom {
			z.collect(sub, cells)
		}
	}
}

func (z zoner) collectPolygon(p orb.Polygon, cells map[int]struct{}) {
	if len(p) == 0 || len(p[0]) < 3 {
		return
	}
	w, ok := z.gt.WindowFor(p.Bound(), z.band.Width, z.band.Height)
	if !ok {
		return
	}
	for row := w.RowMin; row < w.RowMax; row++ {
		for col := w.ColMin; col < w.ColMax; col++ {
			if planar.PolygonContains(p, z.gt.CellCenter(col, row)) {
				cells[row*z.band.Width+col] = struct{}{}
			}
		}
	}
}

func (z zoner) collectPoint(p orb.Point, cells map[int]struct{}) {
	if col, row, ok := z.gt.CellAt(p, z.band.Width, z.band.Height); ok {
		cells[row*z.band.Width+col] = struct{}{}
	}
}
