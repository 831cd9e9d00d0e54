package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

// testGrid is a 4x4 grid with origin (0, 4) and unit cells; cell (c, r) holds r*4+c+1.
func testGrid() (Band, GeoTransform) {
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i + 1)
	}
	return Band{Index: 1, Width: 4, Height: 4, Data: data}, GeoTransform{0, 1, 0, 4, 0, -1}
}

func rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

func mustStat(t *testing.T, name string) Statistic {
	t.Helper()
	s, err := ParseStatistic(name)
	if err != nil {
		t.Fatalf("ParseStatistic(%q) error = %v", name, err)
	}
	return s
}

func TestZonalStats(t *testing.T) {
	band, gt := testGrid()

	withHole := rect(0, 0, 4, 4)
	withHole = append(withHole, orb.Ring{{1, 1}, {1, 3}, {3, 3}, {3, 1}, {1, 1}})

	tests := []struct {
		name      string
		geom      orb.Geometry
		stat      string
		wantValid bool
		want      float64
	}{
		{"top-left quadrant mean", rect(0, 2, 2, 4), "mean", true, 3.5},
		{"top-left quadrant count", rect(0, 2, 2, 4), "count", true, 4},
		{"whole grid sum", rect(0, 0, 4, 4), "sum", true, 136},
		{"polygon with hole", withHole, "count", true, 12},
		{"center on boundary counts", rect(0, 3.5, 1, 4), "count", true, 1},
		{"outside grid mean", rect(10, 10, 12, 12), "mean", false, 0},
		{"outside grid count", rect(10, 10, 12, 12), "count", true, 0},
		{"point", orb.Point{2.5, 0.5}, "max", true, 15},
		{"point off grid", orb.Point{-1, -1}, "max", false, 0},
		{"overlapping multipolygon counted once", orb.MultiPolygon{rect(0, 3, 1, 4), rect(0, 3, 1, 4)}, "count", true, 1},
		{"nil geometry", nil, "mean", false, 0},
		{"linestring unsupported", orb.LineString{{0, 0}, {4, 4}}, "count", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ZonalStats(band, gt, []orb.Geometry{tt.geom}, mustStat(t, tt.stat), ZonalNoData)
			if err != nil {
				t.Fatalf("ZonalStats() error = %v", err)
			}
			if len(res.Values) != 1 {
				t.Fatalf("len(Values) = %d, want 1", len(res.Values))
			}
			got := res.Values[0]
			if got.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v", got.Valid, tt.wantValid)
			}
			if got.Valid && math.Abs(got.Value-tt.want) > 1e-9 {
				t.Errorf("Value = %v, want %v", got.Value, tt.want)
			}
		})
	}
}

func TestZonalStatsExcludesNoDataAndNaN(t *testing.T) {
	band, gt := testGrid()
	band.Data[0] = ZonalNoData
	band.Data[1] = float32(math.NaN())

	geoms := []orb.Geometry{rect(0, 2, 2, 4)}

	tests := []struct {
		stat string
		want float64
	}{
		{"count", 2},
		{"mean", 5.5},
		{"nodata", 1},
		{"nan", 1},
	}

	for _, tt := range tests {
		t.Run(tt.stat, func(t *testing.T) {
			res, err := ZonalStats(band, gt, geoms, mustStat(t, tt.stat), ZonalNoData)
			if err != nil {
				t.Fatalf("ZonalStats() error = %v", err)
			}
			if got := res.Values[0].Value; got != tt.want {
				t.Errorf("%s = %v, want %v", tt.stat, got, tt.want)
			}
		})
	}
}

func TestZonalStatsAllNoDataIsMissing(t *testing.T) {
	band, gt := testGrid()
	for i := range band.Data {
		band.Data[i] = ZonalNoData
	}

	res, err := ZonalStats(band, gt, []orb.Geometry{rect(0, 0, 4, 4)}, mustStat(t, "mean"), ZonalNoData)
	if err != nil {
		t.Fatalf("ZonalStats() error = %v", err)
	}
	if res.Values[0].Valid {
		t.Errorf("mean over nodata-only zone = %v, want missing", res.Values[0].Value)
	}
	if col := res.Column(); col[0] != nil {
		t.Errorf("Column()[0] = %v, want nil", col[0])
	}
}

func TestZonalStatsAlignsWithFeatures(t *testing.T) {
	band, gt := testGrid()
	geoms := []orb.Geometry{rect(0, 2, 2, 4), rect(20, 20, 21, 21), rect(2, 0, 4, 2)}

	res, err := ZonalStats(band, gt, geoms, mustStat(t, "Mean"), ZonalNoData)
	if err != nil {
		t.Fatalf("ZonalStats() error = %v", err)
	}
	if len(res.Values) != len(geoms) {
		t.Fatalf("len(Values) = %d, want %d", len(res.Values), len(geoms))
	}
	if res.Covered() != 2 {
		t.Errorf("Covered() = %d, want 2", res.Covered())
	}
	// bottom-right quadrant: 11, 12, 15, 16
	if res.Values[2].Value != 13.5 {
		t.Errorf("Values[2] = %v, want 13.5", res.Values[2].Value)
	}
}

func TestZonalStatsErrors(t *testing.T) {
	band, gt := testGrid()

	t.Run("short band", func(t *testing.T) {
		short := band
		short.Data = short.Data[:3]
		_, err := ZonalStats(short, gt, nil, mustStat(t, "mean"), ZonalNoData)
		if !errors.Is(err, ErrComputation) {
			t.Errorf("error = %v, want ErrComputation", err)
		}
	})

	t.Run("degenerate transform", func(t *testing.T) {
		_, err := ZonalStats(band, GeoTransform{0, 0, 0, 0, 0, 0.5}, nil, mustStat(t, "mean"), ZonalNoData)
		if !errors.Is(err, ErrComputation) {
			t.Errorf("error = %v, want ErrComputation", err)
		}
	})
}
