package domain

import (
	"errors"
	"math"
	"testing"
)

func TestNormalizedDifference(t *testing.T) {
	tests := []struct {
		name       string
		pos        []float32
		neg        []float32
		want       []float32
		wantMasked int
	}{
		{
			name: "ordinary values",
			pos:  []float32{3, 0.5, 10},
			neg:  []float32{1, 0.5, 0},
			want: []float32{0.5, 0, 1},
		},
		{
			name:       "both zero masked",
			pos:        []float32{0, 1},
			neg:        []float32{0, 3},
			want:       []float32{0, -0.5},
			wantMasked: 1,
		},
		{
			name:       "opposite values masked",
			pos:        []float32{5},
			neg:        []float32{-5},
			want:       []float32{0},
			wantMasked: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := Band{Index: 4, Width: len(tt.pos), Height: 1, Data: tt.pos}
			neg := Band{Index: 3, Width: len(tt.neg), Height: 1, Data: tt.neg}

			got, err := NormalizedDifference(pos, neg)
			if err != nil {
				t.Fatalf("NormalizedDifference() error = %v", err)
			}
			if got.Masked != tt.wantMasked {
				t.Errorf("Masked = %d, want %d", got.Masked, tt.wantMasked)
			}
			for i := range tt.want {
				if got.Data[i] != tt.want[i] {
					t.Errorf("Data[%d] = %v, want %v", i, got.Data[i], tt.want[i])
				}
			}
		})
	}
}

func TestNormalizedDifferenceRange(t *testing.T) {
	pos := Band{Width: 3, Height: 2, Data: []float32{1, 2, 3, 4, 5, 6000}}
	neg := Band{Width: 3, Height: 2, Data: []float32{6, 5, 4, 3, 2, 1}}

	got, err := NormalizedDifference(pos, neg)
	if err != nil {
		t.Fatalf("NormalizedDifference() error = %v", err)
	}
	for i, v := range got.Data {
		if v < -1 || v > 1 {
			t.Errorf("Data[%d] = %v, outside [-1, 1]", i, v)
		}
	}
}

func TestNormalizedDifferenceNaNPropagates(t *testing.T) {
	nan := float32(math.NaN())
	pos := Band{Width: 1, Height: 1, Data: []float32{nan}}
	neg := Band{Width: 1, Height: 1, Data: []float32{1}}

	got, err := NormalizedDifference(pos, neg)
	if err != nil {
		t.Fatalf("NormalizedDifference() error = %v", err)
	}
	if !math.IsNaN(float64(got.Data[0])) {
		t.Errorf("Data[0] = %v, want NaN", got.Data[0])
	}
}

func TestNormalizedDifferenceShapeMismatch(t *testing.T) {
	pos := Band{Index: 4, Width: 2, Height: 1, Data: []float32{1, 2}}
	neg := Band{Index: 3, Width: 1, Height: 1, Data: []float32{1}}

	_, err := NormalizedDifference(pos, neg)
	if err == nil {
		t.Fatal("expected error for mismatched bands")
	}
	if !errors.Is(err, ErrComputation) || !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("error = %v, want computation error wrapping ErrShapeMismatch", err)
	}
}

func TestRasterMetaForIndex(t *testing.T) {
	src := RasterMeta{
		Driver:     "HFA",
		Width:      10,
		Height:     20,
		Count:      4,
		DataType:   UInt16,
		NoData:     0,
		HasNoData:  true,
		Transform:  GeoTransform{100, 30, 0, 200, 0, -30},
		Projection: "PROJCS[...]",
	}

	got := src.ForIndex()

	if got.Count != 1 || got.DataType != Float32 || got.Driver != DriverGTiff {
		t.Errorf("ForIndex() = %+v, want count 1, Float32, GTiff", got)
	}
	if got.Width != src.Width || got.Height != src.Height || got.Transform != src.Transform || got.Projection != src.Projection {
		t.Error("ForIndex() should keep grid and CRS")
	}
	if src.Count != 4 {
		t.Error("ForIndex() must not modify the source metadata")
	}
}

func TestRasterMetaExtent(t *testing.T) {
	m := RasterMeta{Width: 10, Height: 5, Transform: GeoTransform{100, 2, 0, 50, 0, -2}}

	got := m.Extent()
	want := Extent{MinX: 100, MinY: 40, MaxX: 120, MaxY: 50}
	if got != want {
		t.Errorf("Extent() = %+v, want %+v", got, want)
	}
}

func TestRasterMetaValidBand(t *testing.T) {
	m := RasterMeta{Count: 4}

	tests := []struct {
		band    int
		wantErr bool
	}{
		{0, true},
		{1, false},
		{4, false},
		{5, true},
	}

	for _, tt := range tests {
		err := m.ValidBand(tt.band)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidBand(%d) error = %v, wantErr %v", tt.band, err, tt.wantErr)
		}
	}
}
