package geotiff

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"

	"github.com/jobrunner/verdant/internal/domain"
)

func TestDataType(t *testing.T) {
	tests := []struct {
		in   godal.DataType
		want domain.DataType
	}{
		{godal.Byte, domain.Byte},
		{godal.UInt16, domain.UInt16},
		{godal.Int32, domain.Int32},
		{godal.Float32, domain.Float32},
		{godal.Float64, domain.Float64},
	}

	for _, tt := range tests {
		if got := dataType(tt.in); got != tt.want {
			t.Errorf("dataType(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	path := filepath.Join(t.TempDir(), "out", "index.tif")

	index := &domain.IndexRaster{Width: 3, Height: 2, Data: []float32{0, 0.5, -0.5, 1, -1, 0.25}}
	meta := domain.RasterMeta{
		Width:     3,
		Height:    2,
		Transform: domain.GeoTransform{100, 10, 0, 200, 0, -10},
		NoData:    -9999,
		HasNoData: true,
	}.ForIndex()

	if err := repo.WriteIndex(ctx, path, index, meta); err != nil {
		t.Fatalf("WriteIndex() error = %v", err)
	}

	got, err := repo.Describe(ctx, path)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if got.Driver != domain.DriverGTiff || got.Count != 1 || got.DataType != domain.Float32 {
		t.Errorf("meta = %+v, want single-band Float32 GTiff", got)
	}
	if got.Width != 3 || got.Height != 2 {
		t.Errorf("size = %dx%d, want 3x2", got.Width, got.Height)
	}
	if got.Transform != meta.Transform {
		t.Errorf("Transform = %v, want %v", got.Transform, meta.Transform)
	}
	if !got.HasNoData || got.NoData != -9999 {
		t.Errorf("NoData = %v (%v), want -9999", got.NoData, got.HasNoData)
	}

	bands, err := repo.ReadBands(ctx, path, 1)
	if err != nil {
		t.Fatalf("ReadBands() error = %v", err)
	}
	for i, v := range bands[0].Data {
		if v != index.Data[i] {
			t.Errorf("cell %d = %v, want %v", i, v, index.Data[i])
		}
	}

	if _, err := repo.ReadBands(ctx, path, 4); !errors.Is(err, domain.ErrBandOutOfRange) {
		t.Errorf("ReadBands(4) error = %v, want ErrBandOutOfRange", err)
	}
}

func TestRepositoryOpenMissing(t *testing.T) {
	repo := NewRepository()

	_, err := repo.Describe(context.Background(), filepath.Join(t.TempDir(), "missing.tif"))
	if !errors.Is(err, domain.ErrIO) {
		t.Errorf("Describe() error = %v, want ErrIO", err)
	}
}
