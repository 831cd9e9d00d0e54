package geopackage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/verdant/internal/domain"
)

func TestDeriveLayerName(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"simple filename", "/data/parcels.gpkg", "parcels"},
		{"relative path", "out/parcels_ndvi.gpkg", "parcels_ndvi"},
		{"multiple dots", "/data/test.backup.gpkg", "test.backup"},
		{"no extension", "/data/testfile", "testfile"},
		{"just extension", ".gpkg", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveLayerName(tt.path); got != tt.want {
				t.Errorf("DeriveLayerName(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestFieldType(t *testing.T) {
	tests := []struct {
		decl   string
		want   domain.FieldType
		wantOK bool
	}{
		{"INTEGER", domain.FieldInteger, true},
		{"mediumint", domain.FieldInteger, true},
		{"DOUBLE", domain.FieldReal, true},
		{"TEXT(80)", domain.FieldText, true},
		{"BOOLEAN", domain.FieldBoolean, true},
		{"DATETIME", domain.FieldDate, true},
		{"BLOB", "", false},
	}

	for _, tt := range tests {
		got, ok := fieldType(tt.decl)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("fieldType(%q) = %q, %v, want %q, %v", tt.decl, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestGeometryBlobRoundTrip(t *testing.T) {
	poly := orb.Polygon{{{0, 0}, {4, 0}, {4, 3}, {0, 3}, {0, 0}}}

	blob, err := encodeGeometry(poly, 32633)
	if err != nil {
		t.Fatalf("encodeGeometry() error = %v", err)
	}
	if string(blob[:2]) != "GP" || blob[3] != flagLittleEndian|flagEnvelopeXY {
		t.Errorf("header = % x", blob[:4])
	}

	g, srsID, err := decodeGeometry(blob)
	if err != nil {
		t.Fatalf("decodeGeometry() error = %v", err)
	}
	if srsID != 32633 {
		t.Errorf("srs_id = %d, want 32633", srsID)
	}
	if !orb.Equal(g, poly) {
		t.Errorf("geometry = %v, want %v", g, poly)
	}

	if _, _, err := decodeGeometry([]byte("XX123456")); err == nil {
		t.Error("decodeGeometry() accepted a bad magic")
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "parcels.gpkg")

	layer := &domain.VectorLayer{
		Name:         "parcels",
		SRID:         32633,
		Projection:   `PROJCS["WGS 84 / UTM zone 33N"]`,
		GeometryType: domain.GeomPolygon,
		Fields: []domain.Field{
			{Name: "PARCEL_ID", Type: domain.FieldText},
			{Name: "YEAR_BUILT", Type: domain.FieldInteger},
			{Name: "mean_ndvi", Type: domain.FieldReal},
		},
		Features: []domain.Feature{
			{
				ID:         1,
				Geometry:   orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
				Properties: map[string]interface{}{"PARCEL_ID": "a", "YEAR_BUILT": int64(1950), "mean_ndvi": 0.25},
			},
			{
				ID:         2,
				Geometry:   orb.Polygon{{{2, 2}, {5, 2}, {5, 3}, {2, 3}, {2, 2}}},
				Properties: map[string]interface{}{"PARCEL_ID": "b", "YEAR_BUILT": nil, "mean_ndvi": nil},
			},
		},
	}

	repo := NewRepository(Options{SpatialIndex: true})
	if err := repo.Write(ctx, path, layer); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// Overwrite replaces the file.
	if err := repo.Write(ctx, path, layer); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}

	got, err := repo.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.Name != "parcels" || got.SRID != 32633 || got.Projection != layer.Projection {
		t.Errorf("layer = %s srid=%d proj=%q", got.Name, got.SRID, got.Projection)
	}
	if got.GeometryType != domain.GeomPolygon {
		t.Errorf("GeometryType = %s, want POLYGON", got.GeometryType)
	}
	if len(got.Fields) != 3 || got.Fields[2].Name != "mean_ndvi" || got.Fields[2].Type != domain.FieldReal {
		t.Errorf("Fields = %+v", got.Fields)
	}
	if got.FeatureCount() != 2 {
		t.Fatalf("FeatureCount() = %d, want 2", got.FeatureCount())
	}

	f := got.Features[0]
	if f.ID != 1 || f.Properties["PARCEL_ID"] != "a" || f.Properties["YEAR_BUILT"] != int64(1950) {
		t.Errorf("feature 1 = %+v", f.Properties)
	}
	if v, ok := domain.ToFloat(f.Properties["mean_ndvi"]); !ok || v != 0.25 {
		t.Errorf("mean_ndvi = %v, %v", v, ok)
	}
	if got.Features[1].Properties["mean_ndvi"] != nil {
		t.Errorf("missing value = %v, want nil", got.Features[1].Properties["mean_ndvi"])
	}
	if !orb.Equal(got.Features[1].Geometry, layer.Features[1].Geometry) {
		t.Errorf("geometry = %v", got.Features[1].Geometry)
	}
}

func TestSqliteDSN(t *testing.T) {
	tests := []struct {
		path, mode, want string
	}{
		{"/data/out/parcels.gpkg", "ro", "file:/data/out/parcels.gpkg?mode=ro"},
		{"out/run #2/parcels?.gpkg", "rwc", "file:out/run%20%232/parcels%3F.gpkg?mode=rwc"},
	}

	for _, tt := range tests {
		if got := sqliteDSN(tt.path, tt.mode); got != tt.want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRepositoryPathWithURIMetacharacters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run #2?.gpkg")

	layer := &domain.VectorLayer{
		Name:   "parcels",
		SRID:   domain.SRIDUndefinedCartesian,
		Fields: []domain.Field{{Name: "PARCEL_ID", Type: domain.FieldText}},
		Features: []domain.Feature{
			{ID: 1, Geometry: orb.Point{1, 1}, Properties: map[string]interface{}{"PARCEL_ID": "a"}},
		},
	}

	repo := NewRepository(Options{LayerName: "parcels"})
	if err := repo.Write(ctx, path, layer); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("GeoPackage not written at %q: %v", path, err)
	}

	got, err := repo.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.FeatureCount() != 1 || got.Features[0].Properties["PARCEL_ID"] != "a" {
		t.Errorf("read back %d features: %+v", got.FeatureCount(), got.Features)
	}
}

func TestRepositoryReadMissingLayer(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "one.gpkg")

	layer := &domain.VectorLayer{Name: "one", Fields: []domain.Field{{Name: "x", Type: domain.FieldInteger}}}
	if err := NewRepository(Options{}).Write(ctx, path, layer); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_, err := NewRepository(Options{LayerName: "two"}).Read(ctx, path)
	if !errors.Is(err, domain.ErrNoLayer) || !errors.Is(err, domain.ErrIO) {
		t.Errorf("Read() error = %v, want ErrNoLayer as IOError", err)
	}
}

func TestRepositoryWriteReservedNames(t *testing.T) {
	layer := &domain.VectorLayer{Fields: []domain.Field{{Name: "FID", Type: domain.FieldInteger}}}

	err := NewRepository(Options{}).Write(context.Background(), filepath.Join(t.TempDir(), "x.gpkg"), layer)
	if !errors.Is(err, domain.ErrSchema) {
		t.Errorf("Write() error = %v, want ErrSchema", err)
	}
}
