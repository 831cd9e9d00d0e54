package shapefile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/jobrunner/verdant/internal/domain"
)

func TestParseAttribute(t *testing.T) {
	intField := shp.NumberField("YEAR", 10)
	realField := shp.FloatField("AREA", 12, 3)
	logical := shp.StringField("OK", 1)
	logical.Fieldtype = 'L'

	tests := []struct {
		name  string
		raw   string
		field shp.Field
		want  interface{}
	}{
		{"integer", "  1950", intField, int64(1950)},
		{"blank integer", "      ", intField, nil},
		{"overflow marker", "****", intField, nil},
		{"real", " 12.500", realField, 12.5},
		{"text", "Parcel A  ", shp.StringField("NAME", 10), "Parcel A"},
		{"true", "T", logical, true},
		{"false", "n", logical, false},
		{"unknown logical", "?", logical, nil},
		{"date", "20240131", shp.DateField("SURVEYED"), "2024-01-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseAttribute(tt.raw, tt.field); got != tt.want {
				t.Errorf("parseAttribute(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPolygonsGroupsHoles(t *testing.T) {
	// Shell clockwise, hole counter-clockwise, second shell clockwise.
	pts := []shp.Point{
		{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0},
		{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2},
		{X: 20, Y: 0}, {X: 20, Y: 5}, {X: 25, Y: 5}, {X: 25, Y: 0}, {X: 20, Y: 0},
	}

	g := polygons([]int32{0, 5, 10}, pts)
	mp, ok := g.(orb.MultiPolygon)
	if !ok {
		t.Fatalf("geometry = %T, want MultiPolygon", g)
	}
	if len(mp) != 2 || len(mp[0]) != 2 || len(mp[1]) != 1 {
		t.Errorf("rings per polygon = %d/%d, want 2/1", len(mp[0]), len(mp[1]))
	}

	single := polygons([]int32{0}, pts[:5])
	if _, ok := single.(orb.Polygon); !ok {
		t.Errorf("single ring geometry = %T, want Polygon", single)
	}
}

func TestLayerGeometryType(t *testing.T) {
	poly := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}

	tests := []struct {
		name  string
		geoms []orb.Geometry
		want  domain.GeometryType
	}{
		{"polygons", []orb.Geometry{poly, poly}, domain.GeomPolygon},
		{"promoted", []orb.Geometry{poly, orb.MultiPolygon{poly}}, domain.GeomMultiPolygon},
		{"mixed", []orb.Geometry{poly, orb.Point{1, 1}}, domain.GeomGeometry},
		{"nulls only", []orb.Geometry{nil}, domain.GeomGeometry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			features := make([]domain.Feature, len(tt.geoms))
			for i, g := range tt.geoms {
				features[i].Geometry = g
			}
			if got := layerGeometryType(features); got != tt.want {
				t.Errorf("layerGeometryType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "parcels.shp")

	shell := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	hole := orb.Ring{{2, 2}, {2, 4}, {4, 4}, {4, 2}, {2, 2}}

	layer := &domain.VectorLayer{
		Name:       "parcels",
		Projection: `PROJCS["test"]`,
		Fields: []domain.Field{
			{Name: "PARCEL_ID", Type: domain.FieldText},
			{Name: "YEAR_BUILT", Type: domain.FieldInteger},
			{Name: "mean_ndvi", Type: domain.FieldReal},
		},
		Features: []domain.Feature{
			{ID: 1, Geometry: orb.Polygon{shell, hole}, Properties: map[string]interface{}{"PARCEL_ID": "a", "YEAR_BUILT": int64(1950), "mean_ndvi": 0.5}},
			{ID: 2, Geometry: orb.Polygon{{{20, 0}, {25, 0}, {25, 5}, {20, 0}}}, Properties: map[string]interface{}{"PARCEL_ID": "b", "YEAR_BUILT": nil, "mean_ndvi": nil}},
		},
	}

	repo := NewRepository()
	if err := repo.Write(ctx, path, layer); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "parcels.dbf")); err != nil {
		t.Errorf("attribute table not written next to the .shp: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "parcelsdbf")); err == nil {
		t.Error("stray parcelsdbf left behind")
	}

	got, err := repo.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.Name != "parcels" || got.Projection != `PROJCS["test"]` {
		t.Errorf("layer = %s proj=%q", got.Name, got.Projection)
	}
	if got.FeatureCount() != 2 || len(got.Fields) != 3 {
		t.Fatalf("got %d features, %d fields", got.FeatureCount(), len(got.Fields))
	}
	if got.Fields[1].Type != domain.FieldInteger || got.Fields[2].Type != domain.FieldReal {
		t.Errorf("Fields = %+v", got.Fields)
	}

	p, ok := got.Features[0].Geometry.(orb.Polygon)
	if !ok || len(p) != 2 {
		t.Fatalf("geometry = %#v, want polygon with one hole", got.Features[0].Geometry)
	}
	if v, _ := domain.ToFloat(got.Features[0].Properties["mean_ndvi"]); v != 0.5 {
		t.Errorf("mean_ndvi = %v, want 0.5", v)
	}
	if got.Features[1].Properties["YEAR_BUILT"] != nil {
		t.Errorf("blank YEAR_BUILT = %v, want nil", got.Features[1].Properties["YEAR_BUILT"])
	}
}

func TestRepositoryWriteTruncationClash(t *testing.T) {
	layer := &domain.VectorLayer{Fields: []domain.Field{
		{Name: "population_2020", Type: domain.FieldInteger},
		{Name: "population_2021", Type: domain.FieldInteger},
	}}

	err := NewRepository().Write(context.Background(), filepath.Join(t.TempDir(), "x.shp"), layer)
	if !errors.Is(err, domain.ErrSchema) {
		t.Errorf("Write() error = %v, want ErrSchema", err)
	}
}

func TestRepositoryReadMissing(t *testing.T) {
	_, err := NewRepository().Read(context.Background(), filepath.Join(t.TempDir(), "nope.shp"))
	if !errors.Is(err, domain.ErrIO) {
		t.Errorf("Read() error = %v, want ErrIO", err)
	}
}
