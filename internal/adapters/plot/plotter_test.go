package plot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/verdant/internal/domain"
)

func TestParseControl(t *testing.T) {
	input := "Param,Value\n x_field ,YEAR_BUILT\ny_field,mean_ndvi\noutfile,out/scatter.png\nx_min,1901\ny_max,None\n"

	params, err := parseControl(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseControl() error = %v", err)
	}

	want := map[string]string{
		"x_field": "YEAR_BUILT",
		"y_field": "mean_ndvi",
		"outfile": "out/scatter.png",
		"x_min":   "1901",
		"y_max":   "None",
	}
	for k, v := range want {
		if params[k] != v {
			t.Errorf("params[%q] = %q, want %q", k, params[k], v)
		}
	}
}

func TestParseControlBadHeader(t *testing.T) {
	if _, err := parseControl(strings.NewReader("Key,Val\nx_field,a\n")); err == nil {
		t.Error("parseControl() accepted a file without Param/Value columns")
	}
}

func TestReadControlFileMissing(t *testing.T) {
	_, err := New(0, 0).ReadControlFile(context.Background(), filepath.Join(t.TempDir(), "none.csv"))
	if !errors.Is(err, domain.ErrIO) {
		t.Errorf("ReadControlFile() error = %v, want ErrIO", err)
	}
}

func TestScatterWritesFile(t *testing.T) {
	lo := 0.0
	out := filepath.Join(t.TempDir(), "plots", "scatter.png")
	table := &domain.Table{
		Columns: []string{"YEAR_BUILT", "mean_ndvi"},
		Rows: [][]interface{}{
			{int64(1950), 0.2},
			{int64(1990), -0.1},
			{int64(2001), nil},
		},
	}

	err := New(4, 3).Scatter(context.Background(), table, domain.ScatterSpec{
		XField: "YEAR_BUILT", YField: "mean_ndvi", OutFile: out, YMin: &lo,
	})
	if err != nil {
		t.Fatalf("Scatter() error = %v", err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Errorf("scatter file not written: %v", err)
	}
}

func TestScatterUnknownField(t *testing.T) {
	table := &domain.Table{Columns: []string{"a"}}

	err := New(4, 3).Scatter(context.Background(), table, domain.ScatterSpec{
		XField: "a", YField: "b", OutFile: filepath.Join(t.TempDir(), "x.png"),
	})
	var se *domain.SchemaError
	if !errors.As(err, &se) || len(se.Fields) != 1 || se.Fields[0] != "b" {
		t.Errorf("Scatter() error = %v, want SchemaError for b", err)
	}
}

func TestChoroplethWritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "map.svg")
	layer := &domain.VectorLayer{
		Fields: []domain.Field{{Name: "mean_ndvi", Type: domain.FieldReal}},
		Features: []domain.Feature{
			{ID: 1, Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, Properties: map[string]interface{}{"mean_ndvi": 0.3}},
			{ID: 2, Geometry: orb.MultiPolygon{{{{2, 2}, {3, 2}, {3, 3}, {2, 2}}}}, Properties: map[string]interface{}{"mean_ndvi": nil}},
		},
	}

	if err := New(4, 4).Choropleth(context.Background(), layer, "mean_ndvi", out, ""); err != nil {
		t.Fatalf("Choropleth() error = %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("choropleth file not written: %v", err)
	}

	err := New(4, 4).Choropleth(context.Background(), layer, "nope", out, "")
	if !errors.Is(err, domain.ErrSchema) {
		t.Errorf("Choropleth(nope) error = %v, want ErrSchema", err)
	}
}
