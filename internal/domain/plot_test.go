package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseScatterSpec(t *testing.T) {
	params := map[string]string{
		"x_field": "YEAR_BUILT",
		"y_field": "mean_ndvi",
		"outfile": "scatter.png",
		"x_min":   "1901",
		"x_max":   "2030",
		"y_min":   "-1",
		"y_max":   "None",
	}

	spec, err := ParseScatterSpec(params)
	if err != nil {
		t.Fatalf("ParseScatterSpec() error = %v", err)
	}
	if spec.XField != "YEAR_BUILT" || spec.YField != "mean_ndvi" || spec.OutFile != "scatter.png" {
		t.Errorf("spec = %+v", spec)
	}
	if spec.XMin == nil || *spec.XMin != 1901 || spec.XMax == nil || *spec.XMax != 2030 {
		t.Error("x bounds not parsed")
	}
	if spec.YMin == nil || *spec.YMin != -1 {
		t.Error("y_min not parsed")
	}
	if spec.YMax != nil {
		t.Error("y_max = None should be open")
	}
}

func TestParseScatterSpecMissing(t *testing.T) {
	_, err := ParseScatterSpec(map[string]string{"y_field": "mean_ndvi", "x_min": "abc"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("error is not a ValidationError")
	}
	if ve.Field != "outfile, x_field" {
		t.Errorf("Field = %q, want both missing parameters", ve.Field)
	}
	if strings.Contains(ve.Field, "x_min") {
		t.Error("optional parameter reported as missing")
	}
}

func TestScatterSpecAccepts(t *testing.T) {
	lo, hi := 0.0, 1.0
	spec := ScatterSpec{YMin: &lo, YMax: &hi}

	tests := []struct {
		x, y float64
		want bool
	}{
		{1, 0, true},
		{1, 1, true},
		{1, 1.01, false},
		{1, -0.1, false},
		{-1e9, 0.5, true},
	}

	for _, tt := range tests {
		if got := spec.Accepts(tt.x, tt.y); got != tt.want {
			t.Errorf("Accepts(%v, %v) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}
