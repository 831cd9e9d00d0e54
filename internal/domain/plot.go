package domain

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Control-file parameters.
const (
	ParamXField = "x_field"
	ParamYField = "y_field"
	ParamOut    = "outfile"
	ParamXMin   = "x_min"
	ParamXMax   = "x_max"
	ParamYMin   = "y_min"
	ParamYMax   = "y_max"
	ParamTitle  = "title"
)

// ScatterSpec describes a scatter plot of two attribute columns. Nil bounds
// leave that side open.
type ScatterSpec struct {
	XField  string
	YField  string
	OutFile string
	Title   string
	XMin    *float64
	XMax    *float64
	YMin    *float64
	YMax    *float64
}

// Accepts reports whether (x, y) lies within the inclusive bounds.
func (s ScatterSpec) Accepts(x, y float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	if s.XMin != nil && x < *s.XMin {
		return false
	}
	if s.XMax != nil && x > *s.XMax {
		return false
	}
	if s.YMin != nil && y < *s.YMin {
		return false
	}
	if s.YMax != nil && y > *s.YMax {
		return false
	}
	return true
}

// ParseScatterSpec builds a spec from control-file parameters. Missing
// required parameters are reported together; bounds that are empty, "None"
// or not numbers are ignored.
func ParseScatterSpec(params map[string]string) (ScatterSpec, error) {
	var missing []string
	get := func(key string) string {
		v := strings.TrimSpace(params[key])
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	spec := ScatterSpec{
		XField:  get(ParamXField),
		YField:  get(ParamYField),
		OutFile: get(ParamOut),
		Title:   strings.TrimSpace(params[ParamTitle]),
		XMin:    optionalFloat(params[ParamXMin]),
		XMax:    optionalFloat(params[ParamXMax]),
		YMin:    optionalFloat(params[ParamYMin]),
		YMax:    optionalFloat(params[ParamYMax]),
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ScatterSpec{}, &ValidationError{
			Field:      strings.Join(missing, ", "),
			Value:      "",
			Constraint: "required",
			Message:    "missing required plot parameters",
		}
	}
	return spec, nil
}

func optionalFloat(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "none") {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return nil
	}
	return &v
}
