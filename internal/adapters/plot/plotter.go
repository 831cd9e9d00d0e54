// Package plot renders choropleth maps and scatter plots with gonum/plot.
package plot

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/jobrunner/verdant/internal/domain"
)

const (
	controlParam = "Param"
	controlValue = "Value"
)

var missingColor = color.Gray{Y: 200}

// Plotter implements the Plotter port.
type Plotter struct {
	width  vg.Length
	height vg.Length
}

// New creates a plotter producing images of the given size in inches.
// The output format follows the file extension (png, svg, pdf, jpg).
func New(widthIn, heightIn float64) *Plotter {
	if widthIn <= 0 {
		widthIn = 8
	}
	if heightIn <= 0 {
		heightIn = 6
	}
	return &Plotter{width: vg.Length(widthIn) * vg.Inch, height: vg.Length(heightIn) * vg.Inch}
}

// Choropleth shades polygon features by field on a diverging blue-red scale.
// Features with a missing value are drawn grey.
func (p *Plotter) Choropleth(ctx context.Context, layer *domain.VectorLayer, field, path, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	col, ok := layer.Column(field)
	if !ok {
		return &domain.SchemaError{Fields: []string{field}, Message: "choropleth field not found"}
	}

	values := make([]float64, 0, len(col))
	for _, v := range col {
		if f, ok := domain.ToFloat(v); ok && !math.IsNaN(f) {
			values = append(values, f)
		}
	}

	cmap := moreland.SmoothBlueRed()
	if len(values) > 0 {
		lo, hi := floats.Min(values), floats.Max(values)
		if lo == hi {
			lo, hi = lo-0.5, hi+0.5
		}
		cmap.SetMin(lo)
		cmap.SetMax(hi)
	}

	plt := plot.New()
	plt.Title.Text = title
	if plt.Title.Text == "" {
		plt.Title.Text = field
	}
	plt.HideAxes()

	for i := range layer.Features {
		fill := color.Color(missingColor)
		if v, ok := domain.ToFloat(col[i]); ok && !math.IsNaN(v) && len(values) > 0 {
			c, err := cmap.At(v)
			if err == nil {
				fill = c
			}
		}

		for _, poly := range polygonsOf(layer.Features[i].Geometry) {
			shape, err := plotter.NewPolygon(rings(poly)...)
			if err != nil {
				return &domain.ComputationError{Op: "choropleth", Err: fmt.Errorf("feature %d: %w", layer.Features[i].ID, err)}
			}
			shape.Color = fill
			shape.LineStyle.Width = vg.Points(0.25)
			shape.LineStyle.Color = color.Gray{Y: 80}
			plt.Add(shape)
		}
	}

	return save(plt, p.width, p.height, path)
}

// Scatter plots spec.YField against spec.XField for rows inside the bounds.
func (p *Plotter) Scatter(ctx context.Context, table *domain.Table, spec domain.ScatterSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	xs, xok := table.Column(spec.XField)
	ys, yok := table.Column(spec.YField)
	var missing []string
	if !xok {
		missing = append(missing, spec.XField)
	}
	if !yok {
		missing = append(missing, spec.YField)
	}
	if len(missing) > 0 {
		return &domain.SchemaError{Fields: missing, Message: "scatter fields not found"}
	}

	pts := make(plotter.XYs, 0, len(xs))
	for i := range xs {
		x, xok := domain.ToFloat(xs[i])
		y, yok := domain.ToFloat(ys[i])
		if xok && yok && spec.Accepts(x, y) {
			pts = append(pts, plotter.XY{X: x, Y: y})
		}
	}

	plt := plot.New()
	plt.Title.Text = spec.Title
	if plt.Title.Text == "" {
		plt.Title.Text = fmt.Sprintf("%s vs %s", spec.YField, spec.XField)
	}
	plt.X.Label.Text = spec.XField
	plt.Y.Label.Text = spec.YField
	plt.Add(plotter.NewGrid())

	if len(pts) > 0 {
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return &domain.ComputationError{Op: "scatter", Err: err}
		}
		s.GlyphStyle.Radius = vg.Points(2)
		plt.Add(s)
	}

	applyBounds(&plt.X, spec.XMin, spec.XMax)
	applyBounds(&plt.Y, spec.YMin, spec.YMax)

	return save(plt, p.width, p.height, spec.OutFile)
}

// ReadControlFile loads a two-column CSV with a Param,Value header.
// Keys are trimmed; later rows win.
func (p *Plotter) ReadControlFile(ctx context.Context, path string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path) //#nosec G304 -- control file path supplied by the operator
	if err != nil {
		return nil, &domain.IOError{Op: "open", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	params, err := parseControl(f)
	if err != nil {
		return nil, &domain.IOError{Op: "read", Path: path, Err: err}
	}
	return params, nil
}

func parseControl(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	paramIdx, valueIdx := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case controlParam:
			paramIdx = i
		case controlValue:
			valueIdx = i
		}
	}
	if paramIdx < 0 || valueIdx < 0 {
		return nil, errors.New("control file needs Param and Value columns")
	}

	params := make(map[string]string)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if paramIdx >= len(rec) {
			continue
		}
		key := strings.TrimSpace(rec[paramIdx])
		if key == "" {
			continue
		}
		value := ""
		if valueIdx < len(rec) {
			value = strings.TrimSpace(rec[valueIdx])
		}
		params[key] = value
	}
	return params, nil
}

func applyBounds(axis *plot.Axis, lo, hi *float64) {
	if lo != nil {
		axis.Min = *lo
	}
	if hi != nil {
		axis.Max = *hi
	}
}

func save(plt *plot.Plot, w, h vg.Length, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return &domain.IOError{Op: "write", Path: path, Err: err}
		}
	}
	if err := plt.Save(w, h, path); err != nil {
		return &domain.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func polygonsOf(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return v
	case orb.Bound:
		return []orb.Polygon{v.ToPolygon()}
	case orb.Collection:
		var out []orb.Polygon
		for _, c := range v {
			out = append(out, polygonsOf(c)...)
		}
		return out
	}
	return nil
}

func rings(p orb.Polygon) []plotter.XYer {
	out := make([]plotter.XYer, 0, len(p))
	for _, r := range p {
		xy := make(plotter.XYs, len(r))
		for i, pt := range r {
			xy[i] = plotter.XY{X: pt[0], Y: pt[1]}
		}
		out = append(out, xy)
	}
	return out
}
