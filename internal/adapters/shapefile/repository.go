// Package shapefile provides the ESRI Shapefile vector repository.
package shapefile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/jobrunner/verdant/internal/domain"
)

const (
	dbfNameLength = 10
	textLength    = 254
	dateLayout    = "2006-01-02"
	dbfDateLayout = "20060102"
)

// Repository implements the VectorRepository port for Shapefiles.
type Repository struct{}

// NewRepository creates a new Shapefile repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Read loads the .shp/.dbf pair at path and the .prj beside it, if any.
func (r *Repository) Read(ctx context.Context, path string) (layer *domain.VectorLayer, err error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &domain.IOError{Op: "open", Path: path, Err: err}
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, &domain.IOError{Op: "open", Path: path, Err: err}
	}
	defer func() { _ = reader.Close() }()

	// go-shp panics on truncated records.
	defer func() {
		if rec := recover(); rec != nil {
			layer, err = nil, &domain.IOError{Op: "read", Path: path, Err: fmt.Errorf("malformed shapefile: %v", rec)}
		}
	}()

	dbfFields := reader.Fields()
	layer = &domain.VectorLayer{
		Name:       layerName(path),
		Path:       path,
		SRID:       domain.SRIDUndefinedCartesian,
		Projection: readProjection(path),
		Fields:     make([]domain.Field, len(dbfFields)),
	}
	for i, f := range dbfFields {
		layer.Fields[i] = domain.Field{Name: f.String(), Type: fieldType(f)}
	}

	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, shape := reader.Shape()
		f := domain.Feature{
			ID:         int64(row) + 1,
			Geometry:   toGeometry(shape),
			Properties: make(map[string]interface{}, len(dbfFields)),
		}
		for i, field := range dbfFields {
			f.Properties[layer.Fields[i].Name] = parseAttribute(reader.ReadAttribute(row, i), field)
		}
		layer.Features = append(layer.Features, f)
	}

	layer.GeometryType = layerGeometryType(layer.Features)
	return layer, nil
}

// Write persists layer as a Shapefile, replacing any existing one.
// Attribute names are truncated to the ten characters DBF allows.
func (r *Repository) Write(ctx context.Context, path string, layer *domain.VectorLayer) error {
	if layer == nil {
		return &domain.ValidationError{Field: "layer", Message: "no layer to write"}
	}

	fields, err := dbfSchema(layer.Fields)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return &domain.IOError{Op: "write", Path: path, Err: err}
		}
	}

	shapeType := shapeTypeFor(layer)
	w, err := shp.Create(path, shapeType)
	if err != nil {
		return &domain.IOError{Op: "create", Path: path, Err: err}
	}

	err = writeRecords(ctx, w, path, shapeType, layer, fields)
	w.Close()
	if err != nil {
		return err
	}
	if err := placeDBF(path); err != nil {
		return &domain.IOError{Op: "write", Path: sibling(path, ".dbf"), Err: err}
	}

	if layer.Projection != "" {
		if err := os.WriteFile(sibling(path, ".prj"), []byte(layer.Projection), 0600); err != nil {
			return &domain.IOError{Op: "write", Path: sibling(path, ".prj"), Err: err}
		}
	}
	return nil
}

func writeRecords(ctx context.Context, w *shp.Writer, path string, shapeType shp.ShapeType, layer *domain.VectorLayer, fields []shp.Field) error {
	if err := w.SetFields(fields); err != nil {
		return &domain.IOError{Op: "write", Path: path, Err: err}
	}

	for i := range layer.Features {
		if err := ctx.Err(); err != nil {
			return err
		}

		f := &layer.Features[i]
		row := int(w.Write(toShape(f.Geometry, shapeType)))
		for j, field := range layer.Fields {
			if err := w.WriteAttribute(row, j, attributeValue(f.Properties[field.Name], field.Type)); err != nil {
				return &domain.IOError{Op: "write", Path: path, Err: fmt.Errorf("feature %d, field %s: %w", f.ID, field.Name, err)}
			}
		}
	}
	return nil
}

// placeDBF moves the attribute table next to the .shp. go-shp v0.1.1 names it
// "<base>dbf" without the dot, which readers never find.
func placeDBF(path string) error {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	stray := base + "dbf"
	if _, err := os.Stat(stray); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.Rename(stray, base+".dbf")
}

func layerName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func sibling(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// readProjection returns the WKT of the .prj file, or "" when absent.
func readProjection(path string) string {
	data, err := os.ReadFile(sibling(path, ".prj")) //#nosec G304 -- sibling of the opened shapefile
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// fieldType maps a DBF column to a field type.
func fieldType(f shp.Field) domain.FieldType {
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 && f.Size < 19 {
			return domain.FieldInteger
		}
		return domain.FieldReal
	case 'F':
		return domain.FieldReal
	case 'L':
		return domain.FieldBoolean
	case 'D':
		return domain.FieldDate
	default:
		return domain.FieldText
	}
}

// parseAttribute converts a raw DBF value. Blank and unparsable numbers are missing.
func parseAttribute(raw string, f shp.Field) interface{} {
	s := strings.TrimSpace(strings.Trim(raw, "\x00"))

	switch fieldType(f) {
	case domain.FieldInteger:
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
		return nil
	case domain.FieldReal:
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return nil
	case domain.FieldBoolean:
		switch strings.ToUpper(s) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	case domain.FieldDate:
		if d, err := time.Parse(dbfDateLayout, s); err == nil {
			return d.Format(dateLayout)
		}
		return nil
	default:
		return s
	}
}

// dbfSchema builds the DBF header, rejecting names that collide once truncated.
func dbfSchema(fields []domain.Field) ([]shp.Field, error) {
	out := make([]shp.Field, 0, len(fields))
	seen := make(map[string]string, len(fields))
	var clash []string

	for _, f := range fields {
		name := f.Name
		if len(name) > dbfNameLength {
			name = name[:dbfNameLength]
		}
		key := strings.ToUpper(name)
		if prev, ok := seen[key]; ok {
			clash = append(clash, prev, f.Name)
			continue
		}
		seen[key] = f.Name

		switch f.Type {
		case domain.FieldInteger:
			out = append(out, shp.NumberField(name, 18))
		case domain.FieldReal:
			out = append(out, shp.FloatField(name, 24, 15))
		case domain.FieldDate:
			out = append(out, shp.DateField(name))
		case domain.FieldBoolean:
			field := shp.StringField(name, 1)
			field.Fieldtype = 'L'
			out = append(out, field)
		default:
			out = append(out, shp.StringField(name, textLength))
		}
	}

	if len(clash) > 0 {
		return nil, &domain.SchemaError{Fields: clash, Message: "field names collide after truncation to ten characters"}
	}
	return out, nil
}

// attributeValue converts a domain value into one go-shp can encode.
func attributeValue(v interface{}, typ domain.FieldType) interface{} {
	switch val := v.(type) {
	case nil:
		return ""
	case bool:
		if val {
			return "T"
		}
		return "F"
	case int64:
		return int(val)
	case int32:
		return int(val)
	case float32:
		return float64(val)
	case string:
		if typ == domain.FieldDate {
			return strings.ReplaceAll(val, "-", "")
		}
		return val
	}
	if f, ok := domain.ToFloat(v); ok {
		return f
	}
	return fmt.Sprint(v)
}

// toGeometry converts a shape record into an orb geometry.
func toGeometry(s shp.Shape) orb.Geometry {
	switch g := s.(type) {
	case *shp.Point:
		return orb.Point{g.X, g.Y}
	case *shp.PointZ:
		return orb.Point{g.X, g.Y}
	case *shp.PointM:
		return orb.Point{g.X, g.Y}
	case *shp.MultiPoint:
		return multiPoint(g.Points)
	case *shp.MultiPointZ:
		return multiPoint(g.Points)
	case *shp.MultiPointM:
		return multiPoint(g.Points)
	case *shp.PolyLine:
		return lines(g.Parts, g.Points)
	case *shp.PolyLineZ:
		return lines(g.Parts, g.Points)
	case *shp.PolyLineM:
		return lines(g.Parts, g.Points)
	case *shp.Polygon:
		return polygons(g.Parts, g.Points)
	case *shp.PolygonZ:
		return polygons(g.Parts, g.Points)
	case *shp.PolygonM:
		return polygons(g.Parts, g.Points)
	default:
		return nil
	}
}

func multiPoint(pts []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

// splitParts slices the flat point list at the part offsets.
func splitParts(parts []int32, pts []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(pts) {
			continue
		}
		part := make([]orb.Point, 0, end-start)
		for _, p := range pts[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		out = append(out, part)
	}
	return out
}

func lines(parts []int32, pts []shp.Point) orb.Geometry {
	split := splitParts(parts, pts)
	if len(split) == 1 {
		return orb.LineString(split[0])
	}
	mls := make(orb.MultiLineString, len(split))
	for i, p := range split {
		mls[i] = p
	}
	return mls
}

// polygons groups rings into polygons: clockwise rings are shells,
// counter-clockwise rings are holes of the shell that contains them.
func polygons(parts []int32, pts []shp.Point) orb.Geometry {
	var mp orb.MultiPolygon
	var orphans []orb.Ring

	for _, part := range splitParts(parts, pts) {
		ring := orb.Ring(part)
		if len(ring) < 4 {
			continue
		}
		if ring.Orientation() == orb.CW {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		if i := shellFor(mp, ring); i >= 0 {
			mp[i] = append(mp[i], ring)
			continue
		}
		orphans = append(orphans, ring)
	}

	// Holes without a shell are read as shells, as GDAL does.
	for _, ring := range orphans {
		mp = append(mp, orb.Polygon{ring})
	}

	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	default:
		return mp
	}
}

func shellFor(mp orb.MultiPolygon, hole orb.Ring) int {
	for i := len(mp) - 1; i >= 0; i-- {
		if mp[i][0].Bound().Contains(hole[0]) && planar.RingContains(mp[i][0], hole[0]) {
			return i
		}
	}
	return -1
}

// layerGeometryType declares the narrowest type covering all features.
func layerGeometryType(features []domain.Feature) domain.GeometryType {
	declared := domain.GeometryType("")
	for i := range features {
		if features[i].Geometry == nil {
			continue
		}
		t := domain.GeometryTypeOf(features[i].Geometry)
		switch {
		case declared == "":
			declared = t
		case declared == t:
		case promotes(declared, t):
			declared = "MULTI" + declared
		case promotes(t, declared):
			declared = t
		default:
			return domain.GeomGeometry
		}
	}
	if declared == "" {
		return domain.GeomGeometry
	}
	return declared
}

func promotes(single, multi domain.GeometryType) bool {
	return "MULTI"+single == multi
}

func shapeTypeFor(layer *domain.VectorLayer) shp.ShapeType {
	t := layer.GeometryType
	if t == "" || t == domain.GeomGeometry {
		t = layerGeometryType(layer.Features)
	}

	switch t {
	case domain.GeomPoint:
		return shp.POINT
	case domain.GeomMultiPoint:
		return shp.MULTIPOINT
	case domain.GeomLineString, domain.GeomMultiLineString:
		return shp.POLYLINE
	default:
		return shp.POLYGON
	}
}

// toShape converts an orb geometry into a shape of the file's type.
func toShape(g orb.Geometry, shapeType shp.ShapeType) shp.Shape {
	switch v := g.(type) {
	case orb.Point:
		if shapeType == shp.POINT {
			return &shp.Point{X: v[0], Y: v[1]}
		}
	case orb.MultiPoint:
		pts := toPoints(v)
		return &shp.MultiPoint{Box: shp.BBoxFromPoints(pts), NumPoints: int32(len(pts)), Points: pts}
	case orb.LineString:
		return shp.NewPolyLine([][]shp.Point{toPoints(v)})
	case orb.MultiLineString:
		parts := make([][]shp.Point, len(v))
		for i, ls := range v {
			parts[i] = toPoints(ls)
		}
		return shp.NewPolyLine(parts)
	case orb.Polygon:
		return polygonShape(orb.MultiPolygon{v})
	case orb.MultiPolygon:
		return polygonShape(v)
	case orb.Bound:
		return polygonShape(orb.MultiPolygon{v.ToPolygon()})
	}
	return &shp.Null{}
}

// polygonShape writes shells clockwise and holes counter-clockwise.
func polygonShape(mp orb.MultiPolygon) shp.Shape {
	var parts [][]shp.Point
	for _, poly := range mp {
		for i, ring := range poly {
			want := orb.CCW
			if i == 0 {
				want = orb.CW
			}
			r := append(orb.Ring(nil), ring...)
			if r.Orientation() != want {
				r.Reverse()
			}
			parts = append(parts, toPoints(r))
		}
	}
	p := shp.Polygon(*shp.NewPolyLine(parts))
	return &p
}

func toPoints[T ~[]orb.Point](pts T) []shp.Point {
	out := make([]shp.Point, len(pts))
	for i, p := range pts {
		out[i] = shp.Point{X: p[0], Y: p[1]}
	}
	return out
}
