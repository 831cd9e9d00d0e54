// Package geopackage provides the SQLite-based GeoPackage vector repository.
package geopackage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/jobrunner/verdant/internal/domain"
)

const (
	applicationID  = 0x47504B47 // "GPKG"
	userVersion    = 10300
	geometryColumn = "geom"
	fidColumn      = "fid"
	customSRSID    = 100000
	dateLayout     = "2006-01-02"
	rtreeExtension = "gpkg_rtree_index"
)

const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

var coreTables = []string{
	`CREATE TABLE gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
		srs_id INTEGER,
		CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
		CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE gpkg_extensions (
		table_name TEXT,
		column_name TEXT,
		extension_name TEXT NOT NULL,
		definition TEXT NOT NULL,
		scope TEXT NOT NULL,
		CONSTRAINT ge_tce UNIQUE (table_name, column_name, extension_name)
	)`,
}

// Options configures the repository.
type Options struct {
	LayerName    string // Layer to read; the first feature layer when empty
	SpatialIndex bool   // Write an R-tree index alongside the feature table
}

// Repository implements the VectorRepository port for GeoPackage files.
type Repository struct {
	opts Options
}

// NewRepository creates a new GeoPackage repository.
func NewRepository(opts Options) *Repository {
	return &Repository{opts: opts}
}

// layerInfo is one row of gpkg_contents joined with its geometry column.
type layerInfo struct {
	table      string
	geomColumn string
	geomType   string
	srsID      int
	definition string
}

// column is an attribute column of the feature table.
type column struct {
	name string
	typ  domain.FieldType
}

// Read loads a feature layer into memory.
func (r *Repository) Read(ctx context.Context, path string) (*domain.VectorLayer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &domain.IOError{Op: "open", Path: path, Err: err}
	}

	db, err := r.openDB(ctx, path, true)
	if err != nil {
		return nil, &domain.IOError{Op: "open", Path: path, Err: err}
	}
	defer func() { _ = db.Close() }()

	info, err := r.readLayerInfo(ctx, db)
	if err != nil {
		return nil, &domain.IOError{Op: "read", Path: path, Err: err}
	}

	pk, cols, err := r.readColumns(ctx, db, info)
	if err != nil {
		return nil, &domain.IOError{Op: "read", Path: path, Err: err}
	}

	layer := &domain.VectorLayer{
		Name:         info.table,
		Path:         path,
		SRID:         info.srsID,
		Projection:   info.definition,
		GeometryType: domain.GeometryType(strings.ToUpper(info.geomType)),
	}
	for _, c := range cols {
		layer.Fields = append(layer.Fields, domain.Field{Name: c.name, Type: c.typ})
	}

	layer.Features, err = r.readFeatures(ctx, db, info, pk, cols)
	if err != nil {
		return nil, &domain.IOError{Op: "read", Path: path, Err: err}
	}
	return layer, nil
}

// Write persists layer as a new GeoPackage, replacing any file at path.
func (r *Repository) Write(ctx context.Context, path string, layer *domain.VectorLayer) error {
	if layer == nil {
		return &domain.ValidationError{Field: "layer", Message: "no layer to write"}
	}
	if err := checkColumnNames(layer); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return &domain.IOError{Op: "write", Path: path, Err: err}
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &domain.IOError{Op: "write", Path: path, Err: err}
	}

	db, err := r.openDB(ctx, path, false)
	if err != nil {
		return &domain.IOError{Op: "create", Path: path, Err: err}
	}
	defer func() { _ = db.Close() }()

	if err := r.writeLayer(ctx, db, path, layer); err != nil {
		return &domain.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// openDB opens the SQLite database with appropriate settings.
func (r *Repository) openDB(ctx context.Context, path string, readOnly bool) (*sql.DB, error) {
	mode := "rwc"
	if readOnly {
		mode = "ro"
	}
	db, err := sql.Open("sqlite3", sqliteDSN(path, mode))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// sqliteDSN builds a SQLite URI filename. The path is percent-escaped so
// '?' and '#' in file names are not read as query or fragment.
func sqliteDSN(path, mode string) string {
	escaped := (&url.URL{Path: filepath.ToSlash(path)}).EscapedPath()
	return "file:" + escaped + "?" + url.Values{"mode": {mode}}.Encode()
}

// readLayerInfo finds the configured feature layer, or the first one.
func (r *Repository) readLayerInfo(ctx context.Context, db *sql.DB) (layerInfo, error) {
	query := `
		SELECT
			c.table_name,
			g.column_name,
			g.geometry_type_name,
			g.srs_id,
			COALESCE(s.definition, '')
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		LEFT JOIN gpkg_spatial_ref_sys s ON s.srs_id = g.srs_id
		WHERE c.data_type = 'features' AND (? = '' OR c.table_name = ?)
		ORDER BY c.table_name
		LIMIT 1
	`

	var info layerInfo
	err := db.QueryRowContext(ctx, query, r.opts.LayerName, r.opts.LayerName).Scan(
		&info.table, &info.geomColumn, &info.geomType, &info.srsID, &info.definition,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if r.opts.LayerName != "" {
			return layerInfo{}, fmt.Errorf("%w: %s", domain.ErrNoLayer, r.opts.LayerName)
		}
		return layerInfo{}, domain.ErrNoLayer
	}
	if err != nil {
		return layerInfo{}, fmt.Errorf("reading layers: %w", err)
	}
	if info.definition == "undefined" {
		info.definition = ""
	}
	return info, nil
}

// readColumns returns the primary key and attribute columns of the feature table.
func (r *Repository) readColumns(ctx context.Context, db *sql.DB, info layerInfo) (string, []column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(info.table)))
	if err != nil {
		return "", nil, fmt.Errorf("reading columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		pk   string
		cols []column
	)
	for rows.Next() {
		var (
			cid, notNull, isPK int
			name, declType     string
			dflt               sql.NullString
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &isPK); err != nil {
			return "", nil, fmt.Errorf("scanning column: %w", err)
		}

		switch {
		case isPK > 0 && pk == "":
			pk = name
		case strings.EqualFold(name, info.geomColumn):
		default:
			if typ, ok := fieldType(declType); ok {
				cols = append(cols, column{name: name, typ: typ})
			}
		}
	}
	return pk, cols, rows.Err()
}

func (r *Repository) readFeatures(ctx context.Context, db *sql.DB, info layerInfo, pk string, cols []column) ([]domain.Feature, error) {
	key := "rowid"
	if pk != "" {
		key = quoteIdent(pk)
	}

	names := []string{key, quoteIdent(info.geomColumn)}
	for _, c := range cols {
		names = append(names, quoteIdent(c.name))
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", //#nosec G201 -- identifiers quoted from the table schema
		strings.Join(names, ", "), quoteIdent(info.table), key)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading features: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var features []domain.Feature
	for rows.Next() {
		f, err := scanFeature(rows, cols)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// scanFeature scans a row into a Feature.
func scanFeature(rows *sql.Rows, cols []column) (domain.Feature, error) {
	var (
		id   int64
		geom []byte
	)
	values := make([]interface{}, len(cols))
	dest := make([]interface{}, 0, len(cols)+2)
	dest = append(dest, &id, &geom)
	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := rows.Scan(dest...); err != nil {
		return domain.Feature{}, fmt.Errorf("scanning feature: %w", err)
	}

	f := domain.Feature{
		ID:         id,
		Properties: make(map[string]interface{}, len(cols)),
	}
	if len(geom) > 0 {
		g, _, err := decodeGeometry(geom)
		if err != nil {
			return domain.Feature{}, fmt.Errorf("feature %d: %w", id, err)
		}
		f.Geometry = g
	}
	for i, c := range cols {
		f.Properties[c.name] = normalize(values[i], c.typ)
	}
	return f, nil
}

func (r *Repository) writeLayer(ctx context.Context, db *sql.DB, path string, layer *domain.VectorLayer) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA application_id = %d", applicationID),
		fmt.Sprintf("PRAGMA user_version = %d", userVersion),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("setting header: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, ddl := range coreTables {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating core tables: %w", err)
		}
	}

	srsID, err := writeSpatialRefSys(ctx, tx, layer)
	if err != nil {
		return err
	}

	name := layer.Name
	if name == "" {
		name = DeriveLayerName(path)
	}
	geomType := string(layer.GeometryType)
	if geomType == "" {
		geomType = string(domain.GeomGeometry)
	}

	if _, err := tx.ExecContext(ctx, createTableSQL(name, geomType, layer.Fields)); err != nil {
		return fmt.Errorf("creating feature table: %w", err)
	}

	var minX, minY, maxX, maxY interface{}
	if b, ok := layer.Bound(); ok {
		minX, minY, maxX, maxY = b.Min[0], b.Min[1], b.Max[0], b.Max[1]
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, description, min_x, min_y, max_x, max_y, srs_id)
		 VALUES (?, 'features', ?, '', ?, ?, ?, ?, ?)`,
		name, name, minX, minY, maxX, maxY, srsID,
	); err != nil {
		return fmt.Errorf("registering contents: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
		 VALUES (?, ?, ?, ?, 0, 0)`,
		name, geometryColumn, geomType, srsID,
	); err != nil {
		return fmt.Errorf("registering geometry column: %w", err)
	}

	fids, err := insertFeatures(ctx, tx, name, srsID, layer)
	if err != nil {
		return err
	}

	if r.opts.SpatialIndex {
		if err := createSpatialIndex(ctx, tx, name, layer, fids); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// writeSpatialRefSys inserts the mandatory SRS rows plus the layer's own and returns its srs_id.
func writeSpatialRefSys(ctx context.Context, tx *sql.Tx, layer *domain.VectorLayer) (int, error) {
	const insert = `INSERT OR REPLACE INTO gpkg_spatial_ref_sys
		(srs_name, srs_id, organization, organization_coordsys_id, definition, description)
		VALUES (?, ?, ?, ?, ?, ?)`

	rows := [][]interface{}{
		{"Undefined cartesian SRS", domain.SRIDUndefinedCartesian, "NONE", -1, "undefined", "undefined cartesian coordinate reference system"},
		{"Undefined geographic SRS", domain.SRIDUndefinedGeographic, "NONE", 0, "undefined", "undefined geographic coordinate reference system"},
		{"WGS 84 geodetic", domain.SRIDWGS84, "EPSG", 4326, wgs84WKT, "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid"},
	}

	srsID := layer.SRID
	switch {
	case layer.Projection != "" && srsID > 0:
		rows = append(rows, []interface{}{"EPSG:" + fmt.Sprint(srsID), srsID, "EPSG", srsID, layer.Projection, ""})
	case layer.Projection != "":
		srsID = customSRSID
		rows = append(rows, []interface{}{projectionName(layer.Projection), srsID, "NONE", srsID, layer.Projection, ""})
	case srsID > 0:
		rows = append(rows, []interface{}{"EPSG:" + fmt.Sprint(srsID), srsID, "EPSG", srsID, "undefined", ""})
	case srsID < domain.SRIDUndefinedCartesian:
		srsID = domain.SRIDUndefinedCartesian
	}

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, insert, row...); err != nil {
			return 0, fmt.Errorf("writing spatial reference systems: %w", err)
		}
	}
	return srsID, nil
}

func insertFeatures(ctx context.Context, tx *sql.Tx, table string, srsID int, layer *domain.VectorLayer) ([]int64, error) {
	names := []string{quoteIdent(fidColumn), quoteIdent(geometryColumn)}
	for _, f := range layer.Fields {
		names = append(names, quoteIdent(f.Name))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", //#nosec G201 -- identifiers quoted
		quoteIdent(table), strings.Join(names, ", "), placeholders))
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	fids := make([]int64, len(layer.Features))
	for i := range layer.Features {
		f := &layer.Features[i]

		args := make([]interface{}, 0, len(names))
		if f.ID > 0 {
			args = append(args, f.ID)
		} else {
			args = append(args, nil)
		}

		if f.Geometry != nil {
			blob, err := encodeGeometry(f.Geometry, srsID)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", f.ID, err)
			}
			args = append(args, blob)
		} else {
			args = append(args, nil)
		}

		for _, field := range layer.Fields {
			args = append(args, storable(f.Properties[field.Name]))
		}

		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("inserting feature %d: %w", f.ID, err)
		}
		if fids[i], err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}
	return fids, nil
}

// createSpatialIndex builds the R-tree table from the feature envelopes.
func createSpatialIndex(ctx context.Context, tx *sql.Tx, table string, layer *domain.VectorLayer, fids []int64) error {
	indexTable := fmt.Sprintf("rtree_%s_%s", table, geometryColumn)

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"CREATE VIRTUAL TABLE %s USING rtree(id, minx, maxx, miny, maxy)", quoteIdent(indexTable),
	)); err != nil {
		return &domain.ComputationError{Op: "spatial index", Err: fmt.Errorf("creating R-tree table: %w", err)}
	}

	insert := fmt.Sprintf("INSERT INTO %s (id, minx, maxx, miny, maxy) VALUES (?, ?, ?, ?, ?)", quoteIdent(indexTable))
	for i := range layer.Features {
		g := layer.Features[i].Geometry
		if g == nil || isEmpty(g) {
			continue
		}
		b := g.Bound()
		if _, err := tx.ExecContext(ctx, insert, fids[i], b.Min[0], b.Max[0], b.Min[1], b.Max[1]); err != nil {
			return &domain.ComputationError{Op: "spatial index", Err: fmt.Errorf("populating R-tree index: %w", err)}
		}
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_extensions (table_name, column_name, extension_name, definition, scope)
		 VALUES (?, ?, ?, 'http://www.geopackage.org/spec120/#extension_rtree', 'write-only')`,
		table, geometryColumn, rtreeExtension,
	)
	return err
}

func createTableSQL(table, geomType string, fields []domain.Field) string {
	defs := []string{
		quoteIdent(fidColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL",
		quoteIdent(geometryColumn) + " " + geomType,
	}
	for _, f := range fields {
		defs = append(defs, quoteIdent(f.Name)+" "+string(f.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
}

// checkColumnNames rejects attributes that collide with the reserved table columns.
func checkColumnNames(layer *domain.VectorLayer) error {
	var clash []string
	for _, f := range layer.Fields {
		if strings.EqualFold(f.Name, fidColumn) || strings.EqualFold(f.Name, geometryColumn) {
			clash = append(clash, f.Name)
		}
	}
	if len(clash) > 0 {
		return &domain.SchemaError{Fields: clash, Message: "reserved GeoPackage column names"}
	}
	return nil
}

// DeriveLayerName derives a layer name from the file path.
// It extracts the filename without extension.
func DeriveLayerName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// projectionName extracts the quoted name of a WKT CRS.
func projectionName(wkt string) string {
	start := strings.Index(wkt, `"`)
	if start < 0 {
		return "custom"
	}
	end := strings.Index(wkt[start+1:], `"`)
	if end < 0 {
		return "custom"
	}
	return wkt[start+1 : start+1+end]
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// fieldType maps a declared SQLite column type to a field type.
// BLOB columns are not attributes.
func fieldType(decl string) (domain.FieldType, bool) {
	d := strings.ToUpper(strings.TrimSpace(decl))
	if i := strings.Index(d, "("); i >= 0 {
		d = strings.TrimSpace(d[:i])
	}

	switch d {
	case "INTEGER", "INT", "MEDIUMINT", "SMALLINT", "TINYINT", "BIGINT":
		return domain.FieldInteger, true
	case "REAL", "DOUBLE", "FLOAT", "NUMERIC":
		return domain.FieldReal, true
	case "BOOLEAN":
		return domain.FieldBoolean, true
	case "DATE", "DATETIME":
		return domain.FieldDate, true
	case "BLOB":
		return "", false
	default:
		return domain.FieldText, true
	}
}

// normalize converts a scanned value to the representation used by the domain.
func normalize(v interface{}, typ domain.FieldType) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(dateLayout)
	case int64:
		switch typ {
		case domain.FieldReal:
			return float64(val)
		case domain.FieldBoolean:
			return val != 0
		}
	case float64:
		if typ == domain.FieldInteger && val == math.Trunc(val) {
			return int64(val)
		}
	}
	return v
}

// storable converts a domain value for binding.
func storable(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return val.Format(dateLayout)
	case float64:
		if math.IsNaN(val) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(val)) {
			return nil
		}
		return float64(val)
	}
	return v
}
