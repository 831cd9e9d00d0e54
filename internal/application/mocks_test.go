package application

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// captureLogger records every diagnostic so tests can assert on messages.
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

type mockDataset struct {
	meta  domain.RasterMeta
	bands map[int]domain.Band
}

// mockRasters implements output.RasterReader and output.RasterWriter for testing.
// Written indexes become readable datasets.
type mockRasters struct {
	mu          sync.Mutex
	datasets    map[string]*mockDataset
	describeErr error
	readErr     error
	writeErr    error
	written     []string
}

func (m *mockRasters) Describe(_ context.Context, path string) (domain.RasterMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.describeErr != nil {
		return domain.RasterMeta{}, m.describeErr
	}
	ds, ok := m.datasets[path]
	if !ok {
		return domain.RasterMeta{}, &domain.IOError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return ds.meta, nil
}

func (m *mockRasters) ReadBands(_ context.Context, path string, bands ...int) ([]domain.Band, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	ds, ok := m.datasets[path]
	if !ok {
		return nil, &domain.IOError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	out := make([]domain.Band, len(bands))
	for i, b := range bands {
		band, ok := ds.bands[b]
		if !ok {
			return nil, &domain.IOError{Op: "read", Path: path, Err: domain.ErrBandOutOfRange}
		}
		out[i] = band
	}
	return out, nil
}

func (m *mockRasters) WriteIndex(_ context.Context, path string, index *domain.IndexRaster, meta domain.RasterMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.datasets == nil {
		m.datasets = make(map[string]*mockDataset)
	}
	m.datasets[path] = &mockDataset{meta: meta, bands: map[int]domain.Band{1: index.Band()}}
	m.written = append(m.written, path)
	return nil
}

// mockVectors implements output.VectorRepository for testing.
type mockVectors struct {
	mu       sync.Mutex
	layers   map[string]*domain.VectorLayer
	readErr  error
	writeErr error
	reads    int
}

func (m *mockVectors) Read(_ context.Context, path string) (*domain.VectorLayer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	l, ok := m.layers[path]
	if !ok {
		return nil, &domain.IOError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return cloneLayer(l), nil
}

func (m *mockVectors) Write(_ context.Context, path string, layer *domain.VectorLayer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.layers == nil {
		m.layers = make(map[string]*domain.VectorLayer)
	}
	m.layers[path] = cloneLayer(layer)
	return nil
}

func cloneLayer(l *domain.VectorLayer) *domain.VectorLayer {
	c := *l
	c.Fields = append([]domain.Field(nil), l.Fields...)
	c.Features = make([]domain.Feature, len(l.Features))
	for i, f := range l.Features {
		props := make(map[string]interface{}, len(f.Properties))
		for k, v := range f.Properties {
			props[k] = v
		}
		c.Features[i] = domain.Feature{ID: f.ID, Geometry: f.Geometry, Properties: props}
	}
	return &c
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.StorageObject
	downloadErr error
	uploadErr   error
	listErr     error
	downloaded  []string
	uploaded    []string
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.downloaded = append(m.downloaded, key)
	return nil
}

func (m *mockStorage) Upload(_ context.Context, _, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.uploaded = append(m.uploaded, key)
	return nil
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (m *mockStorage) Exists(_ context.Context, key string) (bool, error) {
	for _, obj := range m.objects {
		if obj.Key == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStorage) downloadedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := append([]string(nil), m.downloaded...)
	sort.Strings(keys)
	return keys
}

// mockPlotter implements output.Plotter for testing.
type mockPlotter struct {
	params     map[string]string
	controlErr error
	scatterErr error
	mapErr     error
	scatters   []domain.ScatterSpec
	maps       []string
}

func (m *mockPlotter) Choropleth(_ context.Context, layer *domain.VectorLayer, field, path, _ string) error {
	if m.mapErr != nil {
		return m.mapErr
	}
	if !layer.HasField(field) {
		return &domain.SchemaError{Fields: []string{field}}
	}
	m.maps = append(m.maps, path)
	return nil
}

func (m *mockPlotter) Scatter(_ context.Context, table *domain.Table, spec domain.ScatterSpec) error {
	if m.scatterErr != nil {
		return m.scatterErr
	}
	for _, f := range []string{spec.XField, spec.YField} {
		if table.ColumnIndex(f) < 0 {
			return &domain.SchemaError{Fields: []string{f}}
		}
	}
	m.scatters = append(m.scatters, spec)
	return nil
}

func (m *mockPlotter) ReadControlFile(_ context.Context, path string) (map[string]string, error) {
	if m.controlErr != nil {
		return nil, m.controlErr
	}
	return m.params, nil
}

// Fixture: a 4x2 four-band scene on a unit grid with its origin at (0, 2),
// and three parcels: two over the scene and one outside it.
const (
	sceneKey   = "scene.tif"
	parcelsKey = "parcels.shp"
)

func sceneMeta() domain.RasterMeta {
	return domain.RasterMeta{
		Driver:    "GTiff",
		Width:     4,
		Height:    2,
		Count:     4,
		DataType:  domain.Float32,
		Transform: domain.GeoTransform{0, 1, 0, 2, 0, -1},
	}
}

func sceneRasters(path string) *mockRasters {
	band := func(i int, data ...float32) domain.Band {
		return domain.Band{Index: i, Width: 4, Height: 2, Data: data}
	}
	return &mockRasters{datasets: map[string]*mockDataset{
		path: {
			meta: sceneMeta(),
			bands: map[int]domain.Band{
				1: band(1, 0, 0, 0, 0, 0, 0, 0, 0),
				2: band(2, 0, 0, 0, 0, 0, 0, 0, 0),
				3: band(3, 0.2, 0.2, 0, 0.5, 0.2, 0.2, 0.1, 0.5),
				4: band(4, 0.8, 0.6, 0, 0.5, 0.8, 0.6, 0.3, 0.5),
			},
		},
	}}
}

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}.ToPolygon()
}

func parcelsLayer() *domain.VectorLayer {
	return &domain.VectorLayer{
		Name:         "parcels",
		SRID:         -1,
		GeometryType: domain.GeomPolygon,
		Fields: []domain.Field{
			{Name: "PARCEL_ID", Type: domain.FieldText},
			{Name: "YEAR_BUILT", Type: domain.FieldInteger},
		},
		Features: []domain.Feature{
			{ID: 1, Geometry: square(0, 0, 2, 2), Properties: map[string]interface{}{"PARCEL_ID": "A", "YEAR_BUILT": int64(1950)}},
			{ID: 2, Geometry: square(2, 0, 4, 2), Properties: map[string]interface{}{"PARCEL_ID": "B", "YEAR_BUILT": int64(1990)}},
			{ID: 3, Geometry: square(10, 10, 11, 11), Properties: map[string]interface{}{"PARCEL_ID": "C", "YEAR_BUILT": nil}},
		},
	}
}
