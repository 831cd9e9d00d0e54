package domain

import (
	"fmt"
	"math"
)

// DataType names a raster sample type using GDAL's spelling.
type DataType string

// Raster sample types.
const (
	Byte    DataType = "Byte"
	UInt16  DataType = "UInt16"
	Int16   DataType = "Int16"
	UInt32  DataType = "UInt32"
	Int32   DataType = "Int32"
	Float32 DataType = "Float32"
	Float64 DataType = "Float64"
)

// DriverGTiff is the GDAL short name of the GeoTIFF driver.
const DriverGTiff = "GTiff"

// Default bands of a Landsat/Sentinel style stack: near-infrared and red.
const (
	DefaultPositiveBand = 4
	DefaultNegativeBand = 3
)

// RasterMeta describes a raster dataset. It is an immutable value.
type RasterMeta struct {
	Driver     string       // GDAL driver short name
	Width      int          // columns
	Height     int          // rows
	Count      int          // band count
	DataType   DataType     // sample type of band 1
	NoData     float64      // nodata value of band 1
	HasNoData  bool         // NoData is meaningful
	Transform  GeoTransform // pixel to map affine
	Projection string       // WKT
}

// ForIndex returns the metadata of a single-band Float32 GeoTIFF on the same grid.
func (m RasterMeta) ForIndex() RasterMeta {
	out := m
	out.Count = 1
	out.DataType = Float32
	out.Driver = DriverGTiff
	return out
}

// Extent returns the map-space bounding box of the grid.
func (m RasterMeta) Extent() Extent {
	gt := m.Transform
	if gt.IsZero() {
		gt = IdentityTransform
	}
	e := Extent{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, c := range [4][2]float64{{0, 0}, {float64(m.Width), 0}, {0, float64(m.Height)}, {float64(m.Width), float64(m.Height)}} {
		x, y := gt.Apply(c[0], c[1])
		e.MinX, e.MaxX = math.Min(e.MinX, x), math.Max(e.MaxX, x)
		e.MinY, e.MaxY = math.Min(e.MinY, y), math.Max(e.MaxY, y)
	}
	return e
}

// ValidBand checks that band is a 1-based index into the dataset.
func (m RasterMeta) ValidBand(band int) error {
	if band < 1 || band > m.Count {
		return &ValidationError{
			Field:      "band",
			Value:      band,
			Constraint: fmt.Sprintf("[1, %d]", m.Count),
			Message:    "band index out of range",
		}
	}
	return nil
}

// Band is a single raster band held in memory as row-major float32 samples.
type Band struct {
	Index  int // 1-based band number
	Width  int
	Height int
	Data   []float32
}

// At returns the sample at (col, row).
func (b Band) At(col, row int) float32 {
	return b.Data[row*b.Width+col]
}

// SameShape reports whether two bands share dimensions.
func (b Band) SameShape(o Band) bool {
	return b.Width == o.Width && b.Height == o.Height && len(b.Data) == len(o.Data)
}

// IndexRaster is a derived single-band float32 grid.
type IndexRaster struct {
	Width  int
	Height int
	Data   []float32
	Masked int // cells set to 0 because the denominator was exactly 0
}

// Band views the index as band 1.
func (r *IndexRaster) Band() Band {
	return Band{Index: 1, Width: r.Width, Height: r.Height, Data: r.Data}
}

// NormalizedDifference computes (p - n) / (p + n) per cell in float32.
// Cells where p + n == 0 exactly are set to 0. NaN inputs propagate.
func NormalizedDifference(pos, neg Band) (*IndexRaster, error) {
	if !pos.SameShape(neg) || len(pos.Data) != pos.Width*pos.Height {
		return nil, &ComputationError{
			Op: "normalized difference",
			Err: fmt.Errorf("%w: band %d is %dx%d, band %d is %dx%d",
				ErrShapeMismatch, pos.Index, pos.Width, pos.Height, neg.Index, neg.Width, neg.Height),
		}
	}

	out := &IndexRaster{
		Width:  pos.Width,
		Height: pos.Height,
		Data:   make([]float32, len(pos.Data)),
	}
	for i, p := range pos.Data {
		n := neg.Data[i]
		sum := p + n
		if sum == 0 {
			out.Masked++
			continue
		}
		out.Data[i] = (p - n) / sum
	}
	return out, nil
}
