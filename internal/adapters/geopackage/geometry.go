package geopackage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// GeoPackage binary header flags.
const (
	flagLittleEndian = 0x01
	flagEnvelopeXY   = 0x02 // envelope indicator 1: minx, maxx, miny, maxy
	flagEmpty        = 0x10
	envelopeMask     = 0x0E
)

var errBadHeader = errors.New("not a GeoPackage geometry blob")

// envelopeSizes maps the envelope indicator to its byte length.
var envelopeSizes = [...]int{0, 32, 48, 48, 64}

// encodeGeometry wraps the WKB of g in a little-endian GeoPackage header with an XY envelope.
func encodeGeometry(g orb.Geometry, srsID int) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encoding WKB: %w", err)
	}

	b := g.Bound()
	flags := byte(flagLittleEndian | flagEnvelopeXY)
	if isEmpty(g) {
		flags = flagLittleEndian | flagEmpty
	}

	buf := make([]byte, 8, 8+32+len(body))
	buf[0], buf[1], buf[2], buf[3] = 'G', 'P', 0, flags
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(srsID)))

	if flags&flagEnvelopeXY != 0 {
		for _, v := range [4]float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]} {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return append(buf, body...), nil
}

// decodeGeometry parses a GeoPackage geometry blob and returns the geometry and srs_id.
func decodeGeometry(data []byte) (orb.Geometry, int, error) {
	if len(data) < 8 || data[0] != 'G' || data[1] != 'P' {
		return nil, 0, errBadHeader
	}
	if data[2] != 0 {
		return nil, 0, fmt.Errorf("unsupported GeoPackage binary version %d", data[2])
	}

	flags := data[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittleEndian != 0 {
		order = binary.LittleEndian
	}
	srsID := int(int32(order.Uint32(data[4:8])))

	indicator := int(flags&envelopeMask) >> 1
	if indicator >= len(envelopeSizes) {
		return nil, 0, fmt.Errorf("invalid envelope indicator %d", indicator)
	}
	offset := 8 + envelopeSizes[indicator]
	if len(data) < offset {
		return nil, 0, errBadHeader
	}

	g, err := wkb.Unmarshal(data[offset:])
	if err != nil {
		return nil, 0, fmt.Errorf("decoding WKB: %w", err)
	}
	return g, srsID, nil
}

func isEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.MultiPoint:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.Collection:
		return len(v) == 0
	}
	return false
}
