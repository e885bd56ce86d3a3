package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// TIFF and GeoTIFF tag numbers.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagPredictor           = 317
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
)

// GeoKey ids.
const (
	keyModelType         = 1024
	keyRasterType        = 1025
	keyCitation          = 1026
	keyGeographicType    = 2048
	keyProjectedCSType   = 3072
	keyProjectedCitation = 3073

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1

	userDefined = 32767
)

var typeSizes = map[uint16]int{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8,
	typeSByte: 1, typeUndefined: 1, typeSShort: 2, typeSLong: 4,
	typeSRational: 8, typeFloat: 4, typeDouble: 8,
}

var errNotTIFF = errors.New("not a classic TIFF file")

// geoTags holds the first IFD fields needed for geo-referencing.
type geoTags struct {
	samplesPerPixel int
	pixelScale      []float64
	tiepoint        []float64
	transformation  []float64
	geoKeys         []uint16
	geoDoubles      []float64
	geoASCII        string
}

// readGeoTags parses the first IFD of a classic TIFF.
func readGeoTags(data []byte) (*geoTags, error) {
	if len(data) < 8 {
		return nil, errNotTIFF
	}

	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errNotTIFF
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, errNotTIFF
	}

	ifd := int(order.Uint32(data[4:8]))
	if ifd+2 > len(data) {
		return nil, fmt.Errorf("IFD offset %d out of range", ifd)
	}
	count := int(order.Uint16(data[ifd : ifd+2]))
	if ifd+2+count*12 > len(data) {
		return nil, fmt.Errorf("IFD with %d entries truncated", count)
	}

	tags := &geoTags{}
	for i := 0; i < count; i++ {
		entry := data[ifd+2+i*12 : ifd+2+(i+1)*12]
		tag := order.Uint16(entry[0:2])
		typ := order.Uint16(entry[2:4])
		n := int(order.Uint32(entry[4:8]))

		switch tag {
		case tagSamplesPerPixel, tagModelPixelScale, tagModelTiepoint, tagModelTransformation,
			tagGeoKeyDirectory, tagGeoDoubleParams, tagGeoASCIIParams:
		default:
			continue
		}

		raw, err := fieldBytes(data, order, entry, typ, n)
		if err != nil {
			return nil, fmt.Errorf("tag %d: %w", tag, err)
		}

		switch tag {
		case tagSamplesPerPixel:
			if vals := decodeUints(raw, order, typ); len(vals) > 0 {
				tags.samplesPerPixel = int(vals[0])
			}
		case tagModelPixelScale:
			tags.pixelScale = decodeDoubles(raw, order, typ)
		case tagModelTiepoint:
			tags.tiepoint = decodeDoubles(raw, order, typ)
		case tagModelTransformation:
			tags.transformation = decodeDoubles(raw, order, typ)
		case tagGeoKeyDirectory:
			for _, v := range decodeUints(raw, order, typ) {
				tags.geoKeys = append(tags.geoKeys, uint16(v))
			}
		case tagGeoDoubleParams:
			tags.geoDoubles = decodeDoubles(raw, order, typ)
		case tagGeoASCIIParams:
			tags.geoASCII = string(raw)
		}
	}
	return tags, nil
}

func fieldBytes(data []byte, order binary.ByteOrder, entry []byte, typ uint16, n int) ([]byte, error) {
	size, ok := typeSizes[typ]
	if !ok {
		return nil, fmt.Errorf("unsupported field type %d", typ)
	}
	length := size * n
	if length <= 4 {
		return entry[8 : 8+length], nil
	}
	off := int(order.Uint32(entry[8:12]))
	if off < 0 || off+length > len(data) {
		return nil, fmt.Errorf("value offset %d+%d out of range", off, length)
	}
	return data[off : off+length], nil
}

func decodeUints(raw []byte, order binary.ByteOrder, typ uint16) []uint32 {
	var out []uint32
	switch typ {
	case typeByte, typeUndefined:
		for _, b := range raw {
			out = append(out, uint32(b))
		}
	case typeShort:
		for i := 0; i+2 <= len(raw); i += 2 {
			out = append(out, uint32(order.Uint16(raw[i:])))
		}
	case typeLong:
		for i := 0; i+4 <= len(raw); i += 4 {
			out = append(out, order.Uint32(raw[i:]))
		}
	}
	return out
}

func decodeDoubles(raw []byte, order binary.ByteOrder, typ uint16) []float64 {
	var out []float64
	switch typ {
	case typeDouble:
		for i := 0; i+8 <= len(raw); i += 8 {
			out = append(out, math.Float64frombits(order.Uint64(raw[i:])))
		}
	case typeFloat:
		for i := 0; i+4 <= len(raw); i += 4 {
			out = append(out, float64(math.Float32frombits(order.Uint32(raw[i:]))))
		}
	}
	return out
}

// transform derives the affine transform, or nil when the file carries none.
func (t *geoTags) transform() *GeoTransform {
	if len(t.transformation) >= 8 {
		m := t.transformation
		return &GeoTransform{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	}
	if len(t.pixelScale) >= 2 && len(t.tiepoint) >= 6 {
		sx, sy := t.pixelScale[0], t.pixelScale[1]
		i, j, x, y := t.tiepoint[0], t.tiepoint[1], t.tiepoint[3], t.tiepoint[4]
		return &GeoTransform{A: sx, C: x - i*sx, E: -sy, F: y + j*sy}
	}
	return nil
}

// crs derives a CRS identifier from the GeoKey directory: "EPSG:n" when a
// registered code is present, otherwise the citation text, otherwise "".
func (t *geoTags) crs() string {
	keys := t.geoKeys
	if len(keys) < 4 {
		return ""
	}
	n := int(keys[3])

	values := make(map[uint16]uint16)
	citations := make(map[uint16]string)
	for i := 0; i < n && 4+i*4+3 < len(keys); i++ {
		k := keys[4+i*4 : 4+i*4+4]
		id, loc, count, val := k[0], k[1], int(k[2]), int(k[3])
		switch loc {
		case 0:
			values[id] = uint16(val)
		case tagGeoASCIIParams:
			if val+count <= len(t.geoASCII) {
				citations[id] = strings.TrimRight(t.geoASCII[val:val+count], "|\x00")
			}
		}
	}

	for _, id := range []uint16{keyProjectedCSType, keyGeographicType} {
		if code, ok := values[id]; ok && code > 0 && code < userDefined {
			return fmt.Sprintf("EPSG:%d", code)
		}
	}
	for _, id := range []uint16{keyProjectedCitation, keyCitation} {
		if c := strings.TrimSpace(citations[id]); c != "" {
			return c
		}
	}
	return ""
}
