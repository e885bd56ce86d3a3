package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/klauspost/compress/zlib"
)

// ErrNoTransform is returned when a raster cannot be geo-referenced.
var ErrNoTransform = errors.New("raster has no usable geo-transform")

const (
	compressionDeflate  = 8
	photometricMinIsBlk = 1
	predictorHorizontal = 2
	stripTargetBytes    = 8192
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// EncodeGeoTIFF encodes m as a single-band 8-bit GeoTIFF with deflate
// compression and a horizontal differencing predictor. crs may be an
// "EPSG:n" code or any other text, which is stored as a citation.
func EncodeGeoTIFF(m *Mask, crs string, gt *GeoTransform) ([]byte, error) {
	if gt.Degenerate() {
		return nil, ErrNoTransform
	}
	if m == nil || m.Width <= 0 || m.Height <= 0 || len(m.Pix) != m.Width*m.Height {
		return nil, errors.New("invalid mask dimensions")
	}

	var buf bytes.Buffer
	buf.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})

	rowsPerStrip := stripTargetBytes / m.Width
	if rowsPerStrip < 1 {
		rowsPerStrip = 1
	}
	if rowsPerStrip > m.Height {
		rowsPerStrip = m.Height
	}

	var offsets, counts []uint32
	row := make([]byte, m.Width)
	for y0 := 0; y0 < m.Height; y0 += rowsPerStrip {
		y1 := min(y0+rowsPerStrip, m.Height)

		var strip bytes.Buffer
		zw, err := zlib.NewWriterLevel(&strip, zlib.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("create deflate writer: %w", err)
		}
		for y := y0; y < y1; y++ {
			src := m.Pix[y*m.Width : (y+1)*m.Width]
			row[0] = src[0]
			for x := 1; x < m.Width; x++ {
				row[x] = src[x] - src[x-1]
			}
			if _, err := zw.Write(row); err != nil {
				return nil, fmt.Errorf("deflate strip: %w", err)
			}
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("close deflate strip: %w", err)
		}

		offsets = append(offsets, uint32(buf.Len()))
		counts = append(counts, uint32(strip.Len()))
		buf.Write(strip.Bytes())
	}
	if buf.Len()%2 == 1 {
		buf.WriteByte(0)
	}

	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(m.Width)),
		longEntry(tagImageLength, uint32(m.Height)),
		shortEntry(tagBitsPerSample, 8),
		shortEntry(tagCompression, compressionDeflate),
		shortEntry(tagPhotometric, photometricMinIsBlk),
		longEntry(tagStripOffsets, offsets...),
		shortEntry(tagSamplesPerPixel, 1),
		longEntry(tagRowsPerStrip, uint32(rowsPerStrip)),
		longEntry(tagStripByteCounts, counts...),
		shortEntry(tagPlanarConfiguration, 1),
		shortEntry(tagPredictor, predictorHorizontal),
		shortEntry(tagSampleFormat, 1),
	}
	entries = append(entries, geoEntries(crs, *gt)...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOffset := uint32(buf.Len())
	binary.LittleEndian.PutUint32(buf.Bytes()[4:8], ifdOffset)

	extra := ifdOffset + uint32(2+12*len(entries)+4)
	var extraData bytes.Buffer
	var field [12]byte

	binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		binary.LittleEndian.PutUint16(field[0:2], e.tag)
		binary.LittleEndian.PutUint16(field[2:4], e.typ)
		binary.LittleEndian.PutUint32(field[4:8], e.count)
		clear(field[8:12])
		if len(e.data) <= 4 {
			copy(field[8:12], e.data)
		} else {
			binary.LittleEndian.PutUint32(field[8:12], extra+uint32(extraData.Len()))
			extraData.Write(e.data)
			if extraData.Len()%2 == 1 {
				extraData.WriteByte(0)
			}
		}
		buf.Write(field[:])
	}
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(extraData.Bytes())

	return buf.Bytes(), nil
}

func geoEntries(crs string, gt GeoTransform) []ifdEntry {
	var entries []ifdEntry
	if gt.northUp() {
		entries = append(entries,
			doubleEntry(tagModelPixelScale, gt.A, -gt.E, 0),
			doubleEntry(tagModelTiepoint, 0, 0, 0, gt.C, gt.F, 0),
		)
	} else {
		entries = append(entries, doubleEntry(tagModelTransformation,
			gt.A, gt.B, 0, gt.C,
			gt.D, gt.E, 0, gt.F,
			0, 0, 0, 0,
			0, 0, 0, 1,
		))
	}

	type geoKey struct{ id, loc, count, value uint16 }
	var keys []geoKey
	var ascii string

	if code, ok := EPSGCode(crs); ok {
		// EPSG 4000-4999 is the geographic 2D range.
		if code >= 4000 && code < 5000 {
			keys = append(keys,
				geoKey{keyModelType, 0, 1, modelTypeGeographic},
				geoKey{keyRasterType, 0, 1, rasterPixelIsArea},
				geoKey{keyGeographicType, 0, 1, uint16(code)},
			)
		} else {
			keys = append(keys,
				geoKey{keyModelType, 0, 1, modelTypeProjected},
				geoKey{keyRasterType, 0, 1, rasterPixelIsArea},
				geoKey{keyProjectedCSType, 0, 1, uint16(code)},
			)
		}
	} else if crs != "" {
		ascii = crs + "|"
		keys = append(keys,
			geoKey{keyModelType, 0, 1, modelTypeProjected},
			geoKey{keyRasterType, 0, 1, rasterPixelIsArea},
			geoKey{keyCitation, tagGeoASCIIParams, uint16(len(ascii)), 0},
			geoKey{keyProjectedCSType, 0, 1, userDefined},
		)
	} else {
		keys = append(keys, geoKey{keyRasterType, 0, 1, rasterPixelIsArea})
	}

	dir := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		dir = append(dir, k.id, k.loc, k.count, k.value)
	}
	entries = append(entries, shortEntry(tagGeoKeyDirectory, dir...))
	if ascii != "" {
		entries = append(entries, asciiEntry(tagGeoASCIIParams, ascii))
	}
	return entries
}

func shortEntry(tag uint16, vals ...uint16) ifdEntry {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return ifdEntry{tag: tag, typ: typeShort, count: uint32(len(vals)), data: data}
}

func longEntry(tag uint16, vals ...uint32) ifdEntry {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	return ifdEntry{tag: tag, typ: typeLong, count: uint32(len(vals)), data: data}
}

func doubleEntry(tag uint16, vals ...float64) ifdEntry {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: typeDouble, count: uint32(len(vals)), data: data}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	data := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(data)), data: data}
}
