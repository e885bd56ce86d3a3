// Package raster reads geo-referenced tiles and writes single-band
// prediction rasters as GeoTIFF.
package raster

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// GeoTransform is an affine pixel-to-world transform in rasterio order:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type GeoTransform struct {
	A, B, C float64
	D, E, F float64
}

// Degenerate reports whether the transform cannot geo-reference a raster.
func (g *GeoTransform) Degenerate() bool {
	return g == nil || g.A == 0
}

// Apply maps pixel (col,row) to world coordinates.
func (g GeoTransform) Apply(col, row float64) (x, y float64) {
	return g.A*col + g.B*row + g.C, g.D*col + g.E*row + g.F
}

// North-up transforms are stored as scale + tiepoint; rotated ones need the
// full model transformation matrix.
func (g GeoTransform) northUp() bool {
	return g.B == 0 && g.D == 0
}

// EPSGCode returns the numeric code of an "EPSG:n" identifier.
func EPSGCode(crs string) (int, bool) {
	upper := strings.ToUpper(strings.TrimSpace(crs))
	if !strings.HasPrefix(upper, "EPSG:") {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimPrefix(upper, "EPSG:"))
	if err != nil || code <= 0 || code >= userDefined {
		return 0, false
	}
	return code, true
}

// worldFileExts lists sidecar extensions tried for each image extension.
var worldFileExts = map[string][]string{
	".jpg":  {".jgw", ".jpgw", ".wld"},
	".jpeg": {".jgw", ".jpegw", ".wld"},
	".png":  {".pgw", ".pngw", ".wld"},
	".tif":  {".tfw", ".tifw", ".wld"},
	".tiff": {".tfw", ".tiffw", ".wld"},
}

// readWorldFile looks for a world file next to path. The world file gives
// the centre of the upper-left pixel; the returned transform uses its corner.
func readWorldFile(path string) (*GeoTransform, error) {
	ext := strings.ToLower(filepath.Ext(path))
	stem := strings.TrimSuffix(path, filepath.Ext(path))

	for _, sidecar := range worldFileExts[ext] {
		data, err := os.ReadFile(stem + sidecar)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read world file: %w", err)
		}
		return parseWorldFile(data)
	}
	return nil, nil
}

func parseWorldFile(data []byte) (*GeoTransform, error) {
	var vals []float64
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("world file value %q: %w", line, err)
		}
		vals = append(vals, v)
	}
	if len(vals) != 6 {
		return nil, fmt.Errorf("world file has %d values, want 6", len(vals))
	}

	a, d, b, e, c, f := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
	return &GeoTransform{
		A: a, B: b, C: c - a/2 - b/2,
		D: d, E: e, F: f - d/2 - e/2,
	}, nil
}

// readPrjFile returns the WKT of an ESRI .prj sidecar, or "".
func readPrjFile(path string) string {
	data, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
