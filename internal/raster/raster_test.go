package raster

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testMask(w, h int) *Mask {
	m := NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(x, y, uint8((x*7+y*3)%251))
		}
	}
	return m
}

func decodeMask(t *testing.T, data []byte) (*ReadResult, *Mask) {
	t.Helper()
	res, err := Decode("pred.tif", data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if res.Image.Channels != 1 {
		t.Fatalf("channels = %d, want 1", res.Image.Channels)
	}
	m := NewMask(res.Image.Width, res.Image.Height)
	for i, v := range res.Image.Pixels {
		m.Pix[i] = uint8(math.Round(float64(v) * 255))
	}
	return res, m
}

func TestEncodeGeoTIFFRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		crs  string
		gt   GeoTransform
	}{
		{"projected north-up", "EPSG:31370", GeoTransform{A: 0.25, C: 150000, E: -0.25, F: 200000}},
		{"geographic", "EPSG:4326", GeoTransform{A: 0.0001, C: 4.35, E: -0.0001, F: 50.85}},
		{"rotated", "EPSG:3857", GeoTransform{A: 1, B: 0.5, C: 10, D: 0.5, E: -1, F: 20}},
		{"citation", "Belge 1972 / Belgian Lambert 72", GeoTransform{A: 2, C: 1, E: -2, F: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 300 rows of 37 pixels spans several strips
			src := testMask(37, 300)
			gt := tt.gt
			data, err := EncodeGeoTIFF(src, tt.crs, &gt)
			if err != nil {
				t.Fatalf("EncodeGeoTIFF failed: %v", err)
			}

			res, got := decodeMask(t, data)
			if got.Width != src.Width || got.Height != src.Height {
				t.Fatalf("size = %dx%d, want %dx%d", got.Width, got.Height, src.Width, src.Height)
			}
			for i := range src.Pix {
				if got.Pix[i] != src.Pix[i] {
					t.Fatalf("pixel %d = %d, want %d", i, got.Pix[i], src.Pix[i])
				}
			}
			if res.CRS != tt.crs {
				t.Errorf("CRS = %q, want %q", res.CRS, tt.crs)
			}
			if res.Transform == nil || *res.Transform != tt.gt {
				t.Errorf("Transform = %+v, want %+v", res.Transform, tt.gt)
			}
		})
	}
}

func TestEncodeGeoTIFFRejectsDegenerateTransform(t *testing.T) {
	m := testMask(4, 4)
	if _, err := EncodeGeoTIFF(m, "EPSG:31370", nil); !errors.Is(err, ErrNoTransform) {
		t.Errorf("nil transform: got %v", err)
	}
	if _, err := EncodeGeoTIFF(m, "EPSG:31370", &GeoTransform{E: -1}); !errors.Is(err, ErrNoTransform) {
		t.Errorf("zero pixel width: got %v", err)
	}
}

func TestTileReaderRetries(t *testing.T) {
	data, err := EncodeGeoTIFF(testMask(8, 8), "EPSG:31370", &GeoTransform{A: 1, E: -1})
	if err != nil {
		t.Fatalf("EncodeGeoTIFF failed: %v", err)
	}

	t.Run("succeeds on third attempt", func(t *testing.T) {
		calls := 0
		r := NewTileReader(ReaderConfig{
			Attempts: 3,
			Load: func(string) ([]byte, error) {
				calls++
				if calls < 3 {
					return nil, errors.New("transient")
				}
				return data, nil
			},
		})
		res, err := r.Read(context.Background(), "tile.tif")
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if res.Image.Width != 8 || calls != 3 {
			t.Errorf("width=%d calls=%d", res.Image.Width, calls)
		}
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		r := NewTileReader(ReaderConfig{
			Attempts: 3,
			Load: func(string) ([]byte, error) {
				calls++
				return []byte("not an image"), nil
			},
		})
		_, err := r.Read(context.Background(), "tile.tif")
		if !errors.Is(err, ErrReadFailed) {
			t.Fatalf("expected ErrReadFailed, got %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})
}

func TestTileReaderProjection(t *testing.T) {
	data, err := EncodeGeoTIFF(testMask(4, 4), "", &GeoTransform{A: 1, E: -1})
	if err != nil {
		t.Fatalf("EncodeGeoTIFF failed: %v", err)
	}
	load := func(string) ([]byte, error) { return data, nil }

	r := NewTileReader(ReaderConfig{Load: load})
	if _, err := r.Read(context.Background(), "tile.tif"); !errors.Is(err, ErrMissingProjection) {
		t.Errorf("expected ErrMissingProjection, got %v", err)
	}

	r = NewTileReader(ReaderConfig{Load: load, ProjectionIfMissing: "EPSG:31370"})
	res, err := r.Read(context.Background(), "tile.tif")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if res.CRS != "EPSG:31370" {
		t.Errorf("CRS = %q", res.CRS)
	}
}

func TestDecodePNGWithSidecars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tile.png")

	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: uint8(x * 100), B: 0, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	f.Close()

	world := "0.5\n0\n0\n-0.5\n100.25\n199.75\n"
	if err := os.WriteFile(filepath.Join(dir, "tile.pgw"), []byte(world), 0644); err != nil {
		t.Fatalf("write world file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tile.prj"), []byte("EPSG:31370\n"), 0644); err != nil {
		t.Fatalf("write prj: %v", err)
	}

	r := NewTileReader(ReaderConfig{})
	res, err := r.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if res.Image.Channels != 3 || len(res.Image.Pixels) != 3*2*3 {
		t.Fatalf("image = %dx%dx%d", res.Image.Width, res.Image.Height, res.Image.Channels)
	}
	// pixel (1,0): R=1, G=100/255
	if got := res.Image.Pixels[3+1]; math.Abs(float64(got)-100.0/255) > 1e-6 {
		t.Errorf("G at (1,0) = %v", got)
	}
	want := GeoTransform{A: 0.5, C: 100, E: -0.5, F: 200}
	if res.Transform == nil || *res.Transform != want {
		t.Errorf("Transform = %+v, want %+v", res.Transform, want)
	}
	if res.CRS != "EPSG:31370" {
		t.Errorf("CRS = %q", res.CRS)
	}
}

func TestMaskHelpers(t *testing.T) {
	m := NewMask(3, 1)
	m.Pix = []uint8{0, 125, 250}
	if m.Max() != 250 {
		t.Errorf("Max = %d", m.Max())
	}
	if n := m.CountAtLeast(125); n != 2 {
		t.Errorf("CountAtLeast = %d", n)
	}
	back := MaskFromImage(m.Gray())
	if back.At(1, 0) != 125 {
		t.Errorf("MaskFromImage lost values: %v", back.Pix)
	}
}
