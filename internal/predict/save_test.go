package predict

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/raster"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/source"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/storage"
)

var testTransform = raster.GeoTransform{A: 0.25, C: 150000, E: -0.25, F: 200000}

func newLocalStore(t *testing.T, dir string) *storage.LocalStore {
	t.Helper()
	store, err := storage.NewLocalStore(dir, "")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return store
}

func TestSavePrediction(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newLocalStore(t, dir)

	t.Run("degenerate transform", func(t *testing.T) {
		blank := raster.NewMask(4, 4)
		for _, gt := range []*raster.GeoTransform{nil, {E: -1}} {
			if _, err := SavePrediction(ctx, store, "x_pred.tif", blank, "EPSG:31370", gt); !errors.Is(err, ErrDegenerateTransform) {
				t.Errorf("transform %+v: got %v", gt, err)
			}
		}
	})

	t.Run("below threshold is not written", func(t *testing.T) {
		m := raster.NewMask(4, 4)
		m.Set(1, 1, PositiveThreshold-25)
		gt := testTransform
		res, err := SavePrediction(ctx, store, "blank_pred.tif", m, "EPSG:31370", &gt)
		if err != nil {
			t.Fatalf("SavePrediction failed: %v", err)
		}
		if res.Written {
			t.Error("blank prediction should not be written")
		}
		if _, err := os.Stat(filepath.Join(dir, "blank_pred.tif")); !os.IsNotExist(err) {
			t.Error("blank prediction file exists")
		}
	})

	t.Run("positive is written", func(t *testing.T) {
		m := raster.NewMask(4, 4)
		m.Set(2, 3, PositiveThreshold)
		gt := testTransform
		res, err := SavePrediction(ctx, store, "sub/pos_pred.tif", m, "EPSG:31370", &gt)
		if err != nil {
			t.Fatalf("SavePrediction failed: %v", err)
		}
		if !res.Written || res.Checksum == "" {
			t.Fatalf("result = %+v", res)
		}

		path := filepath.Join(dir, "sub", "pos_pred.tif")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		decoded, err := raster.Decode(path, data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if decoded.CRS != "EPSG:31370" || *decoded.Transform != testTransform {
			t.Errorf("geo-referencing lost: %q %+v", decoded.CRS, decoded.Transform)
		}
		if got := decoded.Image.Pixels[3*4+2] * 255; got < 124.5 || got > 125.5 {
			t.Errorf("pixel value = %v, want 125", got)
		}
	})
}

func TestIoU(t *testing.T) {
	a := &raster.Mask{Width: 4, Height: 1, Pix: []uint8{255, 255, 0, 0}}
	b := &raster.Mask{Width: 4, Height: 1, Pix: []uint8{255, 0, 255, 0}}
	empty := raster.NewMask(4, 1)

	if got := IoU(a, b); got < 33.3 || got > 33.4 {
		t.Errorf("IoU(a,b) = %v", got)
	}
	if got := IoU(a, a); got != 100 {
		t.Errorf("IoU(a,a) = %v", got)
	}
	if got := IoU(empty, empty); got != 100 {
		t.Errorf("IoU(empty,empty) = %v", got)
	}
	if got := IoU(a, empty); got != 0 {
		t.Errorf("IoU(a,empty) = %v", got)
	}
}

func TestBinaryMask(t *testing.T) {
	m := &raster.Mask{Width: 3, Height: 1, Pix: []uint8{100, 125, 250}}
	bin := BinaryMask(m, PositiveThreshold)
	if !bytes.Equal(bin.Pix, []uint8{0, 255, 255}) {
		t.Errorf("BinaryMask = %v", bin.Pix)
	}
}

func TestEvaluatorWithoutGroundTruth(t *testing.T) {
	in := t.TempDir()
	srcPath := filepath.Join(in, "tile_7.jpg")
	if err := os.WriteFile(srcPath, []byte("original bytes"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	out := t.TempDir()
	e := NewEvaluator(newLocalStore(t, out), "")

	m := raster.NewMask(2, 2)
	m.Set(0, 0, 250)
	res, err := e.Evaluate(context.Background(), source.WorkItem{SourcePath: srcPath, Name: "tile_7.jpg"}, m)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Score != 25 || res.HasGroundTruth {
		t.Errorf("result = %+v", res)
	}

	copied, err := os.ReadFile(filepath.Join(out, "025_tile_7.jpg"))
	if err != nil || string(copied) != "original bytes" {
		t.Errorf("original copy = %q, %v", copied, err)
	}

	f, err := os.Open(filepath.Join(out, "025_tile_7_pred_bin.png"))
	if err != nil {
		t.Fatalf("open binary prediction: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if got := raster.MaskFromImage(img); got.At(0, 0) != 255 || got.At(1, 1) != 0 {
		t.Errorf("binary prediction = %v", got.Pix)
	}
}

func pngEncode(f *os.File, m *raster.Mask) error {
	return png.Encode(f, m.Gray())
}
