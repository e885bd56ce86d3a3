package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/tiff"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/metrics"
)

var (
	// ErrReadFailed is returned when every read attempt failed.
	ErrReadFailed = errors.New("tile read failed")

	// ErrMissingProjection is returned when a tile has no CRS and no
	// fallback projection is configured.
	ErrMissingProjection = errors.New("tile has no projection")
)

// Image is a decoded tile.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pixels   []float32 // channel-last, normalised to [0,1]
}

// ReadResult is a decoded tile with its geo-referencing.
type ReadResult struct {
	Path      string
	Image     Image
	CRS       string
	Transform *GeoTransform // nil when the tile carries none
}

// ReaderConfig configures a TileReader.
type ReaderConfig struct {
	// ProjectionIfMissing is used when a tile has no CRS of its own.
	ProjectionIfMissing string

	// Attempts is the number of read attempts per tile.
	Attempts int

	// Backoff is the delay before the first retry; it doubles per retry.
	Backoff time.Duration

	// Load reads the raw file. Defaults to os.ReadFile.
	Load func(path string) ([]byte, error)

	Logger *slog.Logger
}

// TileReader reads tiles from the local filesystem with retries.
type TileReader struct {
	cfg ReaderConfig
	log *slog.Logger
}

// NewTileReader creates a reader, filling defaults.
func NewTileReader(cfg ReaderConfig) *TileReader {
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.Load == nil {
		cfg.Load = os.ReadFile
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TileReader{cfg: cfg, log: logger.With("component", "tile-reader")}
}

// Read loads and decodes the tile at path. Transient failures are retried
// up to the configured number of attempts.
func (r *TileReader) Read(ctx context.Context, path string) (*ReadResult, error) {
	start := time.Now()
	backoff := r.cfg.Backoff

	var (
		res     *ReadResult
		lastErr error
	)
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		res, lastErr = r.readOnce(path)
		if lastErr == nil {
			break
		}
		if attempt == r.cfg.Attempts {
			break
		}

		r.log.Warn("tile read failed, retrying",
			"path", path,
			"attempt", attempt,
			"error", lastErr)
		if m := metrics.Get(); m != nil {
			m.IncReadRetries()
		}

		if backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	if lastErr != nil {
		if m := metrics.Get(); m != nil {
			m.IncReadFailures()
		}
		return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrReadFailed, path, r.cfg.Attempts, lastErr)
	}

	if res.CRS == "" {
		if r.cfg.ProjectionIfMissing == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingProjection, path)
		}
		res.CRS = r.cfg.ProjectionIfMissing
	}

	if m := metrics.Get(); m != nil {
		m.ObserveRead(time.Since(start).Seconds())
	}
	return res, nil
}

func (r *TileReader) readOnce(path string) (*ReadResult, error) {
	data, err := r.cfg.Load(path)
	if err != nil {
		return nil, err
	}
	return Decode(path, data)
}

// Decode decodes an image file and its geo-referencing. TIFF files carry
// their own GeoTIFF tags; other formats use world file and .prj sidecars.
func Decode(path string, data []byte) (*ReadResult, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		img      image.Image
		err      error
		channels int
		res      = &ReadResult{Path: path}
	)
	switch ext {
	case ".tif", ".tiff":
		img, err = tiff.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode tiff: %w", err)
		}
		tags, err := readGeoTags(data)
		if err != nil {
			return nil, fmt.Errorf("read geotiff tags: %w", err)
		}
		res.Transform = tags.transform()
		res.CRS = tags.crs()
		if _, paletted := img.(*image.Paletted); !paletted {
			channels = tags.samplesPerPixel
		}
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	case ".png":
		img, err = png.Decode(bytes.NewReader(data))
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ext, err)
	}

	if res.Transform == nil {
		if res.Transform, err = readWorldFile(path); err != nil {
			return nil, err
		}
	}
	if res.CRS == "" {
		res.CRS = readPrjFile(path)
	}

	if channels <= 0 || channels > 4 {
		channels = channelsOf(img)
	}
	res.Image = toChannelLast(img, channels)
	return res, nil
}

func channelsOf(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.NRGBA, *image.NRGBA64:
		return 4
	default:
		return 3
	}
}

// toChannelLast flattens img into [height][width][channels] float32 values
// scaled to [0,1].
func toChannelLast(img image.Image, channels int) Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := Image{Width: w, Height: h, Channels: channels, Pixels: make([]float32, w*h*channels)}

	if g, ok := img.(*image.Gray); ok && channels == 1 {
		for y := 0; y < h; y++ {
			off := g.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				out.Pixels[y*w+x] = float32(g.Pix[off+x]) / 255
			}
		}
		return out
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			if channels == 1 {
				out.Pixels[i] = float32(color.GrayModel.Convert(c).(color.Gray).Y) / 255
				i++
				continue
			}
			n := color.NRGBAModel.Convert(c).(color.NRGBA)
			px := [4]uint8{n.R, n.G, n.B, n.A}
			for ch := 0; ch < channels; ch++ {
				out.Pixels[i] = float32(px[ch]) / 255
				i++
			}
		}
	}
	return out
}
