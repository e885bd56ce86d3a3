package predict

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/raster"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/source"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/storage"
)

// EvalResult describes the artifacts written for one tile.
type EvalResult struct {
	Score          int // percent IoU with ground truth, or percent positive
	HasGroundTruth bool
	Keys           []string
}

type artifact struct {
	key  string
	data []byte
}

// Evaluator writes side-by-side review artifacts in evaluation mode. All
// artifacts share a zero-padded score prefix so a directory listing sorts
// them by quality.
type Evaluator struct {
	store   storage.Store
	maskDir string
	load    func(path string) ([]byte, error)
	log     *slog.Logger
}

// NewEvaluator creates an evaluator writing to store. maskDir may be empty.
func NewEvaluator(store storage.Store, maskDir string) *Evaluator {
	return &Evaluator{
		store:   store,
		maskDir: maskDir,
		load:    os.ReadFile,
		log:     slog.With("component", "evaluator"),
	}
}

// BinaryMask maps values >= threshold to 255 and everything else to 0.
func BinaryMask(m *raster.Mask, threshold uint8) *raster.Mask {
	out := raster.NewMask(m.Width, m.Height)
	for i, v := range m.Pix {
		if v >= threshold {
			out.Pix[i] = 255
		}
	}
	return out
}

// IoU returns the intersection over union of the non-zero pixels of two
// masks of equal size, in percent. Two empty masks agree completely.
func IoU(pred, truth *raster.Mask) float64 {
	var inter, union int
	for i := range pred.Pix {
		p, t := pred.Pix[i] != 0, truth.Pix[i] != 0
		if p && t {
			inter++
		}
		if p || t {
			union++
		}
	}
	if union == 0 {
		return 100
	}
	return float64(inter) / float64(union) * 100
}

// Evaluate scores mask and writes the original tile, the binary prediction
// and the ground-truth mask when one exists.
func (e *Evaluator) Evaluate(ctx context.Context, item source.WorkItem, mask *raster.Mask) (EvalResult, error) {
	bin := BinaryMask(mask, PositiveThreshold)

	var (
		res       EvalResult
		truth     *raster.Mask
		truthData []byte
		truthExt  string
	)
	if e.maskDir != "" {
		path := filepath.Join(e.maskDir, item.Name)
		data, err := e.load(path)
		switch {
		case err == nil:
			truth, err = decodeTruth(path, data)
			if err != nil {
				return EvalResult{}, err
			}
			if truth.Width != bin.Width || truth.Height != bin.Height {
				return EvalResult{}, fmt.Errorf("ground truth %s is %dx%d, prediction is %dx%d",
					path, truth.Width, truth.Height, bin.Width, bin.Height)
			}
			truthData, truthExt = data, filepath.Ext(path)
			res.HasGroundTruth = true
		case os.IsNotExist(err):
			e.log.Debug("no ground truth mask", "tile", item.Name)
		default:
			return EvalResult{}, fmt.Errorf("read ground truth %s: %w", path, err)
		}
	}

	if truth != nil {
		res.Score = int(IoU(bin, truth))
	} else {
		res.Score = bin.CountAtLeast(255) * 100 / len(bin.Pix)
	}

	original, err := e.load(item.SourcePath)
	if err != nil {
		return EvalResult{}, fmt.Errorf("read original tile: %w", err)
	}
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, bin.Gray()); err != nil {
		return EvalResult{}, fmt.Errorf("encode binary prediction: %w", err)
	}

	stem := strings.TrimSuffix(item.Name, filepath.Ext(item.Name))
	prefix := fmt.Sprintf("%03d_", res.Score)

	artifacts := []artifact{
		{prefix + item.Name, original},
		{prefix + stem + "_pred_bin.png", pngBuf.Bytes()},
	}
	if truthData != nil {
		artifacts = append(artifacts, artifact{prefix + stem + "_mask" + truthExt, truthData})
	}

	for _, a := range artifacts {
		if err := e.store.Write(ctx, a.key, a.data); err != nil {
			return EvalResult{}, fmt.Errorf("write %s: %w", a.key, err)
		}
		res.Keys = append(res.Keys, a.key)
	}
	return res, nil
}

// decodeTruth reads a ground-truth mask; pixels at or above half intensity
// in the first channel are positive.
func decodeTruth(path string, data []byte) (*raster.Mask, error) {
	decoded, err := raster.Decode(path, data)
	if err != nil {
		return nil, fmt.Errorf("decode ground truth %s: %w", path, err)
	}
	img := decoded.Image
	m := raster.NewMask(img.Width, img.Height)
	for i := range m.Pix {
		if img.Pixels[i*img.Channels] >= 0.5 {
			m.Pix[i] = 255
		}
	}
	return m, nil
}
