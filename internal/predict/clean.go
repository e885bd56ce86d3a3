package predict

import (
	"fmt"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/model"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/raster"
)

// CleanPrediction quantizes a single-channel probability map into the
// values {0, 25, ..., 250} and zeroes a margin of border pixels on every
// side. border == 0 leaves the mask untouched.
func CleanPrediction(t model.Tensor, border int) (*raster.Mask, error) {
	if t.Channels != 1 {
		return nil, fmt.Errorf("%w: %d", ErrMultiChannel, t.Channels)
	}
	if !t.DType.IsFloat() {
		return nil, fmt.Errorf("%w: %s", ErrNotFloat, t.DType)
	}
	if border < 0 {
		return nil, fmt.Errorf("negative border width %d", border)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	mask := raster.NewMask(t.Width, t.Height)
	for i, v := range t.Data {
		mask.Pix[i] = quantize(v)
	}
	if border > 0 {
		zeroBorder(mask, border)
	}
	return mask, nil
}

// quantize truncates v*10 to an integer and scales by 25.
func quantize(v float32) uint8 {
	if v != v || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 250
	}
	return uint8(v*10) * 25
}

func zeroBorder(m *raster.Mask, border int) {
	rows := min(border, m.Height)
	cols := min(border, m.Width)

	for y := 0; y < rows; y++ {
		clear(m.Pix[y*m.Width : (y+1)*m.Width])
		bottom := m.Height - 1 - y
		clear(m.Pix[bottom*m.Width : (bottom+1)*m.Width])
	}
	for y := 0; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		clear(row[:cols])
		clear(row[m.Width-cols:])
	}
}
