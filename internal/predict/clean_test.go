package predict

import (
	"errors"
	"math"
	"testing"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/model"
)

func constTensor(h, w int, v float32) model.Tensor {
	data := make([]float32, h*w)
	for i := range data {
		data[i] = v
	}
	return model.Tensor{Height: h, Width: w, Channels: 1, DType: model.Float32, Data: data}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		in   float32
		want uint8
	}{
		{0, 0},
		{0.05, 0},
		{0.125, 25},
		{0.25, 50},
		{0.375, 75},
		{0.5, 125},
		{0.875, 200},
		{0.999, 225},
		{1, 250},
		{1.5, 250},
		{-0.2, 0},
		{float32(math.NaN()), 0},
	}

	for _, tt := range tests {
		if got := quantize(tt.in); got != tt.want {
			t.Errorf("quantize(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestQuantizeValueSet(t *testing.T) {
	for i := -500; i <= 1500; i++ {
		v := quantize(float32(i) / 1000)
		if v%25 != 0 || v > 250 {
			t.Fatalf("quantize(%v) = %d, not in {0,25,...,250}", float32(i)/1000, v)
		}
	}
}

func TestCleanPredictionBorder(t *testing.T) {
	tests := []struct {
		name   string
		border int
		// zero reports whether pixel (x, y) of a 5x4 mask must be zeroed
		zero func(x, y int) bool
	}{
		{"no border", 0, func(x, y int) bool { return false }},
		{"one pixel", 1, func(x, y int) bool { return x == 0 || x == 4 || y == 0 || y == 3 }},
		{"wider than image", 10, func(x, y int) bool { return true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask, err := CleanPrediction(constTensor(4, 5, 1), tt.border)
			if err != nil {
				t.Fatalf("CleanPrediction failed: %v", err)
			}
			for y := 0; y < 4; y++ {
				for x := 0; x < 5; x++ {
					want := uint8(250)
					if tt.zero(x, y) {
						want = 0
					}
					if got := mask.At(x, y); got != want {
						t.Errorf("pixel (%d,%d) = %d, want %d", x, y, got, want)
					}
				}
			}
		})
	}
}

func TestCleanPredictionDoesNotAlias(t *testing.T) {
	in := constTensor(2, 2, 0.5)
	mask, err := CleanPrediction(in, 0)
	if err != nil {
		t.Fatalf("CleanPrediction failed: %v", err)
	}
	mask.Pix[0] = 0
	if in.Data[0] != 0.5 {
		t.Error("tensor data was modified")
	}
}

func TestCleanPredictionRejects(t *testing.T) {
	multi := model.Tensor{Height: 2, Width: 2, Channels: 2, DType: model.Float32, Data: make([]float32, 8)}
	if _, err := CleanPrediction(multi, 0); !errors.Is(err, ErrMultiChannel) {
		t.Errorf("multi-channel: got %v", err)
	}

	ints := constTensor(2, 2, 1)
	ints.DType = model.Uint8
	if _, err := CleanPrediction(ints, 0); !errors.Is(err, ErrNotFloat) {
		t.Errorf("uint8: got %v", err)
	}

	doubles := constTensor(2, 2, 1)
	doubles.DType = model.Float64
	if _, err := CleanPrediction(doubles, 0); err != nil {
		t.Errorf("float64 should be accepted: %v", err)
	}

	if _, err := CleanPrediction(constTensor(2, 2, 1), -1); err == nil {
		t.Error("negative border should fail")
	}
}
