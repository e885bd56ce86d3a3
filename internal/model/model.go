// Package model defines the inference collaborator used by the predictor.
package model

import (
	"context"
	"fmt"
)

// DType is the element type a model reports for its output.
type DType string

const (
	Float32 DType = "float32"
	Float64 DType = "float64"
	Uint8   DType = "uint8"
)

// IsFloat reports whether d is a floating-point type.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// Tensor is one tile of model output, channel-last.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	DType    DType
	Data     []float32
}

// At returns the value at row y, column x, channel c.
func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// Validate checks that Data matches the declared shape.
func (t Tensor) Validate() error {
	if t.Height <= 0 || t.Width <= 0 || t.Channels <= 0 {
		return fmt.Errorf("invalid tensor shape %dx%dx%d", t.Height, t.Width, t.Channels)
	}
	if want := t.Height * t.Width * t.Channels; len(t.Data) != want {
		return fmt.Errorf("tensor has %d values, shape %dx%dx%d needs %d",
			len(t.Data), t.Height, t.Width, t.Channels, want)
	}
	return nil
}

// Batch is the 4-D model input (N, H, W, C). Every image in a batch has
// the same shape.
type Batch struct {
	Height   int
	Width    int
	Channels int
	Images   [][]float32 // one channel-last slice per tile
}

// Len returns the number of images in the batch.
func (b Batch) Len() int {
	return len(b.Images)
}

// Model runs inference on a batch and returns one tensor per image, in
// input order.
type Model interface {
	Predict(ctx context.Context, batch Batch) ([]Tensor, error)
}
