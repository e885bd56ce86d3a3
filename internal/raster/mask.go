package raster

import (
	"image"
	"image/color"
)

// Mask is a single-band 8-bit raster, row-major.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask allocates a zeroed mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At returns the value at column x, row y.
func (m *Mask) At(x, y int) uint8 {
	return m.Pix[y*m.Width+x]
}

// Set stores v at column x, row y.
func (m *Mask) Set(x, y int, v uint8) {
	m.Pix[y*m.Width+x] = v
}

// Max returns the largest value in the mask.
func (m *Mask) Max() uint8 {
	var max uint8
	for _, v := range m.Pix {
		if v > max {
			max = v
		}
	}
	return max
}

// CountAtLeast counts pixels with value >= threshold.
func (m *Mask) CountAtLeast(threshold uint8) int {
	n := 0
	for _, v := range m.Pix {
		if v >= threshold {
			n++
		}
	}
	return n
}

// Gray wraps the mask as an image without copying.
func (m *Mask) Gray() *image.Gray {
	return &image.Gray{
		Pix:    m.Pix,
		Stride: m.Width,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}

// MaskFromImage converts any image to a single-band mask.
func MaskFromImage(img image.Image) *Mask {
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < m.Height; y++ {
			off := g.PixOffset(b.Min.X, b.Min.Y+y)
			copy(m.Pix[y*m.Width:(y+1)*m.Width], g.Pix[off:off+m.Width])
		}
		return m
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.Pix[y*m.Width+x] = c.Y
		}
	}
	return m
}
