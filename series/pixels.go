package series

import (
	"fmt"
	"image"
)

// Pixels is the decoded pixel data of one file.
type Pixels interface {
	// Dims returns the frame count and the size of each frame.
	Dims() (frames, rows, cols int)
	// Normalized returns every sample of every frame rescaled to 0..255,
	// frame-major then row-major.
	Normalized() []uint8
}

// Volume is a frames × rows × cols buffer of single-channel samples.
type Volume[T Sample] struct {
	Frames int
	Rows   int
	Cols   int
	Data   []T
}

// NewVolume returns a single-frame volume over data.
func NewVolume[T Sample](rows, cols int, data []T) *Volume[T] {
	return &Volume[T]{Frames: 1, Rows: rows, Cols: cols, Data: data}
}

func (v *Volume[T]) Dims() (frames, rows, cols int) {
	return v.Frames, v.Rows, v.Cols
}

// Normalized rescales over the whole volume so every frame shares one
// intensity scale.
func (v *Volume[T]) Normalized() []uint8 {
	return Normalize(v.Data)
}

// firstFrame renders the first frame of p as an 8-bit grayscale image.
func firstFrame(p Pixels) (*image.Gray, error) {
	frames, rows, cols := p.Dims()
	if frames < 1 || rows < 1 || cols < 1 {
		return nil, fmt.Errorf("no pixel data (%d frames of %dx%d)", frames, rows, cols)
	}
	norm := p.Normalized()
	if len(norm) < rows*cols {
		return nil, fmt.Errorf("pixel data has %d samples, want %d", len(norm), rows*cols)
	}

	img := image.NewGray(image.Rect(0, 0, cols, rows))
	for y := range rows {
		copy(img.Pix[y*img.Stride:y*img.Stride+cols], norm[y*cols:(y+1)*cols])
	}
	return img, nil
}
