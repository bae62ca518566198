// Package dcm decodes DICOM files with github.com/suyashkumar/dicom.
package dcm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // encapsulated baseline JPEG frames
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/pnavin9/MedCompanion/series"
)

// ErrNoPixelData is returned for files without a PixelData element.
var ErrNoPixelData = errors.New("no pixel data")

// Decoder implements series.Decoder.
type Decoder struct{}

// New returns a Decoder.
func New() *Decoder {
	return &Decoder{}
}

// Decode parses path and returns the attributes the metadata extractor
// reads plus the pixel volume. Native frames are used as-is; encapsulated
// frames are decoded when the image package can read them. Multi-sample
// pixels are averaged into one grey sample.
func (d *Decoder) Decode(ctx context.Context, path string) (*series.Decoded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing dicom: %w", err)
	}

	tags := series.Tags{}
	for _, key := range series.Keys() {
		g, e := key.Tag()
		el, err := ds.FindElementByTag(tag.Tag{Group: g, Element: e})
		if err != nil {
			continue
		}
		if v, ok := convertElement(el); ok {
			tags[key] = v
		}
	}

	pixEl, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, ErrNoPixelData
	}
	vol, err := volume(pixEl)
	if err != nil {
		return nil, err
	}

	return &series.Decoded{Tags: tags, Pixels: vol}, nil
}

// convertElement maps an element value onto the series value types.
// Decimal and integer strings become numbers; single values become scalars.
func convertElement(el *dicom.Element) (series.Value, bool) {
	if el == nil || el.Value == nil {
		return nil, false
	}
	vr := strings.ToUpper(el.RawValueRepresentation)

	switch el.Value.ValueType() {
	case dicom.Strings:
		raw, ok := el.Value.GetValue().([]string)
		if !ok {
			return nil, false
		}
		vals := make(series.Sequence, len(raw))
		for i, s := range raw {
			vals[i] = stringValue(vr, s)
		}
		return collapse(vals), true

	case dicom.Ints:
		raw, ok := el.Value.GetValue().([]int)
		if !ok {
			return nil, false
		}
		vals := make(series.Sequence, len(raw))
		for i, n := range raw {
			vals[i] = series.Number(n)
		}
		return collapse(vals), true

	case dicom.Floats:
		raw, ok := el.Value.GetValue().([]float64)
		if !ok {
			return nil, false
		}
		vals := make(series.Sequence, len(raw))
		for i, f := range raw {
			vals[i] = series.Number(f)
		}
		return collapse(vals), true

	case dicom.Bytes:
		raw, ok := el.Value.GetValue().([]byte)
		if !ok {
			return nil, false
		}
		return series.Bytes(raw), true
	}
	return nil, false
}

func stringValue(vr, s string) series.Value {
	s = strings.Trim(s, " \x00")
	if vr == "DS" || vr == "IS" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return series.Number(f)
		}
	}
	return series.String(s)
}

// collapse turns zero or one values into a scalar.
func collapse(vals series.Sequence) series.Value {
	switch len(vals) {
	case 0:
		return series.String("")
	case 1:
		return vals[0]
	default:
		return vals
	}
}

// volume flattens every frame of the pixel element into one volume.
func volume(el *dicom.Element) (*series.Volume[int], error) {
	if el.Value == nil || el.Value.ValueType() != dicom.PixelData {
		return nil, ErrNoPixelData
	}
	info := dicom.MustGetPixelDataInfo(el.Value)
	if len(info.Frames) == 0 {
		return nil, ErrNoPixelData
	}

	vol := &series.Volume[int]{}
	for i := range info.Frames {
		fr := info.Frames[i]
		var (
			rows, cols int
			data       []int
			err        error
		)
		if fr.Encapsulated {
			rows, cols, data, err = encapsulatedSamples(fr.GetImage())
		} else {
			rows, cols, data, err = nativeSamples(fr.NativeData.Rows, fr.NativeData.Cols, fr.NativeData.Data)
		}
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if i == 0 {
			vol.Rows, vol.Cols = rows, cols
		} else if rows != vol.Rows || cols != vol.Cols {
			return nil, fmt.Errorf("frame %d is %dx%d, want %dx%d", i, rows, cols, vol.Rows, vol.Cols)
		}
		vol.Data = append(vol.Data, data...)
		vol.Frames++
	}
	return vol, nil
}

func nativeSamples(rows, cols int, pixels [][]int) (int, int, []int, error) {
	if rows*cols == 0 || len(pixels) < rows*cols {
		return 0, 0, nil, fmt.Errorf("native frame has %d pixels, want %dx%d", len(pixels), rows, cols)
	}
	data := make([]int, rows*cols)
	for i := range data {
		px := pixels[i]
		switch len(px) {
		case 0:
		case 1:
			data[i] = px[0]
		default:
			sum := 0
			for _, s := range px {
				sum += s
			}
			data[i] = sum / len(px)
		}
	}
	return rows, cols, data, nil
}

func encapsulatedSamples(img image.Image, err error) (int, int, []int, error) {
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decoding encapsulated frame: %w", err)
	}
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	data := make([]int, 0, rows*cols)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			data = append(data, int(g.Y))
		}
	}
	return rows, cols, data, nil
}

var _ series.Decoder = (*Decoder)(nil)
