package dataset

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "evaltrack/internal/pkg/errors"
)

// Shape is the per-sample tensor shape in height, width, channels order.
type Shape struct {
	Height   int
	Width    int
	Channels int
}

// Size returns the number of values in one sample.
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

// Batch holds consecutive samples as one NHWC float32 tensor.
type Batch struct {
	Inputs []float32
	Labels []int
	Paths  []string
	Shape  Shape
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Labels)
}

// Loader decodes, resizes and rescales images into model inputs.
type Loader struct {
	Shape   Shape
	Rescale float64
}

// Batch loads batch number index of size batchSize from source. The final
// batch may be shorter.
func (l Loader) Batch(ctx context.Context, source *Source, index, batchSize int) (Batch, error) {
	start := index * batchSize
	if index < 0 || batchSize <= 0 || start >= source.Len() {
		return Batch{}, fmt.Errorf("batch %d of size %d is out of range", index, batchSize)
	}
	end := min(start+batchSize, source.Len())

	batch := Batch{
		Inputs: make([]float32, 0, (end-start)*l.Shape.Size()),
		Labels: make([]int, 0, end-start),
		Paths:  make([]string, 0, end-start),
		Shape:  l.Shape,
	}
	for _, sample := range source.Samples[start:end] {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		values, err := l.Load(sample.Path)
		if err != nil {
			return Batch{}, err
		}
		batch.Inputs = append(batch.Inputs, values...)
		batch.Labels = append(batch.Labels, sample.Label)
		batch.Paths = append(batch.Paths, sample.Path)
	}
	return batch, nil
}

// Load reads one image as HWC float32 values scaled by Rescale.
func (l Loader) Load(path string) ([]float32, error) {
	if l.Shape.Height <= 0 || l.Shape.Width <= 0 {
		return nil, fmt.Errorf("invalid target shape %+v", l.Shape)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.DataSourceError(fmt.Sprintf("open image %s", path), err)
	}
	defer file.Close()
	src, _, err := image.Decode(file)
	if err != nil {
		return nil, apperrors.DataSourceError(fmt.Sprintf("decode image %s", path), err)
	}

	bounds := image.Rect(0, 0, l.Shape.Width, l.Shape.Height)
	dst := image.NewNRGBA(bounds)
	if src.Bounds().Size() == bounds.Size() {
		draw.Draw(dst, bounds, src, src.Bounds().Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, bounds, src, src.Bounds(), draw.Src, nil)
	}

	scale := float32(l.Rescale)
	values := make([]float32, 0, l.Shape.Size())
	for y := 0; y < l.Shape.Height; y++ {
		for x := 0; x < l.Shape.Width; x++ {
			px := dst.NRGBAAt(x, y)
			switch l.Shape.Channels {
			case 1:
				gray := color.GrayModel.Convert(color.NRGBA{R: px.R, G: px.G, B: px.B, A: 0xff}).(color.Gray)
				values = append(values, float32(gray.Y)*scale)
			default:
				values = append(values, float32(px.R)*scale, float32(px.G)*scale, float32(px.B)*scale)
			}
		}
	}
	return values, nil
}
