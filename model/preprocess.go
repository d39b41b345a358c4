package model

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// PreprocessNHWC resizes a frame to size×size and converts it to a
// float32 tensor in NHWC layout [1, size, size, 3] with channel values
// scaled to [0,1]. The returned slice is freshly allocated per call.
func PreprocessNHWC(f Frame, size int) ([]float32, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: invalid frame %dx%d with %d pixel bytes",
			ErrPrediction, f.Width, f.Height, len(f.Pixels))
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid input size %d", ErrPrediction, size)
	}

	src := &image.RGBA{
		Pix:    f.Pixels,
		Stride: 4 * f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}

	resized := src
	if f.Width != size || f.Height != size {
		dst := image.NewRGBA(image.Rect(0, 0, size, size))
		draw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
		resized = dst
	}

	out := make([]float32, size*size*3)
	for y := range size {
		row := resized.Pix[y*resized.Stride:]
		for x := range size {
			p := row[x*4:]
			o := (y*size + x) * 3
			out[o+0] = float32(p[0]) / 255
			out[o+1] = float32(p[1]) / 255
			out[o+2] = float32(p[2]) / 255
		}
	}
	return out, nil
}
