package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
)

// ErrUnsupported is returned by rasterizers that have no raster surface.
var ErrUnsupported = errors.New("rasterization not supported")

// Rasterizer turns a symbol into PNG bytes of roughly size pixels square.
type Rasterizer interface {
	Rasterize(s *Symbol, size int) ([]byte, error)
}

// PNGRasterizer draws the symbol with nearest-neighbour scaling so module
// edges stay sharp.
type PNGRasterizer struct{}

// Rasterize renders s to a PNG. The output is never smaller than one pixel
// per module.
func (PNGRasterizer) Rasterize(s *Symbol, size int) ([]byte, error) {
	n := s.Size()
	if n == 0 {
		return nil, fmt.Errorf("empty symbol")
	}
	if size < n {
		size = n
	}

	src := image.NewGray(image.Rect(0, 0, n, n))
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			c := color.Gray{Y: 0xff}
			if s.Dark(x, y) {
				c = color.Gray{Y: 0}
			}
			src.SetGray(x, y, c)
		}
	}

	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Unsupported is the rasterizer for runtimes without a raster surface.
type Unsupported struct{}

// Rasterize always fails with ErrUnsupported.
func (Unsupported) Rasterize(*Symbol, int) ([]byte, error) {
	return nil, ErrUnsupported
}
