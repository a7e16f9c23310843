// Package encoder renders pass codes as QR images and stores them.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Phase errors. A failure in one phase never reports as the other.
var (
	ErrRasterize = errors.New("rasterizing QR image")
	ErrUpload    = errors.New("uploading QR image")
)

// DefaultSize is the raster size in pixels.
const DefaultSize = 256

// Uploader stores a rendered pass image and returns its public location.
type Uploader interface {
	UploadPassImage(ctx context.Context, code string, png []byte) (string, error)
}

// Encoder renders, rasterizes and uploads pass images, strictly in that
// order.
type Encoder struct {
	raster Rasterizer
	upload Uploader
	size   int
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithRasterizer replaces the default PNG rasterizer.
func WithRasterizer(r Rasterizer) Option {
	return func(e *Encoder) { e.raster = r }
}

// WithSize sets the raster size in pixels.
func WithSize(px int) Option {
	return func(e *Encoder) {
		if px > 0 {
			e.size = px
		}
	}
}

// New returns an encoder that uploads through up.
func New(up Uploader, opts ...Option) *Encoder {
	e := &Encoder{raster: PNGRasterizer{}, upload: up, size: DefaultSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supported reports whether this encoder can produce raster images.
func (e *Encoder) Supported() bool {
	switch e.raster.(type) {
	case Unsupported, *Unsupported:
		return false
	}
	return true
}

// PNG renders and rasterizes code without uploading.
func (e *Encoder) PNG(code string) ([]byte, error) {
	sym, err := Render(code)
	if err != nil {
		return nil, err
	}
	data, err := e.raster.Rasterize(sym, e.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRasterize, err)
	}
	return data, nil
}

// EncodeAndStore renders code, rasterizes it and uploads the bitmap,
// returning the stored image location. The upload only starts once the
// raster bytes exist.
func (e *Encoder) EncodeAndStore(ctx context.Context, code string) (string, error) {
	data, err := e.PNG(code)
	if err != nil {
		return "", err
	}

	url, err := e.upload.UploadPassImage(ctx, code, data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	slog.Debug("pass image stored", "bytes", len(data), "url", url)
	return url, nil
}
