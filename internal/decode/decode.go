// Package decode provides the default image-decoding collaborator: a
// concurrency-safe, cancellable decoder for the registered standard
// image formats, producing RGBA buffers for the cache's cost model.
package decode

import (
	"context"
	"image"
	"image/draw"
	"os"

	// Register the standard formats with image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/lumaview/lumaview/pkg/types"
)

// rgbaBytesPerPixel matches the cost model: every decoded image is
// normalized to 8-bit RGBA.
const rgbaBytesPerPixel = 4

// FileDecoder decodes images from the filesystem path carried by the
// item descriptor. Safe for concurrent use.
type FileDecoder struct{}

// NewFileDecoder creates a decoder for the registered image formats.
func NewFileDecoder() *FileDecoder {
	return &FileDecoder{}
}

var _ types.Decoder = (*FileDecoder)(nil)

// Decode reads and decodes one item. Cancellation is checked before the
// read and again before the pixel conversion; the decode itself is not
// interruptible, which keeps the contract best-effort.
func (d *FileDecoder) Decode(ctx context.Context, item types.ItemDescriptor) (*types.ImageBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(item.Path)
	if err != nil {
		return nil, &types.DecodeError{Item: item, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &types.DecodeError{Item: item, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return ToBuffer(img), nil
}

// ToBuffer normalizes a decoded image into an owned RGBA buffer.
func ToBuffer(img image.Image) *types.ImageBuffer {
	bounds := img.Bounds()

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*rgbaBytesPerPixel || !bounds.Min.Eq(image.Point{}) {
		normalized := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(normalized, normalized.Bounds(), img, bounds.Min, draw.Src)
		rgba = normalized
	}

	return &types.ImageBuffer{
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		BytesPerPixel: rgbaBytesPerPixel,
		Pix:           rgba.Pix,
	}
}
