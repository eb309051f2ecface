// Package imaging implements the ImageCompressor port.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ImageCompressor = (*Compressor)(nil)

const (
	defaultMaxEdge = 1536
	minEdge        = 256
)

var qualitySteps = []int{85, 75, 65, 55}

// Compressor re-encodes images as JPEG, downscaling and lowering quality
// until the output fits.
type Compressor struct {
	maxEdge int
}

// NewCompressor creates a Compressor that never emits an edge longer than
// maxEdge pixels. A non-positive maxEdge selects 1536.
func NewCompressor(maxEdge int) *Compressor {
	if maxEdge <= 0 {
		maxEdge = defaultMaxEdge
	}
	return &Compressor{maxEdge: maxEdge}
}

// Compress returns a JPEG no larger than maxBytes when one can be produced at
// or above the minimum edge length. Otherwise it returns the smallest
// encoding it tried.
func (c *Compressor) Compress(ctx context.Context, data []byte, maxBytes int) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode image: %w", model.ErrInvalidRequest, err)
	}

	var smallest []byte
	for edge := c.maxEdge; ; edge /= 2 {
		scaled := fit(img, edge)
		for _, q := range qualitySteps {
			if err := ctx.Err(); err != nil {
				return nil, "", err
			}

			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: q}); err != nil {
				return nil, "", fmt.Errorf("encode jpeg: %w", err)
			}
			if buf.Len() <= maxBytes {
				return buf.Bytes(), "image/jpeg", nil
			}
			if smallest == nil || buf.Len() < len(smallest) {
				smallest = buf.Bytes()
			}
		}
		if edge/2 < minEdge {
			return smallest, "image/jpeg", nil
		}
	}
}

// fit scales img so its longest edge is at most edge, flattening any
// transparency onto white.
func fit(img image.Image, edge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if longest := max(w, h); longest > edge {
		w = max(1, w*edge/longest)
		h = max(1, h*edge/longest)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
