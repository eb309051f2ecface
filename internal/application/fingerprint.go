package application

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"strconv"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

const (
	fingerprintGrid = 16
	// fingerprintShift keeps the top 4 bits of each channel so small lossy
	// re-encoding noise lands in the same bucket.
	fingerprintShift = 4

	pixelPrefix = "p"
	rawPrefix   = "r"
)

const (
	hashSeed uint32 = 5381
	hashMult uint32 = 33
)

// PixelFingerprint hashes a coarse, quantized rendition of img. Two encodings
// of visually identical content produce the same fingerprint.
func PixelFingerprint(img image.Image) string {
	grid := image.NewRGBA(image.Rect(0, 0, fingerprintGrid, fingerprintGrid))
	draw.ApproxBiLinear.Scale(grid, grid.Bounds(), img, img.Bounds(), draw.Src, nil)

	h := hashSeed
	for _, v := range grid.Pix {
		h = h*hashMult + uint32(v>>fingerprintShift)
	}
	return pixelPrefix + strconv.FormatUint(uint64(h), 36)
}

// RawFingerprint hashes the encoded bytes as-is.
func RawFingerprint(data []byte) string {
	h := hashSeed
	for _, b := range data {
		h = h*hashMult + uint32(b)
	}
	return rawPrefix + strconv.FormatUint(uint64(h), 36)
}

// ComputeFingerprint decodes data and returns both hashes with the detected
// content type. Undecodable input returns the raw hash alongside an
// ErrInvalidRequest error.
func ComputeFingerprint(data []byte) (model.Fingerprint, string, error) {
	fp := model.Fingerprint{Raw: RawFingerprint(data)}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fp, "", fmt.Errorf("%w: decode image: %w", model.ErrInvalidRequest, err)
	}
	fp.Pixel = PixelFingerprint(img)
	return fp, "image/" + format, nil
}
