package driven

import "context"

// ImageCompressor shrinks an encoded image below maxBytes. It returns the new
// bytes and their content type.
type ImageCompressor interface {
	Compress(ctx context.Context, data []byte, maxBytes int) ([]byte, string, error)
}
