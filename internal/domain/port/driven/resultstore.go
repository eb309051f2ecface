package driven

import (
	"context"
	"io"
)

// ResultFetcher downloads a job result from its (possibly transient) URL.
type ResultFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// ResultStore defines the driven port for durable result storage.
type ResultStore interface {
	// Put stores the result under jobID and returns a durable reference.
	Put(ctx context.Context, jobID string, r io.Reader, size int64, contentType string) (string, error)
}
