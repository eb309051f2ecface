package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ResultFetcher = (*ResultFetcher)(nil)

const (
	maxResultBytes     = 32 << 20
	resultFetchTimeout = 60 * time.Second
)

// ResultFetcher downloads result images through an in-memory HTTP cache, so
// verifying and then materializing a result costs one download.
type ResultFetcher struct {
	http *http.Client
}

// NewResultFetcher creates a ResultFetcher. base is the underlying transport;
// nil selects http.DefaultTransport.
func NewResultFetcher(base http.RoundTripper) *ResultFetcher {
	cache := httpcache.NewMemoryCacheTransport()
	if base != nil {
		cache.Transport = base
	}
	return &ResultFetcher{http: &http.Client{Transport: cache, Timeout: resultFetchTimeout}}
}

// Fetch returns the body and content type at url.
func (f *ResultFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", fmt.Errorf("%w: fetch result: %w", model.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, "", &model.ServiceError{Status: resp.StatusCode, Message: "fetch result"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read result: %w", model.ErrNetwork, err)
	}
	if len(data) > maxResultBytes {
		return nil, "", fmt.Errorf("result exceeds %d bytes", maxResultBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
