// Package remote implements the identity, compute, credit, and keep-alive
// ports against the try-on HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.IdentityProvider = (*Client)(nil)
	_ driven.TryOnService     = (*Client)(nil)
	_ driven.CreditService    = (*Client)(nil)
	_ driven.KeepAlive        = (*Client)(nil)
)

// maxResponseBytes caps JSON response bodies.
const maxResponseBytes = 1 << 20

// Client talks to the compute API and the identity endpoints. It carries no
// credential of its own; every authenticated call takes the access token as
// an argument.
type Client struct {
	http    *http.Client
	apiURL  string
	authURL string
}

// NewClient creates a Client. The http.Client has no overall timeout because
// compute calls are bounded by the caller's context.
func NewClient(apiURL, authURL string) (*Client, error) {
	return NewClientWithHTTPClient(&http.Client{}, apiURL, authURL)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, apiURL, authURL string) (*Client, error) {
	api, err := normalizeBaseURL(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parsing api URL: %w", err)
	}
	auth, err := normalizeBaseURL(authURL)
	if err != nil {
		return nil, fmt.Errorf("parsing auth URL: %w", err)
	}
	return &Client{http: httpClient, apiURL: api, authURL: auth}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// errorBody is the error envelope used by both services.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// do sends a JSON request and decodes a JSON response into out. A 401 or 403
// becomes driven.ErrUnauthorized, other non-2xx statuses a *model.ServiceError.
func (c *Client) do(ctx context.Context, method, endpoint, accessToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %w", model.ErrNetwork, method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return fmt.Errorf("%s %s: %w", method, endpoint, driven.ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeServiceError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return nil
}

func decodeServiceError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	var eb errorBody
	msg := ""
	if json.Unmarshal(raw, &eb) == nil {
		msg = eb.Message
		if msg == "" {
			msg = eb.Error
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	return &model.ServiceError{Status: resp.StatusCode, Message: msg}
}

// seconds converts a JSON seconds count to a duration.
func seconds(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
