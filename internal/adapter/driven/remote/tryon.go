package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

type tryOnItem struct {
	Image    string `json:"image"`
	Category string `json:"category,omitempty"`
	Name     string `json:"name,omitempty"`
}

type tryOnRequest struct {
	SubjectImage string      `json:"subject_image"`
	Items        []tryOnItem `json:"items"`
	Quality      string      `json:"quality"`
	Mock         bool        `json:"mock,omitempty"`
}

type tryOnResponse struct {
	ResultImageURL string     `json:"result_image_url"`
	GemsUsed       int        `json:"gems_used"`
	GemsRemaining  int        `json:"gems_remaining"`
	TryOnID        flexibleID `json:"tryon_id"`
}

// flexibleID accepts an identifier encoded as either a JSON string or number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// Submit sends one try-on job and waits for its result.
func (c *Client) Submit(ctx context.Context, accessToken string, payload model.Payload) (*model.JobResponse, error) {
	req := tryOnRequest{
		SubjectImage: payload.SubjectImage,
		Items:        make([]tryOnItem, 0, len(payload.Items)),
		Quality:      string(payload.Tier),
		Mock:         payload.Mock,
	}
	for _, item := range payload.Items {
		req.Items = append(req.Items, tryOnItem{Image: item.Image, Category: item.Category, Name: item.Name})
	}

	var resp tryOnResponse
	if err := c.do(ctx, http.MethodPost, c.apiURL+"/v1/tryon", accessToken, req, &resp); err != nil {
		return nil, err
	}

	return &model.JobResponse{
		ResultImageURL: strings.TrimSpace(resp.ResultImageURL),
		CreditsUsed:    resp.GemsUsed,
		CreditsLeft:    resp.GemsRemaining,
		RemoteID:       string(resp.TryOnID),
	}, nil
}

// Ping issues the lightweight health call used as a keep-alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.apiURL+"/v1/health", "", nil, nil)
}
