package remote

import (
	"context"
	"net/http"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

type balanceResponse struct {
	GemsRemaining *int `json:"gems_remaining"`
	Gems          *int `json:"gems"`
}

func (b balanceResponse) balance() (int, bool) {
	switch {
	case b.GemsRemaining != nil:
		return *b.GemsRemaining, true
	case b.Gems != nil:
		return *b.Gems, true
	default:
		return 0, false
	}
}

type refundRequest struct {
	TryOnID string `json:"tryon_id,omitempty"`
	JobID   string `json:"job_id"`
	Amount  int    `json:"amount"`
	Reason  string `json:"reason"`
}

// Balance fetches the authoritative credit balance.
func (c *Client) Balance(ctx context.Context, accessToken string) (int, error) {
	var resp balanceResponse
	if err := c.do(ctx, http.MethodGet, c.apiURL+"/v1/credits", accessToken, nil, &resp); err != nil {
		return 0, err
	}
	balance, ok := resp.balance()
	if !ok {
		return 0, &model.ServiceError{Status: http.StatusOK, Message: "balance missing from response"}
	}
	return balance, nil
}

// Refund restores credits for a job. ok is false when the response did not
// include the new balance.
func (c *Client) Refund(ctx context.Context, accessToken string, req model.RefundRequest) (int, bool, error) {
	body := refundRequest{
		TryOnID: req.RemoteID,
		JobID:   req.JobID,
		Amount:  req.Amount,
		Reason:  req.Reason,
	}

	var resp balanceResponse
	if err := c.do(ctx, http.MethodPost, c.apiURL+"/v1/credits/refund", accessToken, body, &resp); err != nil {
		return 0, false, err
	}
	balance, ok := resp.balance()
	return balance, ok, nil
}
