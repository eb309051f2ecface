package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

type tokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
	User         *struct {
		ID string `json:"id"`
	} `json:"user"`
}

// Exchange trades a one-time login token for a credential.
func (c *Client) Exchange(ctx context.Context, token string) (*model.TokenGrant, error) {
	return c.token(ctx, "/token/exchange", token)
}

// Refresh renews the credential with the refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*model.TokenGrant, error) {
	return c.token(ctx, "/token/refresh", refreshToken)
}

func (c *Client) token(ctx context.Context, path, token string) (*model.TokenGrant, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, c.authURL+path, "", tokenRequest{RefreshToken: token}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w", path, errors.New("response has no access token"))
	}

	userID := resp.UserID
	if userID == "" && resp.User != nil {
		userID = resp.User.ID
	}
	return &model.TokenGrant{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    seconds(resp.ExpiresIn),
		UserID:       userID,
	}, nil
}
