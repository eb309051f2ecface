package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

// ErrUnauthorized is returned by any remote adapter when the service answers
// 401 or 403, meaning the presented credential was rejected.
var ErrUnauthorized = errors.New("credential rejected")

// IdentityProvider defines the driven port for the remote token endpoints.
// Both calls accept a refresh-token-shaped request.
type IdentityProvider interface {
	// Exchange trades a one-time login token for a fresh credential.
	Exchange(ctx context.Context, token string) (*model.TokenGrant, error)
	// Refresh renews the credential. Providers may rotate the refresh token,
	// invalidating the one presented.
	Refresh(ctx context.Context, refreshToken string) (*model.TokenGrant, error)
}
