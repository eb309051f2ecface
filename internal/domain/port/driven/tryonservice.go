package driven

import (
	"context"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

// TryOnService defines the driven port for the remote compute service.
//
// Submit returns ErrUnauthorized when the access token is rejected, a
// *model.ServiceError for other non-success responses, and wraps
// model.ErrNetwork for transport failures. Context errors are returned
// unwrapped so callers can tell a timeout from a transport failure.
type TryOnService interface {
	Submit(ctx context.Context, accessToken string, payload model.Payload) (*model.JobResponse, error)
}

// KeepAlive is a lightweight call issued periodically during a long job so
// the hosting process is not reclaimed while waiting.
type KeepAlive interface {
	Ping(ctx context.Context) error
}
