package driven

import (
	"context"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

// EventPublisher broadcasts state changes to the rest of the application.
//
// Publish is best-effort by contract: it must not block on slow or absent
// subscribers and it reports no delivery failure. Callers must not depend on
// an event having been received.
type EventPublisher interface {
	Publish(ctx context.Context, event model.Event)
}
