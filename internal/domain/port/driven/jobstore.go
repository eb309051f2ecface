package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

// JobStore defines the driven port for job record persistence.
type JobStore interface {
	Upsert(ctx context.Context, job model.Job) error
	// Get returns (nil, nil) when the job does not exist.
	Get(ctx context.Context, id string) (*model.Job, error)
	ListRecent(ctx context.Context, limit int) ([]model.Job, error)
	// MarkRefunded flags a job as failed and refunded without touching its
	// result columns. completedAt is kept if the job already has one.
	MarkRefunded(ctx context.Context, id, reason string, completedAt time.Time) error
	// SetDurableRef records the durable copy of a job's result without
	// touching its status columns.
	SetDurableRef(ctx context.Context, id, ref string) error
}
