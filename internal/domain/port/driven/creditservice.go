package driven

import (
	"context"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

// CreditService defines the driven port for the remote balance of record.
type CreditService interface {
	// Balance returns the authoritative balance.
	Balance(ctx context.Context, accessToken string) (int, error)
	// Refund restores credits and returns the new balance. ok is false when
	// the remote did not report a balance.
	Refund(ctx context.Context, accessToken string, req model.RefundRequest) (balance int, ok bool, err error)
}

// LedgerJournal defines the driven port for the local debit/refund audit log.
type LedgerJournal interface {
	Append(ctx context.Context, entry model.LedgerEntry) error
	ListByJob(ctx context.Context, jobID string) ([]model.LedgerEntry, error)
}
