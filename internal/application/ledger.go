package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// BalanceKey is the store key of the mirrored credit balance.
const BalanceKey = "credits.balance"

// TokenSource supplies access tokens for remote calls.
type TokenSource interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// CreditLedger mirrors the remote credit balance locally for display and
// restores credits when a paid job fails to deliver. The remote system stays
// the source of truth; the local mirror is last-writer-wins.
type CreditLedger struct {
	store   driven.KeyValueStore
	remote  driven.CreditService
	tokens  TokenSource
	jobs    driven.JobStore
	journal driven.LedgerJournal
	events  driven.EventPublisher

	mu      sync.RWMutex
	balance int
	known   bool
	loaded  bool
}

// NewCreditLedger creates a CreditLedger. journal and events may be nil.
func NewCreditLedger(
	store driven.KeyValueStore,
	remote driven.CreditService,
	tokens TokenSource,
	jobs driven.JobStore,
	journal driven.LedgerJournal,
	events driven.EventPublisher,
) *CreditLedger {
	return &CreditLedger{
		store:   store,
		remote:  remote,
		tokens:  tokens,
		jobs:    jobs,
		journal: journal,
		events:  events,
	}
}

// Balance returns the mirrored balance. known is false until the balance has
// been mirrored at least once.
func (l *CreditLedger) Balance(ctx context.Context) (balance int, known bool, err error) {
	l.mu.RLock()
	if l.loaded {
		defer l.mu.RUnlock()
		return l.balance, l.known, nil
	}
	l.mu.RUnlock()

	raw, ok, err := l.store.Get(ctx, BalanceKey)
	if err != nil {
		return 0, false, fmt.Errorf("load balance: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.balance, l.known, nil
	}
	if ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			slog.Warn("ignoring unreadable mirrored balance", "value", raw, "error", err)
		} else {
			l.balance, l.known = n, true
		}
	}
	l.loaded = true
	return l.balance, l.known, nil
}

// Mirror records a balance reported by the remote and broadcasts the change.
func (l *CreditLedger) Mirror(ctx context.Context, balance int) error {
	if balance < 0 {
		slog.Warn("remote reported negative balance, clamping to zero", "balance", balance)
		balance = 0
	}

	l.mu.Lock()
	l.balance, l.known, l.loaded = balance, true, true
	l.mu.Unlock()

	if l.events != nil {
		l.events.Publish(ctx, model.BalanceChanged(balance))
	}
	if err := l.store.Set(ctx, BalanceKey, strconv.Itoa(balance)); err != nil {
		return fmt.Errorf("persist balance: %w", err)
	}
	return nil
}

// Sync fetches the authoritative balance and mirrors it.
func (l *CreditLedger) Sync(ctx context.Context) (int, error) {
	token, err := l.accessToken(ctx)
	if err != nil {
		return 0, err
	}
	balance, err := l.remote.Balance(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	if err := l.Mirror(ctx, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// RecordDebit mirrors the balance the remote reported after charging a job
// and journals the charge.
func (l *CreditLedger) RecordDebit(ctx context.Context, job model.Job, balanceAfter int) error {
	if err := l.Mirror(ctx, balanceAfter); err != nil {
		return err
	}
	l.appendJournal(ctx, model.LedgerEntry{
		JobID:        job.ID,
		Kind:         model.LedgerDebit,
		Amount:       job.CostInCredits,
		BalanceAfter: balanceAfter,
		Reason:       string(job.Tier),
	})
	return nil
}

// Refund restores credits remotely and mirrors the resulting balance. When
// the remote omits the new balance, the mirror is advanced by the refunded
// amount. Refunds are not deduplicated here.
func (l *CreditLedger) Refund(ctx context.Context, req model.RefundRequest) (int, error) {
	if req.Amount <= 0 {
		return 0, fmt.Errorf("%w: refund amount must be positive, got %d", model.ErrInvalidRequest, req.Amount)
	}
	if req.JobID == "" {
		return 0, fmt.Errorf("%w: refund requires a job id", model.ErrInvalidRequest)
	}

	token, err := l.accessToken(ctx)
	if err != nil {
		return 0, err
	}

	balance, ok, err := l.remote.Refund(ctx, token, req)
	if err != nil {
		return 0, fmt.Errorf("refund job %s: %w", req.JobID, err)
	}
	if !ok {
		current, _, err := l.Balance(ctx)
		if err != nil {
			return 0, err
		}
		balance = current + req.Amount
	}

	if err := l.Mirror(ctx, balance); err != nil {
		slog.Error("mirror balance after refund", "job_id", req.JobID, "error", err)
	}
	l.appendJournal(ctx, model.LedgerEntry{
		JobID:        req.JobID,
		Kind:         model.LedgerRefund,
		Amount:       req.Amount,
		BalanceAfter: balance,
		Reason:       req.Reason,
	})

	slog.Info("credits refunded", "job_id", req.JobID, "amount", req.Amount, "balance", balance, "reason", req.Reason)
	return balance, nil
}

// RefundJob refunds the full cost of a charged local job and marks it failed.
// Only succeeded jobs were debited; a job that is already refunded was too,
// so a repeated call refunds again and only logs a warning.
func (l *CreditLedger) RefundJob(ctx context.Context, jobID, reason string) (int, error) {
	job, err := l.jobs.Get(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		return 0, fmt.Errorf("%w: %s", model.ErrJobNotFound, jobID)
	}
	if job.Status != model.JobStatusSucceeded && !job.Refunded {
		return 0, fmt.Errorf("%w: job %s was never charged (status %s)", model.ErrInvalidRequest, jobID, job.Status)
	}
	if job.CostInCredits == 0 {
		balance, _, err := l.Balance(ctx)
		return balance, err
	}
	if job.Refunded {
		slog.Warn("refunding job that was already refunded", "job_id", jobID)
	}

	balance, err := l.Refund(ctx, model.RefundRequest{
		JobID:    job.ID,
		RemoteID: job.RemoteID,
		Amount:   job.CostInCredits,
		Reason:   reason,
	})
	if err != nil {
		return 0, err
	}

	if err := l.jobs.MarkRefunded(ctx, jobID, reason, time.Now()); err != nil {
		slog.Error("persist refunded job", "job_id", jobID, "error", err)
	}
	return balance, nil
}

// Journal returns the recorded debits and refunds of a job.
func (l *CreditLedger) Journal(ctx context.Context, jobID string) ([]model.LedgerEntry, error) {
	if l.journal == nil {
		return []model.LedgerEntry{}, nil
	}
	return l.journal.ListByJob(ctx, jobID)
}

func (l *CreditLedger) accessToken(ctx context.Context) (string, error) {
	token, err := l.tokens.GetAccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("get access token: %w", err)
	}
	if token == "" {
		return "", fmt.Errorf("%w: not signed in", model.ErrCredentialExhausted)
	}
	return token, nil
}

func (l *CreditLedger) appendJournal(ctx context.Context, entry model.LedgerEntry) {
	if l.journal == nil {
		return
	}
	if err := l.journal.Append(ctx, entry); err != nil {
		slog.Error("append ledger journal", "job_id", entry.JobID, "kind", entry.Kind, "error", err)
	}
}
