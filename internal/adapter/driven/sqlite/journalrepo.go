package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LedgerJournal = (*JournalRepo)(nil)

// JournalRepo is the SQLite implementation of the LedgerJournal port interface.
type JournalRepo struct {
	db *DB
}

// NewJournalRepo creates a new JournalRepo backed by the given DB.
func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// Append records a ledger entry. CreatedAt defaults to now.
func (r *JournalRepo) Append(ctx context.Context, entry model.LedgerEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	const query = `INSERT INTO ledger_entries (job_id, kind, amount, balance_after, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		entry.JobID, string(entry.Kind), entry.Amount, entry.BalanceAfter, entry.Reason, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append ledger entry for job %s: %w", entry.JobID, err)
	}
	return nil
}

// ListByJob returns all entries for a job in insertion order.
func (r *JournalRepo) ListByJob(ctx context.Context, jobID string) ([]model.LedgerEntry, error) {
	const query = `SELECT id, job_id, kind, amount, balance_after, reason, created_at FROM ledger_entries WHERE job_id = ? ORDER BY id`
	rows, err := r.db.Reader.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries for job %s: %w", jobID, err)
	}
	defer rows.Close()

	entries := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		var kind, createdAt string
		if err := rows.Scan(&e.ID, &e.JobID, &kind, &e.Amount, &e.BalanceAfter, &e.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = model.LedgerEntryKind(kind)
		e.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}
