package model

import "time"

// LedgerEntryKind classifies a journaled balance mutation.
type LedgerEntryKind string

const (
	LedgerDebit  LedgerEntryKind = "debit"
	LedgerRefund LedgerEntryKind = "refund"
)

// LedgerEntry is a local audit row for a debit or refund. The remote system
// remains the source of truth for the balance.
type LedgerEntry struct {
	ID           int64
	JobID        string
	Kind         LedgerEntryKind
	Amount       int
	BalanceAfter int
	Reason       string
	CreatedAt    time.Time
}

// RefundRequest restores Amount credits for JobID.
type RefundRequest struct {
	JobID    string
	RemoteID string
	Amount   int
	Reason   string
}
