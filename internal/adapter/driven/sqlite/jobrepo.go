package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.JobStore = (*JobRepo)(nil)

// JobRepo is the SQLite implementation of the JobStore port interface.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new JobRepo backed by the given DB.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

const jobColumns = `id, remote_id, status, tier, mock, cost_in_credits, result_reference,
	durable, failure_reason, refunded, started_at, completed_at`

// Upsert inserts or replaces a job record.
func (r *JobRepo) Upsert(ctx context.Context, job model.Job) error {
	const query = `
		INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_id = excluded.remote_id,
			status = excluded.status,
			cost_in_credits = excluded.cost_in_credits,
			result_reference = excluded.result_reference,
			durable = excluded.durable,
			failure_reason = excluded.failure_reason,
			refunded = excluded.refunded,
			completed_at = excluded.completed_at
	`

	var completedAt sql.NullString
	if job.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*job.CompletedAt), Valid: true}
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		job.ID, job.RemoteID, string(job.Status), string(job.Tier), boolToInt(job.Mock),
		job.CostInCredits, job.ResultReference, boolToInt(job.Durable), job.FailureReason,
		boolToInt(job.Refunded), formatTime(job.StartedAt), completedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the job with the given id, or (nil, nil) if it does not exist.
func (r *JobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanJob(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListRecent returns up to limit jobs, newest first.
func (r *JobRepo) ListRecent(ctx context.Context, limit int) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY started_at DESC LIMIT ?`
	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// MarkRefunded sets the refund columns of a job.
func (r *JobRepo) MarkRefunded(ctx context.Context, id, reason string, completedAt time.Time) error {
	const query = `
		UPDATE jobs SET
			status = ?,
			refunded = 1,
			failure_reason = ?,
			completed_at = COALESCE(completed_at, ?)
		WHERE id = ?
	`
	res, err := r.db.Writer.ExecContext(ctx, query,
		string(model.JobStatusFailed), reason, formatTime(completedAt), id)
	if err != nil {
		return fmt.Errorf("mark job %s refunded: %w", id, err)
	}
	return requireRow(res, id)
}

// SetDurableRef records the durable result reference of a job.
func (r *JobRepo) SetDurableRef(ctx context.Context, id, ref string) error {
	const query = `UPDATE jobs SET result_reference = ?, durable = 1 WHERE id = ?`
	res, err := r.db.Writer.ExecContext(ctx, query, ref, id)
	if err != nil {
		return fmt.Errorf("set durable ref for job %s: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrJobNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job                     model.Job
		status, tier, startedAt string
		mock, durable, refunded int
		completedAt             sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.RemoteID, &status, &tier, &mock, &job.CostInCredits, &job.ResultReference,
		&durable, &job.FailureReason, &refunded, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = model.JobStatus(status)
	job.Tier = model.QualityTier(tier)
	job.Mock = mock != 0
	job.Durable = durable != 0
	job.Refunded = refunded != 0

	job.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		job.CompletedAt = &t
	}
	return &job, nil
}
