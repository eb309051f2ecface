package application

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

const defaultMaterializeQueue = 64

// ResultMaterializer copies job results from their transient remote URLs into
// durable storage in the background. Failures are logged and never affect the
// job's outcome.
type ResultMaterializer struct {
	fetcher driven.ResultFetcher
	store   driven.ResultStore
	jobs    driven.JobStore
	limiter *rate.Limiter
	queue   chan model.Job
}

// NewResultMaterializer creates a materializer that downloads at most
// perSecond results per second. A non-positive rate disables throttling.
func NewResultMaterializer(
	fetcher driven.ResultFetcher,
	store driven.ResultStore,
	jobs driven.JobStore,
	perSecond float64,
) *ResultMaterializer {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &ResultMaterializer{
		fetcher: fetcher,
		store:   store,
		jobs:    jobs,
		limiter: rate.NewLimiter(limit, 1),
		queue:   make(chan model.Job, defaultMaterializeQueue),
	}
}

// Schedule queues a succeeded job for materialization. It never blocks; when
// the queue is full the job is skipped and keeps its remote reference.
func (m *ResultMaterializer) Schedule(job model.Job) {
	if job.ResultReference == "" {
		return
	}
	select {
	case m.queue <- job:
	default:
		slog.Warn("materialization queue full, skipping", "job_id", job.ID)
	}
}

// Run drains the queue until ctx is canceled.
func (m *ResultMaterializer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("result materializer stopped")
			return
		case job := <-m.queue:
			if err := m.Materialize(ctx, job); err != nil {
				slog.Warn("materialize result failed", "job_id", job.ID, "error", err)
			}
		}
	}
}

// Materialize copies one job's result into durable storage and records the
// durable reference on the job.
func (m *ResultMaterializer) Materialize(ctx context.Context, job model.Job) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	data, contentType, err := m.fetcher.Fetch(ctx, job.ResultReference)
	if err != nil {
		return fmt.Errorf("fetch result: %w", err)
	}

	ref, err := m.store.Put(ctx, job.ID, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	if err := m.jobs.SetDurableRef(ctx, job.ID, ref); err != nil {
		return fmt.Errorf("record durable reference: %w", err)
	}

	slog.Info("result materialized", "job_id", job.ID, "ref", ref, "size", len(data))
	return nil
}
