package application

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
	"github.com/ericfisherdev/tryonkit/internal/observability"
)

const (
	defaultJobTimeout        = 5 * time.Minute
	defaultKeepAliveInterval = 20 * time.Second
	defaultCompressThreshold = 1 << 20
)

// ResultScheduler accepts succeeded jobs for background materialization.
type ResultScheduler interface {
	Schedule(job model.Job)
}

// OrchestratorConfig tunes job execution. Zero values select defaults.
type OrchestratorConfig struct {
	// Timeout bounds each submission attempt.
	Timeout           time.Duration
	KeepAliveInterval time.Duration
	// CompressThreshold is the encoded size above which assets are compressed
	// before transmission.
	CompressThreshold int
	Pricing           model.Pricing
}

// OrchestratorDeps are the collaborators of an Orchestrator. KeepAlive,
// Compressor, Fetcher, and Materializer may be nil.
type OrchestratorDeps struct {
	Session      *SessionManager
	Ledger       *CreditLedger
	Compute      driven.TryOnService
	KeepAlive    driven.KeepAlive
	Assets       driven.AssetStore
	Compressor   driven.ImageCompressor
	Jobs         driven.JobStore
	Fetcher      driven.ResultFetcher
	Materializer ResultScheduler
}

// Orchestrator runs try-on jobs against the compute service. A job holds a
// valid credential for its whole duration, is retried at most once after a
// credential rejection, and is charged only when it yields a usable result.
type Orchestrator struct {
	deps OrchestratorDeps
	cfg  OrchestratorConfig
	now  func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultJobTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = defaultCompressThreshold
	}
	if cfg.Pricing.Tiers == nil {
		cfg.Pricing = model.DefaultPricing()
	}
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

// Submit validates req, prepares the credential and payload, and runs the
// job. On success the returned job carries the result reference and the
// charged cost.
func (o *Orchestrator) Submit(ctx context.Context, req model.JobRequest) (*model.Job, error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.submit",
		attribute.String("job.tier", string(req.Tier)),
		attribute.Bool("job.mock", req.Mock),
		attribute.Int("job.items", len(req.Items)),
	)
	defer span.End()

	job, err := o.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(model.Kind(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.Int("job.cost", job.CostInCredits))
	return job, nil
}

func (o *Orchestrator) submit(ctx context.Context, req model.JobRequest) (*model.Job, error) {
	cost, err := o.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	stopKeepAlive := o.startKeepAlive(ctx)
	defer stopKeepAlive()

	o.deps.Session.Suspend()
	defer o.deps.Session.Resume()

	token, err := o.deps.Session.ForceRefresh(ctx)
	if err != nil {
		if errors.Is(err, model.ErrCredentialExhausted) {
			return nil, fmt.Errorf("%w: %w", model.ErrAuthRequired, err)
		}
		return nil, fmt.Errorf("prepare credential: %w", err)
	}

	payload, err := o.preparePayload(ctx, req)
	if err != nil {
		return nil, err
	}

	job := model.Job{
		ID:            uuid.NewString(),
		Status:        model.JobStatusSubmitted,
		Tier:          req.Tier,
		Mock:          req.Mock,
		CostInCredits: cost,
		StartedAt:     o.now().UTC(),
	}
	if err := o.deps.Jobs.Upsert(ctx, job); err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}
	slog.Info("job submitted", "job_id", job.ID, "tier", job.Tier, "mock", job.Mock, "cost", cost)

	resp, err := o.attempt(ctx, token, payload)
	if errors.Is(err, driven.ErrUnauthorized) {
		slog.Info("credential rejected, renewing and retrying once", "job_id", job.ID)
		renewed, rerr := o.deps.Session.Renew(ctx)
		if rerr != nil {
			return nil, o.fail(ctx, job, fmt.Errorf("%w: renewal after rejection failed: %w", model.ErrAuthRequired, rerr))
		}
		resp, err = o.attempt(ctx, renewed, payload)
		if errors.Is(err, driven.ErrUnauthorized) {
			if perr := o.deps.Session.Purge(ctx, "credential rejected after renewal"); perr != nil {
				slog.Error("purge credential", "error", perr)
			}
			return nil, o.fail(ctx, job, fmt.Errorf("%w: %w", model.ErrAuthExpired, err))
		}
	}
	if err != nil {
		return nil, o.fail(ctx, job, err)
	}

	return o.succeed(ctx, job, resp)
}

// attempt performs one bounded submission.
func (o *Orchestrator) attempt(ctx context.Context, token string, payload model.Payload) (*model.JobResponse, error) {
	actx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	actx, span := observability.StartSpan(actx, "orchestrator.attempt")
	defer span.End()

	resp, err := o.deps.Compute.Submit(actx, token, payload)
	if err == nil {
		return resp, nil
	}
	span.RecordError(err)

	var svcErr *model.ServiceError
	switch {
	case errors.Is(actx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %s", model.ErrTimeout, o.cfg.Timeout)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, driven.ErrUnauthorized), errors.Is(err, model.ErrNetwork), errors.As(err, &svcErr):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", model.ErrNetwork, err)
	}
}

// succeed records a completed job. The remote's reported charge and balance
// are authoritative. A response without a result is treated as a failed job
// and its charge is refunded.
func (o *Orchestrator) succeed(ctx context.Context, job model.Job, resp *model.JobResponse) (*model.Job, error) {
	if resp.CreditsUsed != job.CostInCredits {
		slog.Warn("remote charge differs from price list", "job_id", job.ID, "expected", job.CostInCredits, "charged", resp.CreditsUsed)
		job.CostInCredits = resp.CreditsUsed
	}
	job.RemoteID = resp.RemoteID
	job.ResultReference = resp.ResultImageURL
	job.Status = model.JobStatusSucceeded
	completed := o.now().UTC()
	job.CompletedAt = &completed

	if err := o.deps.Jobs.Upsert(ctx, job); err != nil {
		slog.Error("persist completed job", "job_id", job.ID, "error", err)
	}
	if err := o.deps.Ledger.RecordDebit(ctx, job, resp.CreditsLeft); err != nil {
		slog.Error("record debit", "job_id", job.ID, "error", err)
	}

	if strings.TrimSpace(resp.ResultImageURL) == "" {
		err := fmt.Errorf("%w: response carried no result", model.ErrResultUnusable)
		if _, rerr := o.deps.Ledger.RefundJob(ctx, job.ID, err.Error()); rerr != nil {
			return nil, errors.Join(err, fmt.Errorf("refund: %w", rerr))
		}
		return nil, err
	}

	slog.Info("job succeeded",
		"job_id", job.ID,
		"remote_id", job.RemoteID,
		"cost", job.CostInCredits,
		"balance", resp.CreditsLeft,
		"duration", completed.Sub(job.StartedAt),
	)

	if o.deps.Materializer != nil {
		o.deps.Materializer.Schedule(job)
	}
	return &job, nil
}

func (o *Orchestrator) fail(ctx context.Context, job model.Job, cause error) error {
	job.Status = model.JobStatusFailed
	job.FailureReason = cause.Error()
	completed := o.now().UTC()
	job.CompletedAt = &completed
	if err := o.deps.Jobs.Upsert(ctx, job); err != nil {
		slog.Error("persist failed job", "job_id", job.ID, "error", err)
	}
	slog.Warn("job failed", "job_id", job.ID, "kind", model.Kind(cause), "error", cause)
	return cause
}

// Verify loads a succeeded job's result. When it cannot be fetched or
// decoded, the job's cost is refunded and an ErrResultUnusable error is
// returned.
func (o *Orchestrator) Verify(ctx context.Context, jobID string) error {
	if o.deps.Fetcher == nil {
		return fmt.Errorf("%w: no result fetcher configured", model.ErrInvalidRequest)
	}
	job, err := o.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusSucceeded {
		return fmt.Errorf("%w: job %s is %s", model.ErrInvalidRequest, jobID, job.Status)
	}
	loadErr := o.loadResult(ctx, job.ResultReference)
	if loadErr == nil {
		return nil
	}

	reason := "result failed to load: " + loadErr.Error()
	if _, err := o.deps.Ledger.RefundJob(ctx, job.ID, reason); err != nil {
		return errors.Join(fmt.Errorf("%w: %w", model.ErrResultUnusable, loadErr), fmt.Errorf("refund: %w", err))
	}
	return fmt.Errorf("%w: %w", model.ErrResultUnusable, loadErr)
}

func (o *Orchestrator) loadResult(ctx context.Context, ref string) error {
	data, _, err := o.deps.Fetcher.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Get returns a job by id.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrJobNotFound, jobID)
	}
	return job, nil
}

// Recent returns the most recently started jobs.
func (o *Orchestrator) Recent(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	return o.deps.Jobs.ListRecent(ctx, limit)
}

func (o *Orchestrator) validate(ctx context.Context, req model.JobRequest) (int, error) {
	if req.SubjectAssetID == "" {
		return 0, fmt.Errorf("%w: subject image is required", model.ErrInvalidRequest)
	}
	if len(req.Items) == 0 {
		return 0, fmt.Errorf("%w: at least one item is required", model.ErrInvalidRequest)
	}
	for i, item := range req.Items {
		if item.AssetID == "" {
			return 0, fmt.Errorf("%w: item %d has no image", model.ErrInvalidRequest, i)
		}
	}

	cost, err := o.cfg.Pricing.Cost(req.Tier, req.Mock)
	if err != nil {
		return 0, err
	}

	balance, known, err := o.deps.Ledger.Balance(ctx)
	if err != nil {
		slog.Warn("skipping balance precheck", "error", err)
		return cost, nil
	}
	if known && balance < cost {
		return 0, fmt.Errorf("%w: need %d, have %d", model.ErrInsufficientCredits, cost, balance)
	}
	return cost, nil
}

// startKeepAlive pings the compute host until the returned stop function is
// called. stop waits for the pinger to exit.
func (o *Orchestrator) startKeepAlive(ctx context.Context) func() {
	if o.deps.KeepAlive == nil {
		return func() {}
	}

	kctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-kctx.Done():
				return
			case <-ticker.C:
				if err := o.deps.KeepAlive.Ping(kctx); err != nil && kctx.Err() == nil {
					slog.Debug("keep-alive ping failed", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (o *Orchestrator) preparePayload(ctx context.Context, req model.JobRequest) (model.Payload, error) {
	subject, err := o.encodeAsset(ctx, req.SubjectAssetID)
	if err != nil {
		return model.Payload{}, err
	}

	items := make([]model.PayloadItem, 0, len(req.Items))
	for _, item := range req.Items {
		encoded, err := o.encodeAsset(ctx, item.AssetID)
		if err != nil {
			return model.Payload{}, err
		}
		items = append(items, model.PayloadItem{Image: encoded, Category: item.Category, Name: item.Name})
	}

	return model.Payload{SubjectImage: subject, Items: items, Tier: req.Tier, Mock: req.Mock}, nil
}

// encodeAsset returns an asset as a data URL, compressed when it exceeds the
// configured threshold. Compression failures fall back to the original bytes.
func (o *Orchestrator) encodeAsset(ctx context.Context, assetID string) (string, error) {
	data, contentType, err := o.deps.Assets.Load(ctx, assetID)
	if err != nil {
		return "", fmt.Errorf("load asset %s: %w", assetID, err)
	}

	if len(data) > o.cfg.CompressThreshold && o.deps.Compressor != nil {
		compressed, ct, err := o.deps.Compressor.Compress(ctx, data, o.cfg.CompressThreshold)
		if err != nil {
			slog.Warn("compress asset failed, sending original", "asset_id", assetID, "error", err)
		} else {
			slog.Debug("asset compressed", "asset_id", assetID, "from", len(data), "to", len(compressed))
			data, contentType = compressed, ct
		}
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
