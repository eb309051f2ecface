package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// IntakeResult is the outcome of ingesting one image.
type IntakeResult struct {
	Asset model.Asset
	// Duplicate is true when an existing asset matched either fingerprint.
	Duplicate bool
}

// AssetIntake stores user images once, deduplicating by fingerprint against
// the local cache and then the remote index.
type AssetIntake struct {
	local  driven.AssetStore
	remote driven.RemoteAssetIndex
	now    func() time.Time
}

// NewAssetIntake creates an AssetIntake. remote may be nil to disable remote
// deduplication and publishing.
func NewAssetIntake(local driven.AssetStore, remote driven.RemoteAssetIndex) *AssetIntake {
	return &AssetIntake{local: local, remote: remote, now: time.Now}
}

// Ingest fingerprints data and stores it unless an equivalent asset exists.
func (a *AssetIntake) Ingest(ctx context.Context, kind model.AssetKind, name string, data []byte) (*IntakeResult, error) {
	if kind != model.AssetKindModel && kind != model.AssetKindItem {
		return nil, fmt.Errorf("%w: unknown asset kind %q", model.ErrInvalidRequest, kind)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", model.ErrInvalidRequest)
	}

	fp, contentType, err := ComputeFingerprint(data)
	if err != nil {
		return nil, err
	}

	existing, err := a.local.FindByFingerprint(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("find local duplicate: %w", err)
	}
	if existing != nil {
		slog.Info("asset already stored", "asset_id", existing.ID, "name", name)
		return &IntakeResult{Asset: *existing, Duplicate: true}, nil
	}

	asset := model.Asset{
		ID:          uuid.NewString(),
		Kind:        kind,
		Name:        strings.TrimSpace(name),
		ContentType: contentType,
		Size:        int64(len(data)),
		Fingerprint: fp,
		CreatedAt:   a.now().UTC(),
	}

	duplicate := false
	if a.remote != nil {
		ref, ok, err := a.remote.Lookup(ctx, fp)
		if err != nil {
			slog.Warn("remote asset lookup failed", "error", err)
		} else if ok {
			asset.RemoteRef = ref
			duplicate = true
		}
	}

	if err := a.local.Save(ctx, asset, data); err != nil {
		return nil, err
	}

	if a.remote != nil && asset.RemoteRef == "" {
		ref, err := a.remote.Publish(ctx, fp, data, contentType)
		if err != nil {
			slog.Warn("publish asset failed", "asset_id", asset.ID, "error", err)
		} else if err := a.local.SetRemoteRef(ctx, asset.ID, ref); err != nil {
			slog.Warn("record remote ref failed", "asset_id", asset.ID, "error", err)
		} else {
			asset.RemoteRef = ref
		}
	}

	slog.Info("asset ingested",
		"asset_id", asset.ID,
		"kind", asset.Kind,
		"size", asset.Size,
		"remote_duplicate", duplicate,
	)
	return &IntakeResult{Asset: asset, Duplicate: duplicate}, nil
}
