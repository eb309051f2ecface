package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AssetStore = (*AssetRepo)(nil)

// AssetRepo is the SQLite implementation of the AssetStore port interface.
// Asset bytes live in the same row as their metadata.
type AssetRepo struct {
	db *DB
}

// NewAssetRepo creates a new AssetRepo backed by the given DB.
func NewAssetRepo(db *DB) *AssetRepo {
	return &AssetRepo{db: db}
}

const assetColumns = `id, kind, name, content_type, size, raw_hash, pixel_hash, remote_ref, created_at`

// Save inserts an asset and its bytes.
func (r *AssetRepo) Save(ctx context.Context, asset model.Asset, data []byte) error {
	const query = `INSERT INTO assets (` + assetColumns + `, data) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		asset.ID, string(asset.Kind), asset.Name, asset.ContentType, asset.Size,
		asset.Fingerprint.Raw, asset.Fingerprint.Pixel, asset.RemoteRef, formatTime(asset.CreatedAt),
		data,
	)
	if err != nil {
		return fmt.Errorf("save asset %s: %w", asset.ID, err)
	}
	return nil
}

// Get returns asset metadata, or (nil, nil) if it does not exist.
func (r *AssetRepo) Get(ctx context.Context, id string) (*model.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = ?`
	asset, err := scanAsset(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", id, err)
	}
	return asset, nil
}

// Load returns the stored bytes and content type of an asset.
func (r *AssetRepo) Load(ctx context.Context, id string) ([]byte, string, error) {
	const query = `SELECT data, content_type FROM assets WHERE id = ?`
	var data []byte
	var contentType string
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(&data, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("load asset %s: %w", id, model.ErrInvalidRequest)
	}
	if err != nil {
		return nil, "", fmt.Errorf("load asset %s: %w", id, err)
	}
	return data, contentType, nil
}

// FindByFingerprint returns the oldest asset matching either hash, or (nil, nil).
func (r *AssetRepo) FindByFingerprint(ctx context.Context, fp model.Fingerprint) (*model.Asset, error) {
	if fp.Raw == "" && fp.Pixel == "" {
		return nil, nil
	}

	query := `SELECT ` + assetColumns + ` FROM assets
		WHERE (raw_hash = ? AND raw_hash != '') OR (pixel_hash = ? AND pixel_hash != '')
		ORDER BY created_at ASC LIMIT 1`
	asset, err := scanAsset(r.db.Reader.QueryRowContext(ctx, query, fp.Raw, fp.Pixel))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find asset by fingerprint: %w", err)
	}
	return asset, nil
}

// SetRemoteRef records where an asset was published remotely.
func (r *AssetRepo) SetRemoteRef(ctx context.Context, id, ref string) error {
	const query = `UPDATE assets SET remote_ref = ? WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, ref, id); err != nil {
		return fmt.Errorf("set remote ref for asset %s: %w", id, err)
	}
	return nil
}

func scanAsset(row rowScanner) (*model.Asset, error) {
	var asset model.Asset
	var kind, createdAt string
	err := row.Scan(
		&asset.ID, &kind, &asset.Name, &asset.ContentType, &asset.Size,
		&asset.Fingerprint.Raw, &asset.Fingerprint.Pixel, &asset.RemoteRef, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	asset.Kind = model.AssetKind(kind)
	asset.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &asset, nil
}
