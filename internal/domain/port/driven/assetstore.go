package driven

import (
	"context"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

// AssetStore defines the driven port for the local asset cache.
type AssetStore interface {
	Save(ctx context.Context, asset model.Asset, data []byte) error
	// Get returns (nil, nil) when the asset does not exist.
	Get(ctx context.Context, id string) (*model.Asset, error)
	// Load returns the asset bytes and content type.
	Load(ctx context.Context, id string) ([]byte, string, error)
	// FindByFingerprint returns the first asset whose raw or pixel hash
	// matches, or (nil, nil).
	FindByFingerprint(ctx context.Context, fp model.Fingerprint) (*model.Asset, error)
	SetRemoteRef(ctx context.Context, id, ref string) error
}

// RemoteAssetIndex defines the driven port for deduplicated remote asset
// storage, keyed by fingerprint.
type RemoteAssetIndex interface {
	// Lookup returns the remote reference of an asset matching either hash.
	Lookup(ctx context.Context, fp model.Fingerprint) (ref string, ok bool, err error)
	Publish(ctx context.Context, fp model.Fingerprint, data []byte, contentType string) (ref string, err error)
}
