package model

import "time"

// AssetKind distinguishes subject photos from clothing items.
type AssetKind string

const (
	AssetKindModel AssetKind = "model"
	AssetKindItem  AssetKind = "item"
)

// Fingerprint holds both content hashes of an asset. Raw is cheap but changes
// with every re-encode; Pixel survives lossy re-encoding.
type Fingerprint struct {
	Raw   string
	Pixel string
}

// Matches reports whether either hash family matches.
func (f Fingerprint) Matches(other Fingerprint) bool {
	if f.Raw != "" && f.Raw == other.Raw {
		return true
	}
	return f.Pixel != "" && f.Pixel == other.Pixel
}

// Asset is an intake image stored in the local cache.
type Asset struct {
	ID          string
	Kind        AssetKind
	Name        string
	ContentType string
	Size        int64
	Fingerprint Fingerprint
	// RemoteRef is the remote store reference, empty until published.
	RemoteRef string
	CreatedAt time.Time
}
