package driven

import (
	"context"
	"errors"
)

// ErrEncryptionKeyNotSet is returned by stores that require TRYON_SECRET_KEY
// for an operation.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set TRYON_SECRET_KEY")

// KeyValueStore defines the driven port for durable local string storage.
// Writes to different keys are not transactional with each other.
type KeyValueStore interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores or replaces the value for key.
	Set(ctx context.Context, key, value string) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}
