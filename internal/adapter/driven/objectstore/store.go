// Package objectstore implements durable result storage and the remote asset
// index on an S3-compatible bucket using minio-go.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.ResultStore      = (*Store)(nil)
	_ driven.RemoteAssetIndex = (*Store)(nil)
)

const (
	resultPrefix = "results/"
	assetPrefix  = "assets/"
	// aliasMetaKey marks an empty object that points at the asset stored
	// under another fingerprint.
	aliasMetaKey = "Tryon-Alias-Of"
)

// Config holds the connection settings for the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Region skips the bucket location lookup when set.
	Region string
}

// Store writes job results and deduplicated assets to one bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the endpoint. No request is made until first use.
func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("object store endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("object store bucket is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put stores a job result and returns its URL.
func (s *Store) Put(ctx context.Context, jobID string, r io.Reader, size int64, contentType string) (string, error) {
	key := resultKey(jobID)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"Tryon-Job-Id": jobID},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.objectURL(key), nil
}

// Lookup returns the object key of an asset matching either fingerprint.
func (s *Store) Lookup(ctx context.Context, fp model.Fingerprint) (string, bool, error) {
	for _, hash := range []string{fp.Pixel, fp.Raw} {
		if hash == "" {
			continue
		}
		info, err := s.client.StatObject(ctx, s.bucket, assetKey(hash), minio.StatObjectOptions{})
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("stat %s: %w", assetKey(hash), err)
		}
		if target := info.UserMetadata[aliasMetaKey]; target != "" {
			return target, true, nil
		}
		return assetKey(hash), true, nil
	}
	return "", false, nil
}

// Publish uploads an asset under its pixel fingerprint (or raw fingerprint
// when it has none) and writes an alias under the other hash so a lookup by
// either finds it.
func (s *Store) Publish(ctx context.Context, fp model.Fingerprint, data []byte, contentType string) (string, error) {
	primary, alias := fp.Pixel, fp.Raw
	if primary == "" {
		primary, alias = fp.Raw, ""
	}
	if primary == "" {
		return "", fmt.Errorf("%w: fingerprint is empty", model.ErrInvalidRequest)
	}

	key := assetKey(primary)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"Tryon-Raw-Hash": fp.Raw},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	if alias != "" && alias != primary {
		_, err := s.client.PutObject(ctx, s.bucket, assetKey(alias), bytes.NewReader(nil), 0, minio.PutObjectOptions{
			UserMetadata: map[string]string{aliasMetaKey: key},
		})
		if err != nil {
			return "", fmt.Errorf("put alias %s: %w", assetKey(alias), err)
		}
	}
	return key, nil
}

func (s *Store) objectURL(key string) string {
	u := *s.client.EndpointURL()
	u.Path = path.Join("/", s.bucket, key)
	return u.String()
}

func resultKey(jobID string) string {
	return resultPrefix + url.PathEscape(jobID)
}

func assetKey(hash string) string {
	return assetPrefix + hash
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
