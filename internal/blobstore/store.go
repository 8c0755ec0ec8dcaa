// Package blobstore publishes and fetches store archives by name, either in
// a local directory or in an S3-compatible bucket.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperjump/kioku/internal/config"
)

// Store holds named blobs.
type Store interface {
	// Put stores size bytes read from r under name, replacing any previous blob.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Get opens the blob name. A missing blob matches errs.ErrNotFound.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns blob names starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes name. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
}

// FromConfig returns a MinIO store when cfg names an endpoint and a local
// store rooted at cfg.LocalDir otherwise.
func FromConfig(cfg config.RemoteConfig) (Store, error) {
	if cfg.Endpoint == "" {
		return NewLocalStore(cfg.LocalDir), nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("remote endpoint %s has no bucket", cfg.Endpoint)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(os.Getenv(cfg.AccessKeyEnv), os.Getenv(cfg.SecretKeyEnv), ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}
	return NewMinioStore(client, cfg.Bucket, cfg.Prefix), nil
}
