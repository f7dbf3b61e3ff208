package archive

import (
	"context"
	"fmt"
)

// Backend selects the bundle storage backend.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// BlobConfig carries the settings for building a BlobStore. Fields outside
// the selected backend are ignored.
type BlobConfig struct {
	Backend Backend

	// fs
	Dir string

	// s3
	Bucket   string
	Region   string
	Endpoint string

	// gcs reuses Bucket

	// Key prefix inside the bucket (s3 and gcs).
	Prefix string
}

// NewBlobStore builds the configured backend. An empty backend selects fs.
func NewBlobStore(ctx context.Context, cfg BlobConfig) (BlobStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "data/bundles"
		}
		return NewFileStore(dir)
	case BackendS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archive: s3 backend requires a bucket")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Region:   region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case BackendGCS:
		return newGCSBlobStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("archive: unsupported bundle backend: %s", backend)
	}
}
