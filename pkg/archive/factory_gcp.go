//go:build gcp

package archive

import (
	"context"
	"fmt"
)

func newGCSBlobStore(ctx context.Context, cfg BlobConfig) (BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: gcs backend requires a bucket")
	}
	return NewGCSStore(ctx, GCSConfig{
		Bucket: cfg.Bucket,
		Prefix: cfg.Prefix,
	})
}
