//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func newGCSBlobStore(ctx context.Context, cfg BlobConfig) (BlobStore, error) {
	return nil, fmt.Errorf("archive: gcs backend is not enabled in this build (use -tags gcp)")
}
