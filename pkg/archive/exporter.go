package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentinelx-labs/audittrail/pkg/batch"
)

// Exporter loads sealed batches and writes verification bundles.
type Exporter struct {
	store batch.Store
	blobs BlobStore
}

// NewExporter wires a batch store to a bundle store.
func NewExporter(store batch.Store, blobs BlobStore) *Exporter {
	return &Exporter{store: store, blobs: blobs}
}

// Export bundles one batch and stores the encoded manifest content-addressed.
// Returns the manifest and its blob address. Exporting an unanchored batch
// is allowed; the manifest records the anchor status it had at export time.
func (e *Exporter) Export(ctx context.Context, batchID uint64) (*Manifest, string, error) {
	b, err := e.store.Get(ctx, batchID)
	if err != nil {
		return nil, "", fmt.Errorf("archive: load batch %d: %w", batchID, err)
	}

	m, err := BuildManifest(b)
	if err != nil {
		return nil, "", err
	}

	data, err := m.Encode()
	if err != nil {
		return nil, "", err
	}

	addr, err := e.blobs.Put(ctx, data)
	if err != nil {
		return nil, "", fmt.Errorf("archive: store bundle for batch %d: %w", batchID, err)
	}

	slog.Info("archive: bundle exported",
		"batch_id", batchID, "root", m.MerkleRoot.String(),
		"events", m.EventCount, "addr", addr, "bytes", len(data))

	return m, addr, nil
}
