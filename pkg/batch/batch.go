// Package batch holds sealed event batches and their anchoring state.
//
// A batch is created once, at seal time, from a drained run of the ingest
// queue. Its root is a pure function of its leaves in order; nothing about a
// sealed batch is ever mutated except the anchoring state, which advances as
// the ledger submission progresses.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

// ErrNotFound reports an unknown batch ID or root.
var ErrNotFound = errors.New("batch: not found")

// AnchorStatus tracks a batch's progress toward the external ledger.
type AnchorStatus string

const (
	// AnchorPending: sealed, submission not yet started.
	AnchorPending AnchorStatus = "pending"
	// AnchorSubmitting: a submission attempt is in flight or between retries.
	AnchorSubmitting AnchorStatus = "submitting"
	// AnchorConfirmed: the ledger accepted the root; LedgerTxRef is set.
	// Terminal. A confirmed batch is never resubmitted.
	AnchorConfirmed AnchorStatus = "confirmed"
	// AnchorFailed: terminal failure. The batch stays locally provable but
	// is flagged unanchored; AnchorError carries the reason.
	AnchorFailed AnchorStatus = "failed"
)

// FailureDuplicateRoot is the AnchorError recorded when the ledger already
// holds this root. Benign: an earlier submission for the same root landed.
const FailureDuplicateRoot = "duplicate_root"

// Batch is one sealed run of events.
type Batch struct {
	ID         uint64       `json:"id"`
	MerkleRoot merkle.Digest `json:"merkle_root"`
	EventCount int          `json:"event_count"`
	SealedAt   time.Time    `json:"sealed_at"`

	AnchorStatus   AnchorStatus `json:"anchor_status"`
	LedgerTxRef    string       `json:"ledger_tx_ref,omitempty"`
	AnchorAttempts int          `json:"anchor_attempts"`
	AnchorError    string       `json:"anchor_error,omitempty"`

	// Events in batch order. Loaded on detail reads; list summaries leave
	// it nil and rely on EventCount.
	Events []ingest.EventRecord `json:"events,omitempty"`
}

// Leaves returns the event fingerprints in batch order, the exact leaf
// sequence the root was built from.
func (b *Batch) Leaves() []merkle.Digest {
	out := make([]merkle.Digest, len(b.Events))
	for i, ev := range b.Events {
		out[i] = ev.Fingerprint
	}
	return out
}

// Tree rebuilds the batch's tree for proof generation.
func (b *Batch) Tree() (*merkle.Tree, error) {
	return merkle.BuildTree(b.Leaves())
}

// Anchored reports whether the ledger confirmed this batch.
func (b *Batch) Anchored() bool {
	return b.AnchorStatus == AnchorConfirmed
}

// Stats summarizes the trail for the operator surface.
type Stats struct {
	TotalBatches     int            `json:"total_batches"`
	TotalEvents      int            `json:"total_events"`
	ConfirmedBatches int            `json:"confirmed_batches"`
	FailedBatches    int            `json:"failed_batches"`
	EventsByKind     map[string]int `json:"events_by_kind"`
}

// Store persists sealed batches. Sealed data is never deleted; the only
// mutation is SetAnchorState.
type Store interface {
	// Insert persists a freshly sealed batch and assigns its ID.
	Insert(ctx context.Context, b *Batch) error

	// Get loads a batch with its events.
	Get(ctx context.Context, id uint64) (*Batch, error)

	// GetByRoot loads the earliest batch sealed with this root, with its
	// events. Later batches can legally repeat a root; the ledger rejects
	// them and they stay local with a duplicate_root failure.
	GetByRoot(ctx context.Context, root merkle.Digest) (*Batch, error)

	// List returns up to limit batch summaries, newest first, without
	// events. Limit must be positive.
	List(ctx context.Context, limit int) ([]*Batch, error)

	// ListUnanchored returns summaries of batches still pending or
	// submitting, oldest first. Anchoring resumes from here after a
	// restart.
	ListUnanchored(ctx context.Context) ([]*Batch, error)

	// SetAnchorState records anchoring progress.
	SetAnchorState(ctx context.Context, id uint64, status AnchorStatus, txRef string, attempts int, anchorErr string) error

	// Stats aggregates trail totals.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
