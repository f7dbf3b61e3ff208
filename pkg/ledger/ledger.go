// Package ledger is the client surface for the external immutable ledger
// that batch roots anchor to.
//
// The contract is narrow: store a root with its event count, check whether a
// root is stored, read a stored entry back, verify an inclusion proof. The
// ledger rejects duplicate roots and empty batches; everything else about
// retry scheduling and failure policy belongs to the anchoring layer, not
// here.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

var (
	// ErrDuplicateRoot: the ledger already holds this root. Roots are
	// globally unique on the ledger; a duplicate submission means an
	// earlier attempt landed.
	ErrDuplicateRoot = errors.New("ledger: root already stored")

	// ErrEmptyBatch: zero-event batches are not anchorable.
	ErrEmptyBatch = errors.New("ledger: batch must contain at least one event")

	// ErrNotFound: no entry at that index.
	ErrNotFound = errors.New("ledger: entry not found")

	// ErrUnavailable: the ledger could not be reached or answered with a
	// server fault. Submissions failing this way are retryable.
	ErrUnavailable = errors.New("ledger: unavailable")
)

// Entry is one stored batch root as the ledger records it.
type Entry struct {
	Index      uint64        `json:"index"`
	Root       merkle.Digest `json:"merkle_root"`
	EventCount uint64        `json:"event_count"`
	StoredAt   time.Time     `json:"stored_at"`
	Submitter  string        `json:"submitter"`
}

// SubmitReceipt is returned by a successful StoreBatch.
type SubmitReceipt struct {
	TxRef string `json:"tx_ref"`
	Index uint64 `json:"index"`
}

// Ledger is the external registry contract.
type Ledger interface {
	// StoreBatch anchors a root. Fails ErrDuplicateRoot if the root is
	// already stored and ErrEmptyBatch if eventCount is zero.
	StoreBatch(ctx context.Context, root merkle.Digest, eventCount uint64) (*SubmitReceipt, error)

	// IsRootStored reports whether the ledger holds this root.
	IsRootStored(ctx context.Context, root merkle.Digest) (bool, error)

	// GetBatch reads a stored entry by its ledger index.
	GetBatch(ctx context.Context, index uint64) (*Entry, error)

	// VerifyInclusion replays an inclusion proof against a root using the
	// same pair rule the batching tree uses.
	VerifyInclusion(ctx context.Context, leaf merkle.Digest, siblings []merkle.Digest, root merkle.Digest) (bool, error)
}
