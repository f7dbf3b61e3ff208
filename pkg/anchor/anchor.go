// Package anchor drives sealed batches to a terminal ledger state.
//
// The state machine per batch: pending -> submitting -> confirmed, or
// -> failed when the ledger holds the root already (duplicate_root) or when
// bounded retries run out. Confirmed and failed are terminal; a confirmed
// batch is never resubmitted, and a failed batch stays locally provable.
package anchor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/batch"
	"github.com/sentinelx-labs/audittrail/pkg/ledger"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

// Outcome classifies a single submission attempt.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDuplicate Outcome = "duplicate_root"
	OutcomeRetryable Outcome = "retryable"
	OutcomeRejected  Outcome = "rejected"
)

// Result is the verdict of one attempt.
type Result struct {
	Outcome Outcome
	TxRef   string
	Err     error
}

// Observer receives one call per submission attempt. Implementations must
// be safe for concurrent use; a nil observer is fine.
type Observer interface {
	RecordAnchorAttempt(ctx context.Context, outcome string, elapsed time.Duration)
}

// Anchor submits batch roots and records progress in the batch store.
type Anchor struct {
	ledger ledger.Ledger
	store  batch.Store
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	obs    Observer
}

// New creates an anchorer.
func New(l ledger.Ledger, store batch.Store, policy RetryPolicy) *Anchor {
	return &Anchor{
		ledger: l,
		store:  store,
		policy: policy,
		sleep:  sleepCtx,
	}
}

// WithSleeper overrides the retry sleep for testing.
func (a *Anchor) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Anchor {
	a.sleep = sleep
	return a
}

// WithObserver attaches attempt telemetry.
func (a *Anchor) WithObserver(obs Observer) *Anchor {
	a.obs = obs
	return a
}

// Run drives one batch to a terminal state and returns the status reached.
// If the context is cancelled mid-run the batch is left in submitting state
// and a later run resumes it; everything else ends in confirmed or failed.
func (a *Anchor) Run(ctx context.Context, b *batch.Batch) batch.AnchorStatus {
	// Terminal states are never re-entered.
	switch b.AnchorStatus {
	case batch.AnchorConfirmed:
		return batch.AnchorConfirmed
	case batch.AnchorFailed:
		return batch.AnchorFailed
	}

	attempts := b.AnchorAttempts
	var lastErr error

	for attempts < a.policy.MaxAttempts {
		attempts++
		a.setState(ctx, b, batch.AnchorSubmitting, "", attempts, "")

		start := time.Now()
		res := a.SubmitOnce(ctx, b.MerkleRoot, uint64(b.EventCount))
		if a.obs != nil {
			a.obs.RecordAnchorAttempt(ctx, string(res.Outcome), time.Since(start))
		}

		switch res.Outcome {
		case OutcomeConfirmed:
			a.setState(ctx, b, batch.AnchorConfirmed, res.TxRef, attempts, "")
			slog.Info("anchor: batch confirmed",
				"batch_id", b.ID, "root", b.MerkleRoot.String(), "tx_ref", res.TxRef, "attempts", attempts)
			return batch.AnchorConfirmed

		case OutcomeDuplicate:
			// Benign terminal state: the ledger already holds this root,
			// so an earlier submission landed. The batch stays locally
			// provable against the published root.
			a.setState(ctx, b, batch.AnchorFailed, "", attempts, batch.FailureDuplicateRoot)
			slog.Warn("anchor: root already on ledger",
				"batch_id", b.ID, "root", b.MerkleRoot.String())
			return batch.AnchorFailed

		case OutcomeRejected:
			a.setState(ctx, b, batch.AnchorFailed, "", attempts, res.Err.Error())
			slog.Error("anchor: ledger rejected batch",
				"batch_id", b.ID, "root", b.MerkleRoot.String(), "error", res.Err)
			return batch.AnchorFailed

		case OutcomeRetryable:
			lastErr = res.Err
			if attempts >= a.policy.MaxAttempts {
				break
			}

			delay := a.policy.Backoff(b.MerkleRoot, attempts-1)
			slog.Warn("anchor: submission failed, backing off",
				"batch_id", b.ID, "attempt", attempts, "delay", delay, "error", res.Err)

			if err := a.sleep(ctx, delay); err != nil {
				// Shutdown: leave the batch submitting so the next run
				// resumes it.
				return batch.AnchorSubmitting
			}
		}
	}

	reason := "retries exhausted"
	if lastErr != nil {
		reason = "retries exhausted: " + lastErr.Error()
	}
	a.setState(ctx, b, batch.AnchorFailed, "", attempts, reason)
	slog.Error("anchor: giving up on batch",
		"batch_id", b.ID, "root", b.MerkleRoot.String(), "attempts", attempts, "error", lastErr)
	return batch.AnchorFailed
}

// SubmitOnce performs a single submission attempt with the idempotency
// pre-check: if the ledger already holds the root the attempt short-circuits
// to duplicate_root without submitting.
func (a *Anchor) SubmitOnce(ctx context.Context, root merkle.Digest, eventCount uint64) Result {
	stored, err := a.ledger.IsRootStored(ctx, root)
	if err != nil {
		// The probe is an optimization. If it fails, submit anyway and
		// let the ledger be the authority.
		slog.Debug("anchor: root probe failed, submitting anyway", "root", root.String(), "error", err)
	} else if stored {
		return Result{Outcome: OutcomeDuplicate}
	}

	receipt, err := a.ledger.StoreBatch(ctx, root, eventCount)
	switch {
	case err == nil:
		return Result{Outcome: OutcomeConfirmed, TxRef: receipt.TxRef}
	case errors.Is(err, ledger.ErrDuplicateRoot):
		return Result{Outcome: OutcomeDuplicate}
	case errors.Is(err, ledger.ErrUnavailable):
		return Result{Outcome: OutcomeRetryable, Err: err}
	default:
		return Result{Outcome: OutcomeRejected, Err: err}
	}
}

func (a *Anchor) setState(ctx context.Context, b *batch.Batch, status batch.AnchorStatus, txRef string, attempts int, reason string) {
	b.AnchorStatus = status
	b.LedgerTxRef = txRef
	b.AnchorAttempts = attempts
	b.AnchorError = reason

	if err := a.store.SetAnchorState(ctx, b.ID, status, txRef, attempts, reason); err != nil {
		slog.Error("anchor: failed to persist anchor state",
			"batch_id", b.ID, "status", status, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
