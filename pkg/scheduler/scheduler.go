// Package scheduler seals pending events into batches and hands them to the
// anchorer.
//
// Two triggers close a batch: size, when MaxBatchSize events are pending,
// and dwell, when the oldest pending event has waited MaxBatchDwell.
// ForceSeal closes one on demand. Sealing drains the queue atomically,
// builds the Merkle tree, persists the batch as pending, and anchors it in
// the background.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/anchor"
	"github.com/sentinelx-labs/audittrail/pkg/batch"
	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

// ErrNothingToSeal is returned by ForceSeal when no events are pending.
var ErrNothingToSeal = errors.New("scheduler: no pending events to seal")

// Config controls when batches are sealed.
type Config struct {
	MaxBatchSize  int           `json:"max_batch_size"`  // Seal when this many events are pending
	MaxBatchDwell time.Duration `json:"max_batch_dwell"` // Seal when the oldest event has waited this long
	PollInterval  time.Duration `json:"poll_interval"`   // Trigger check cadence
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxBatchSize:  50,
		MaxBatchDwell: 5 * time.Minute,
		PollInterval:  time.Second,
	}
}

// Observer receives one call per sealed batch. A nil observer is fine.
type Observer interface {
	RecordBatchSealed(ctx context.Context, eventCount int)
}

// Scheduler owns the queue-to-batch pipeline.
type Scheduler struct {
	mu       sync.Mutex
	sealMu   sync.Mutex
	config   *Config
	queue    *ingest.Queue
	store    batch.Store
	anchorer *anchor.Anchor
	clock    func() time.Time
	obs      Observer
	running  bool
	stopCh   chan struct{}
	baseCtx  context.Context
	inflight sync.WaitGroup
}

// New creates a scheduler. A nil config uses DefaultConfig; non-positive
// fields fall back to their defaults individually.
func New(queue *ingest.Queue, store batch.Store, anchorer *anchor.Anchor, config *Config) *Scheduler {
	cfg := DefaultConfig()
	if config != nil {
		if config.MaxBatchSize > 0 {
			cfg.MaxBatchSize = config.MaxBatchSize
		}
		if config.MaxBatchDwell > 0 {
			cfg.MaxBatchDwell = config.MaxBatchDwell
		}
		if config.PollInterval > 0 {
			cfg.PollInterval = config.PollInterval
		}
	}

	return &Scheduler{
		config:   cfg,
		queue:    queue,
		store:    store,
		anchorer: anchorer,
		clock:    time.Now,
	}
}

// WithClock overrides the clock used for dwell checks and seal timestamps.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// WithObserver attaches seal telemetry.
func (s *Scheduler) WithObserver(obs Observer) *Scheduler {
	s.obs = obs
	return s
}

// Start launches the trigger loop. Batches a previous process left pending
// or submitting are re-dispatched before the first trigger check.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.baseCtx = ctx
	stop := s.stopCh
	s.mu.Unlock()

	s.resumeUnanchored(ctx)
	go s.triggerLoop(ctx, stop)
	return nil
}

// Stop halts the trigger loop and waits for in-flight anchoring to finish.
// Anchor runs interrupted by ctx cancellation stay in submitting state and
// resume on the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
	s.mu.Unlock()

	s.inflight.Wait()
}

func (s *Scheduler) triggerLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.checkTriggers(ctx)
		}
	}
}

func (s *Scheduler) checkTriggers(ctx context.Context) {
	// Size first: a full window seals regardless of age. Loop so a burst
	// larger than one window drains within a single tick.
	for s.queue.Len() >= s.config.MaxBatchSize {
		if _, err := s.seal(ctx); err != nil {
			if !errors.Is(err, ErrNothingToSeal) {
				slog.Error("scheduler: size-triggered seal failed", "error", err)
			}
			return
		}
	}

	oldest, ok := s.queue.OldestEnqueuedAt()
	if !ok || s.clock().Sub(oldest) < s.config.MaxBatchDwell {
		return
	}
	if _, err := s.seal(ctx); err != nil && !errors.Is(err, ErrNothingToSeal) {
		slog.Error("scheduler: dwell-triggered seal failed", "error", err)
	}
}

// ForceSeal drains pending events into a batch immediately, bypassing both
// triggers. At most MaxBatchSize events are taken; any remainder stays
// queued. Returns ErrNothingToSeal when the queue is empty.
func (s *Scheduler) ForceSeal(ctx context.Context) (*batch.Batch, error) {
	return s.seal(ctx)
}

func (s *Scheduler) seal(ctx context.Context) (*batch.Batch, error) {
	// Serialized so batch IDs follow sequence order when triggers and
	// ForceSeal race.
	s.sealMu.Lock()
	defer s.sealMu.Unlock()

	events := s.queue.DrainUpTo(s.config.MaxBatchSize)
	if len(events) == 0 {
		return nil, ErrNothingToSeal
	}

	leaves := make([]merkle.Digest, len(events))
	for i, ev := range events {
		leaves[i] = ev.Fingerprint
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		// Unreachable for a non-empty drain, but never lose events.
		s.queue.Requeue(events)
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	b := &batch.Batch{
		MerkleRoot:   tree.Root(),
		SealedAt:     s.clock().UTC(),
		AnchorStatus: batch.AnchorPending,
		Events:       events,
	}
	if err := s.store.Insert(ctx, b); err != nil {
		s.queue.Requeue(events)
		return nil, fmt.Errorf("scheduler: persist sealed batch: %w", err)
	}

	slog.Info("scheduler: batch sealed",
		"batch_id", b.ID, "root", b.MerkleRoot.String(), "events", len(events),
		"first_seq", events[0].Sequence, "last_seq", events[len(events)-1].Sequence)
	if s.obs != nil {
		s.obs.RecordBatchSealed(ctx, len(events))
	}

	s.dispatch(b)
	return b, nil
}

// Dispatch binds anchoring to the scheduler lifecycle, not the sealing
// caller. A ForceSeal arriving over HTTP returns as soon as the batch is
// persisted; its anchor run must not die with the request context.
func (s *Scheduler) dispatch(b *batch.Batch) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.anchorer.Run(ctx, b)
	}()
}

// resumeUnanchored re-dispatches batches left behind by a previous process.
// Anchoring is idempotent: the ledger probe turns an already stored root
// into duplicate_root instead of a double anchor.
func (s *Scheduler) resumeUnanchored(ctx context.Context) {
	batches, err := s.store.ListUnanchored(ctx)
	if err != nil {
		slog.Error("scheduler: listing unanchored batches failed", "error", err)
		return
	}

	for _, b := range batches {
		slog.Info("scheduler: resuming unanchored batch",
			"batch_id", b.ID, "root", b.MerkleRoot.String(),
			"status", b.AnchorStatus, "attempts", b.AnchorAttempts)
		s.dispatch(b)
	}
}
