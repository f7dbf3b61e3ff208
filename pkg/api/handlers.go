package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/batch"
	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"
	"github.com/sentinelx-labs/audittrail/pkg/scheduler"
)

// SubmitEventRequest accepts one fingerprint for the trail.
type SubmitEventRequest struct {
	Fingerprint string `json:"fingerprint"`
	Kind        string `json:"kind,omitempty"`
}

// SubmitEventResponse acknowledges acceptance. The event is durable in the
// pending queue; batching and anchoring happen asynchronously.
type SubmitEventResponse struct {
	Sequence    uint64    `json:"sequence"`
	Fingerprint string    `json:"fingerprint"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Pending     int       `json:"pending"`
}

// HandleSubmitEvent accepts a fingerprint and returns 202: acceptance only
// promises a sequence number, never a sealed batch.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req SubmitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	fp, err := merkle.ParseDigest(req.Fingerprint)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	rec := s.queue.Enqueue(fp, req.Kind)
	if s.obs != nil {
		s.obs.RecordEventEnqueued(r.Context(), req.Kind)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(SubmitEventResponse{
		Sequence:    rec.Sequence,
		Fingerprint: rec.Fingerprint.String(),
		EnqueuedAt:  rec.EnqueuedAt,
		Pending:     s.queue.Len(),
	})
}

// PendingEventsResponse is the read-only view of the queue.
type PendingEventsResponse struct {
	Count            int                  `json:"count"`
	LastSequence     uint64               `json:"last_sequence"`
	OldestEnqueuedAt *time.Time           `json:"oldest_enqueued_at,omitempty"`
	Events           []ingest.EventRecord `json:"events"`
}

func (s *Server) handlePendingEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)

	events := s.queue.Snapshot(limit)
	if events == nil {
		events = []ingest.EventRecord{}
	}

	resp := PendingEventsResponse{
		Count:        s.queue.Len(),
		LastSequence: s.queue.LastSequence(),
		Events:       events,
	}
	if oldest, ok := s.queue.OldestEnqueuedAt(); ok {
		resp.OldestEnqueuedAt = &oldest
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	batches, err := s.store.List(r.Context(), limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if batches == nil {
		batches = []*batch.Batch{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Batch ID must be a positive integer")
		return
	}

	b, err := s.store.Get(r.Context(), id)
	if errors.Is(err, batch.ErrNotFound) {
		WriteNotFound(w, "No batch with this ID")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(b)
}

// HandleSealBatch force-seals the pending queue. 409 when nothing is
// pending: an empty batch has no root and is not a thing.
func (s *Server) handleSealBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.sched.ForceSeal(r.Context())
	if errors.Is(err, scheduler.ErrNothingToSeal) {
		WriteConflict(w, "No pending events to seal")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(b)
}

// ProofResponse wraps an inclusion proof with its batch context. The proof
// itself is self-contained; batch ID and anchor status are advisory.
type ProofResponse struct {
	BatchID      uint64             `json:"batch_id"`
	AnchorStatus batch.AnchorStatus `json:"anchor_status"`
	LedgerTxRef  string             `json:"ledger_tx_ref,omitempty"`
	Proof        *merkle.Proof      `json:"proof"`
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	root, err := merkle.ParseDigest(r.PathValue("root"))
	if err != nil {
		WriteBadRequest(w, "Malformed root: "+err.Error())
		return
	}
	fp, err := merkle.ParseDigest(r.PathValue("fingerprint"))
	if err != nil {
		WriteBadRequest(w, "Malformed fingerprint: "+err.Error())
		return
	}

	b, err := s.store.GetByRoot(r.Context(), root)
	if errors.Is(err, batch.ErrNotFound) {
		WriteNotFound(w, "No batch sealed with this root")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	tree, err := b.Tree()
	if err != nil {
		WriteInternal(w, err)
		return
	}

	proof, err := tree.Prove(fp)
	if errors.Is(err, merkle.ErrLeafNotFound) {
		WriteNotFound(w, "Fingerprint is not part of this batch")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ProofResponse{
		BatchID:      b.ID,
		AnchorStatus: b.AnchorStatus,
		LedgerTxRef:  b.LedgerTxRef,
		Proof:        proof,
	})
}

// VerifyRequest carries a proof to replay. Everything is by value; the
// server state plays no part in the answer.
type VerifyRequest struct {
	Leaf     string   `json:"leaf"`
	Siblings []string `json:"siblings"`
	Root     string   `json:"root"`
}

// VerifyResponse is the verdict.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	leaf, err := merkle.ParseDigest(req.Leaf)
	if err != nil {
		WriteBadRequest(w, "Malformed leaf: "+err.Error())
		return
	}
	root, err := merkle.ParseDigest(req.Root)
	if err != nil {
		WriteBadRequest(w, "Malformed root: "+err.Error())
		return
	}
	siblings := make([]merkle.Digest, len(req.Siblings))
	for i, raw := range req.Siblings {
		siblings[i], err = merkle.ParseDigest(raw)
		if err != nil {
			WriteBadRequest(w, "Malformed sibling: "+err.Error())
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(VerifyResponse{
		Valid: merkle.Verify(leaf, siblings, root),
	})
}

// StatsResponse aggregates trail totals for the operator surface.
type StatsResponse struct {
	PendingEvents int            `json:"pending_events"`
	LastSequence  uint64         `json:"last_sequence"`
	Batches       *batch.Stats   `json:"batches"`
	RecentBatches []*batch.Batch `json:"recent_batches"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}

	recent, err := s.store.List(r.Context(), 10)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if recent == nil {
		recent = []*batch.Batch{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatsResponse{
		PendingEvents: s.queue.Len(),
		LastSequence:  s.queue.LastSequence(),
		Batches:       stats,
		RecentBatches: recent,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// HandleReadiness verifies the batch store answers before the instance
// takes traffic.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context()); err != nil {
		WriteServiceUnavailable(w, "Batch store not reachable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
