package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/batch"
	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/scheduler"
)

// Observer receives one call per accepted event. A nil observer is fine.
type Observer interface {
	RecordEventEnqueued(ctx context.Context, kind string)
}

// Server exposes the trail over HTTP. Middleware (request IDs, CORS, auth,
// rate limiting) is layered on top of Routes by the caller, so handlers stay
// independent of the chain they run under.
type Server struct {
	queue     *ingest.Queue
	store     batch.Store
	sched     *scheduler.Scheduler
	obs       Observer
	version   string
	startedAt time.Time
}

// NewServer creates the HTTP surface over an ingest queue, batch store and
// scheduler.
func NewServer(queue *ingest.Queue, store batch.Store, sched *scheduler.Scheduler) *Server {
	return &Server{
		queue:     queue,
		store:     store,
		sched:     sched,
		version:   "dev",
		startedAt: time.Now(),
	}
}

// WithVersion stamps the build version reported by /health.
func (s *Server) WithVersion(version string) *Server {
	if version != "" {
		s.version = version
	}
	return s
}

// WithObserver attaches ingestion telemetry.
func (s *Server) WithObserver(obs Observer) *Server {
	s.obs = obs
	return s
}

// Routes builds the route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Ingestion
	mux.HandleFunc("POST /v1/events", s.handleSubmitEvent)
	mux.HandleFunc("GET /v1/events/pending", s.handlePendingEvents)

	// Batches
	mux.HandleFunc("GET /v1/batches", s.handleListBatches)
	mux.HandleFunc("GET /v1/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("POST /v1/batches/seal", s.handleSealBatch)

	// Proofs. Verification is public: anyone holding a proof document and a
	// published root can replay it.
	mux.HandleFunc("GET /v1/batches/{root}/proof/{fingerprint}", s.handleProof)
	mux.HandleFunc("POST /v1/verify", s.handleVerify)

	// Operations
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)

	return mux
}
