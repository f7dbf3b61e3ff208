package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinelx-labs/audittrail/pkg/anchor"
	"github.com/sentinelx-labs/audittrail/pkg/api"
	"github.com/sentinelx-labs/audittrail/pkg/auth"
	"github.com/sentinelx-labs/audittrail/pkg/batch"
	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/ledger"
	"github.com/sentinelx-labs/audittrail/pkg/limiter"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"
	"github.com/sentinelx-labs/audittrail/pkg/scheduler"
)

// trail assembles the serving stack the same way the serve command does:
// request IDs, CORS, optional bearer auth, rate limiting, idempotency
// replay, then the route table.
type trail struct {
	queue    *ingest.Queue
	store    *batch.MemoryStore
	registry *ledger.Registry
	sched    *scheduler.Scheduler
	verifier *auth.TokenVerifier
	handler  http.Handler
}

func newTrail(t *testing.T, secret string) *trail {
	t.Helper()

	queue := ingest.NewQueue()
	store := batch.NewMemoryStore()
	registry := ledger.NewRegistry("api-test")
	anchorer := anchor.New(registry, store, anchor.DefaultRetryPolicy()).
		WithSleeper(func(context.Context, time.Duration) error { return nil })
	sched := scheduler.New(queue, store, anchorer, &scheduler.Config{
		MaxBatchSize:  50,
		MaxBatchDwell: time.Hour,
		PollInterval:  time.Hour,
	})
	t.Cleanup(sched.Stop)

	verifier := auth.NewTokenVerifier(secret)

	var handler http.Handler = api.NewServer(queue, store, sched).WithVersion("test").Routes()
	handler = api.IdempotencyMiddleware(api.NewIdempotencyStore(time.Minute))(handler)
	handler = auth.RateLimitMiddleware(limiter.NewLocalStore(), limiter.Policy{RPM: 60000, Burst: 1000})(handler)
	handler = auth.NewMiddleware(verifier)(handler)
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)

	return &trail{
		queue:    queue,
		store:    store,
		registry: registry,
		sched:    sched,
		verifier: verifier,
		handler:  handler,
	}
}

func (tr *trail) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestSubmitEvent(t *testing.T) {
	tr := newTrail(t, "")

	t.Run("accepts a fingerprint", func(t *testing.T) {
		fp := merkle.Fingerprint([]byte("deploy: api@v1.4.2"))
		w := tr.do(t, http.MethodPost, "/v1/events",
			api.SubmitEventRequest{Fingerprint: fp.String(), Kind: "deploy"}, nil)

		require.Equal(t, http.StatusAccepted, w.Code)
		resp := decode[api.SubmitEventResponse](t, w)
		require.Equal(t, uint64(1), resp.Sequence)
		require.Equal(t, fp.String(), resp.Fingerprint)
		require.Equal(t, 1, resp.Pending)
		require.False(t, resp.EnqueuedAt.IsZero())
	})

	t.Run("rejects a malformed fingerprint", func(t *testing.T) {
		w := tr.do(t, http.MethodPost, "/v1/events",
			api.SubmitEventRequest{Fingerprint: "0xdeadbeef"}, nil)

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	})

	t.Run("rejects an unparseable body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewBufferString("{not json"))
		w := httptest.NewRecorder()
		tr.handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSubmitEvent_Auth(t *testing.T) {
	tr := newTrail(t, "api-test-secret")

	fp := merkle.Fingerprint([]byte("login: alice"))
	body := api.SubmitEventRequest{Fingerprint: fp.String()}

	t.Run("rejects without a token", func(t *testing.T) {
		w := tr.do(t, http.MethodPost, "/v1/events", body, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepts with a token", func(t *testing.T) {
		token, err := tr.verifier.Issue("producer-1", []string{"events:write"}, time.Hour)
		require.NoError(t, err)

		w := tr.do(t, http.MethodPost, "/v1/events", body,
			map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("verification stays public", func(t *testing.T) {
		w := tr.do(t, http.MethodPost, "/v1/verify", api.VerifyRequest{
			Leaf:     fp.String(),
			Siblings: []string{},
			Root:     fp.String(),
		}, nil)

		require.Equal(t, http.StatusOK, w.Code)
		require.True(t, decode[api.VerifyResponse](t, w).Valid)
	})
}

func TestSubmitEvent_IdempotentReplay(t *testing.T) {
	tr := newTrail(t, "")

	fp := merkle.Fingerprint([]byte("payment: invoice-77"))
	body := api.SubmitEventRequest{Fingerprint: fp.String()}
	headers := map[string]string{"Idempotency-Key": "producer-1:invoice-77"}

	first := tr.do(t, http.MethodPost, "/v1/events", body, headers)
	require.Equal(t, http.StatusAccepted, first.Code)
	replay := tr.do(t, http.MethodPost, "/v1/events", body, headers)
	require.Equal(t, http.StatusAccepted, replay.Code)

	// The retry got the original acknowledgement; nothing was enqueued twice.
	require.Equal(t, decode[api.SubmitEventResponse](t, first).Sequence,
		decode[api.SubmitEventResponse](t, replay).Sequence)
	require.Equal(t, 1, tr.queue.Len())

	fresh := tr.do(t, http.MethodPost, "/v1/events", body,
		map[string]string{"Idempotency-Key": "producer-1:invoice-78"})
	require.Equal(t, uint64(2), decode[api.SubmitEventResponse](t, fresh).Sequence)
	require.Equal(t, 2, tr.queue.Len())
}

func TestSealAndProve(t *testing.T) {
	tr := newTrail(t, "")

	fps := []merkle.Digest{
		merkle.Fingerprint([]byte("config change: ttl=30")),
		merkle.Fingerprint([]byte("access grant: bob -> prod")),
		merkle.Fingerprint([]byte("deletion: record 9001")),
	}
	for _, fp := range fps {
		w := tr.do(t, http.MethodPost, "/v1/events", api.SubmitEventRequest{Fingerprint: fp.String()}, nil)
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	w := tr.do(t, http.MethodPost, "/v1/batches/seal", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	sealed := decode[batch.Batch](t, w)
	require.Equal(t, uint64(1), sealed.ID)
	require.Equal(t, 3, sealed.EventCount)
	require.Equal(t, 0, tr.queue.Len())

	root, err := merkle.Root(fps)
	require.NoError(t, err)
	require.Equal(t, root, sealed.MerkleRoot)

	t.Run("batch is listed and fetchable", func(t *testing.T) {
		list := decode[[]*batch.Batch](t, tr.do(t, http.MethodGet, "/v1/batches", nil, nil))
		require.Len(t, list, 1)
		require.Equal(t, sealed.ID, list[0].ID)

		got := decode[batch.Batch](t, tr.do(t, http.MethodGet, "/v1/batches/1", nil, nil))
		require.Equal(t, sealed.MerkleRoot, got.MerkleRoot)
		require.Len(t, got.Events, 3)
	})

	t.Run("every member proves and verifies", func(t *testing.T) {
		for _, fp := range fps {
			w := tr.do(t, http.MethodGet,
				"/v1/batches/"+root.String()+"/proof/"+fp.String(), nil, nil)
			require.Equal(t, http.StatusOK, w.Code)

			pr := decode[api.ProofResponse](t, w)
			require.Equal(t, sealed.ID, pr.BatchID)
			require.Equal(t, fp, pr.Proof.Leaf)
			require.Equal(t, root, pr.Proof.Root)

			siblings := make([]string, 0, len(pr.Proof.Steps))
			for _, sib := range pr.Proof.Siblings() {
				siblings = append(siblings, sib.String())
			}
			verdict := tr.do(t, http.MethodPost, "/v1/verify", api.VerifyRequest{
				Leaf:     pr.Proof.Leaf.String(),
				Siblings: siblings,
				Root:     pr.Proof.Root.String(),
			}, nil)
			require.Equal(t, http.StatusOK, verdict.Code)
			require.True(t, decode[api.VerifyResponse](t, verdict).Valid)

			// A proof against the wrong root must fail.
			verdict = tr.do(t, http.MethodPost, "/v1/verify", api.VerifyRequest{
				Leaf:     pr.Proof.Leaf.String(),
				Siblings: siblings,
				Root:     merkle.Fingerprint([]byte("wrong root")).String(),
			}, nil)
			require.False(t, decode[api.VerifyResponse](t, verdict).Valid)
		}
	})

	t.Run("proof for a non-member is 404", func(t *testing.T) {
		outsider := merkle.Fingerprint([]byte("never submitted"))
		w := tr.do(t, http.MethodGet,
			"/v1/batches/"+root.String()+"/proof/"+outsider.String(), nil, nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("proof for an unknown root is 404", func(t *testing.T) {
		unknown := merkle.Fingerprint([]byte("no such batch"))
		w := tr.do(t, http.MethodGet,
			"/v1/batches/"+unknown.String()+"/proof/"+fps[0].String(), nil, nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("sealed batch anchors on the ledger", func(t *testing.T) {
		tr.sched.Stop() // drain in-flight anchoring

		stored, err := tr.registry.IsRootStored(context.Background(), root)
		require.NoError(t, err)
		require.True(t, stored)

		got, err := tr.store.Get(context.Background(), sealed.ID)
		require.NoError(t, err)
		require.Equal(t, batch.AnchorConfirmed, got.AnchorStatus)
		require.NotEmpty(t, got.LedgerTxRef)
	})
}

func TestSealBatch_EmptyQueue(t *testing.T) {
	tr := newTrail(t, "")

	w := tr.do(t, http.MethodPost, "/v1/batches/seal", nil, nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestGetBatch_Errors(t *testing.T) {
	tr := newTrail(t, "")

	w := tr.do(t, http.MethodGet, "/v1/batches/not-a-number", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = tr.do(t, http.MethodGet, "/v1/batches/999", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPendingEvents(t *testing.T) {
	tr := newTrail(t, "")

	for i := 0; i < 3; i++ {
		fp := merkle.Fingerprint([]byte{byte(i)})
		tr.do(t, http.MethodPost, "/v1/events", api.SubmitEventRequest{Fingerprint: fp.String()}, nil)
	}

	resp := decode[api.PendingEventsResponse](t, tr.do(t, http.MethodGet, "/v1/events/pending?limit=2", nil, nil))
	require.Equal(t, 3, resp.Count)
	require.Equal(t, uint64(3), resp.LastSequence)
	require.NotNil(t, resp.OldestEnqueuedAt)
	require.Len(t, resp.Events, 2)
	// Snapshot serves the most recent records, oldest first.
	require.Equal(t, uint64(2), resp.Events[0].Sequence)
	require.Equal(t, uint64(3), resp.Events[1].Sequence)
}

func TestStats(t *testing.T) {
	tr := newTrail(t, "")

	fp := merkle.Fingerprint([]byte("stats event"))
	tr.do(t, http.MethodPost, "/v1/events", api.SubmitEventRequest{Fingerprint: fp.String(), Kind: "deploy"}, nil)
	tr.do(t, http.MethodPost, "/v1/batches/seal", nil, nil)

	fp2 := merkle.Fingerprint([]byte("still pending"))
	tr.do(t, http.MethodPost, "/v1/events", api.SubmitEventRequest{Fingerprint: fp2.String()}, nil)

	resp := decode[api.StatsResponse](t, tr.do(t, http.MethodGet, "/v1/stats", nil, nil))
	require.Equal(t, 1, resp.PendingEvents)
	require.Equal(t, uint64(2), resp.LastSequence)
	require.Equal(t, 1, resp.Batches.TotalBatches)
	require.Equal(t, 1, resp.Batches.TotalEvents)
	require.Equal(t, 1, resp.Batches.EventsByKind["deploy"])
	require.Len(t, resp.RecentBatches, 1)
	require.Equal(t, 1, resp.RecentBatches[0].EventCount)
}

func TestHealthAndReadiness(t *testing.T) {
	tr := newTrail(t, "")

	w := tr.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	require.Equal(t, "ok", health["status"])
	require.Equal(t, "test", health["version"])

	w = tr.do(t, http.MethodGet, "/readiness", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

// failingStatsStore simulates a store outage for the readiness probe.
type failingStatsStore struct {
	batch.Store
}

func (f *failingStatsStore) Stats(context.Context) (*batch.Stats, error) {
	return nil, errors.New("connection refused")
}

func TestReadiness_StoreUnavailable(t *testing.T) {
	queue := ingest.NewQueue()
	store := &failingStatsStore{Store: batch.NewMemoryStore()}
	registry := ledger.NewRegistry("readiness-test")
	sched := scheduler.New(queue, store, anchor.New(registry, store, anchor.DefaultRetryPolicy()), nil)

	w := httptest.NewRecorder()
	api.NewServer(queue, store, sched).Routes().
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readiness", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestResponsesCarryRequestID(t *testing.T) {
	tr := newTrail(t, "")

	w := tr.do(t, http.MethodGet, "/health", nil, nil)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	echo := tr.do(t, http.MethodGet, "/health", nil,
		map[string]string{"X-Request-ID": "caller-supplied"})
	require.Equal(t, "caller-supplied", echo.Header().Get("X-Request-ID"))
}
