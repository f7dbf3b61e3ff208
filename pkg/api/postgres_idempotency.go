package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

// PostgresIdempotencyStore persists replay entries so producer retries stay
// safe across process restarts and across replicas behind one load balancer.
type PostgresIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresIdempotencyStore wraps an open postgres handle and runs
// migrations.
func NewPostgresIdempotencyStore(db *sql.DB, ttl time.Duration) (*PostgresIdempotencyStore, error) {
	s := &PostgresIdempotencyStore{db: db, ttl: ttl}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresIdempotencyStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		status_code INTEGER NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'application/json',
		body BYTEA NOT NULL,
		cached_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	return err
}

// Check returns the cached response for key if it has not expired.
func (s *PostgresIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	var statusCode int
	var contentType string
	var body []byte
	var cachedAt time.Time

	err := s.db.QueryRow(
		`SELECT status_code, content_type, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &contentType, &body, &cachedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(cachedAt) > s.ttl {
		_, _ = s.db.Exec(`DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	hdr := make(http.Header)
	hdr.Set("Content-Type", contentType)

	return &cachedResponse{
		StatusCode: statusCode,
		Headers:    hdr,
		Body:       body,
	}, true
}

// Set records a response for later replay. Failures are logged and dropped:
// a lost entry means one retry enqueues twice, which the trail tolerates,
// while failing the original request would not be tolerated.
func (s *PostgresIdempotencyStore) Set(key string, statusCode int, headers http.Header, body []byte) {
	contentType := headers.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	_, err := s.db.Exec(
		`INSERT INTO idempotency_keys (key, status_code, content_type, body, cached_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, content_type = $3, body = $4, cached_at = NOW()`,
		key, statusCode, contentType, body,
	)
	if err != nil {
		slog.Warn("idempotency: persist key failed", "key", key, "error", err)
	}
}

// Cleanup removes entries older than the TTL. Run it from a cron or a
// startup hook; postgres has no equivalent of the in-memory eviction loop.
func (s *PostgresIdempotencyStore) Cleanup() error {
	_, err := s.db.Exec(
		`DELETE FROM idempotency_keys WHERE cached_at < $1`,
		time.Now().Add(-s.ttl),
	)
	return err
}
