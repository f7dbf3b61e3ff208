package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"

	_ "github.com/lib/pq"
)

// PostgresStore backs multi-replica deployments where several API nodes
// read the same trail.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open postgres handle and runs migrations.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgresStore connects with the given DSN and runs migrations.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return NewPostgresStore(db)
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS batches (
		id BIGSERIAL PRIMARY KEY,
		merkle_root TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		sealed_at TIMESTAMPTZ NOT NULL,
		anchor_status TEXT NOT NULL,
		ledger_tx_ref TEXT,
		anchor_attempts INTEGER NOT NULL DEFAULT 0,
		anchor_error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_batches_root ON batches(merkle_root);

	CREATE TABLE IF NOT EXISTS batch_events (
		sequence BIGINT PRIMARY KEY,
		batch_id BIGINT NOT NULL REFERENCES batches(id),
		fingerprint TEXT NOT NULL,
		kind TEXT,
		enqueued_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_batch_events_batch ON batch_events(batch_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresStore) Insert(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id uint64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO batches (merkle_root, event_count, sealed_at, anchor_status, ledger_tx_ref, anchor_attempts, anchor_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		b.MerkleRoot.String(),
		len(b.Events),
		b.SealedAt.UTC(),
		string(b.AnchorStatus),
		b.LedgerTxRef,
		b.AnchorAttempts,
		b.AnchorError,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	for _, ev := range b.Events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_events (sequence, batch_id, fingerprint, kind, enqueued_at)
			VALUES ($1, $2, $3, $4, $5)`,
			ev.Sequence,
			id,
			ev.Fingerprint.String(),
			ev.Kind,
			ev.EnqueuedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	b.ID = id
	b.EventCount = len(b.Events)
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uint64) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, merkle_root, event_count, sealed_at, anchor_status, ledger_tx_ref, anchor_attempts, anchor_error
		FROM batches WHERE id = $1`, id)

	b, err := scanPostgresBatchRow(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadEvents(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PostgresStore) GetByRoot(ctx context.Context, root merkle.Digest) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, merkle_root, event_count, sealed_at, anchor_status, ledger_tx_ref, anchor_attempts, anchor_error
		FROM batches WHERE merkle_root = $1
		ORDER BY id ASC LIMIT 1`, root.String())

	b, err := scanPostgresBatchRow(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadEvents(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, merkle_root, event_count, sealed_at, anchor_status, ledger_tx_ref, anchor_attempts, anchor_error
		FROM batches ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var batches []*Batch
	for rows.Next() {
		b, err := scanPostgresBatchRow(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *PostgresStore) ListUnanchored(ctx context.Context) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, merkle_root, event_count, sealed_at, anchor_status, ledger_tx_ref, anchor_attempts, anchor_error
		FROM batches
		WHERE anchor_status IN ('pending', 'submitting')
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var batches []*Batch
	for rows.Next() {
		b, err := scanPostgresBatchRow(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *PostgresStore) SetAnchorState(ctx context.Context, id uint64, status AnchorStatus, txRef string, attempts int, anchorErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches SET anchor_status = $1, ledger_tx_ref = $2, anchor_attempts = $3, anchor_error = $4
		WHERE id = $5`,
		string(status), txRef, attempts, anchorErr, id)
	if err != nil {
		return fmt.Errorf("failed to update anchor state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{EventsByKind: make(map[string]int)}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(event_count), 0),
		       COALESCE(SUM(CASE WHEN anchor_status = 'confirmed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN anchor_status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM batches`)
	if err := row.Scan(&stats.TotalBatches, &stats.TotalEvents, &stats.ConfirmedBatches, &stats.FailedBatches); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM batch_events
		WHERE kind IS NOT NULL AND kind != ''
		GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		stats.EventsByKind[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) loadEvents(ctx context.Context, b *Batch) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, fingerprint, kind, enqueued_at
		FROM batch_events WHERE batch_id = $1
		ORDER BY sequence ASC`, b.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ev ingest.EventRecord
		var fpText string
		var kind sql.NullString

		if err := rows.Scan(&ev.Sequence, &fpText, &kind, &ev.EnqueuedAt); err != nil {
			return err
		}

		fp, err := merkle.ParseDigest(fpText)
		if err != nil {
			return fmt.Errorf("corrupt fingerprint in batch %d: %w", b.ID, err)
		}
		ev.Fingerprint = fp
		ev.Kind = kind.String

		b.Events = append(b.Events, ev)
	}
	return rows.Err()
}

func scanPostgresBatchRow(row rowScanner) (*Batch, error) {
	var (
		b            Batch
		rootText     string
		txRef        sql.NullString
		anchorErrMsg sql.NullString
		status       string
	)
	err := row.Scan(&b.ID, &rootText, &b.EventCount, &b.SealedAt, &status, &txRef, &b.AnchorAttempts, &anchorErrMsg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	root, err := merkle.ParseDigest(rootText)
	if err != nil {
		return nil, fmt.Errorf("corrupt merkle root for batch %d: %w", b.ID, err)
	}
	b.MerkleRoot = root
	b.AnchorStatus = AnchorStatus(status)
	b.LedgerTxRef = txRef.String
	b.AnchorError = anchorErrMsg.String

	return &b, nil
}
