package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default durable Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open sqlite handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens the database at path and runs migrations.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// Serialized access keeps writes and the in-memory DSN well behaved.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		merkle_root TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		sealed_at DATETIME NOT NULL,
		anchor_status TEXT NOT NULL,
		ledger_tx_ref TEXT,
		anchor_attempts INTEGER NOT NULL DEFAULT 0,
		anchor_error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_batches_root ON batches(merkle_root);

	CREATE TABLE IF NOT EXISTS batch_events (
		sequence INTEGER PRIMARY KEY,
		batch_id INTEGER NOT NULL REFERENCES batches(id),
		fingerprint TEXT NOT NULL,
		kind TEXT,
		enqueued_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_batch_events_batch ON batch_events(batch_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO batches (merkle_root, event_count, sealed_at, anchor_status, ledger_tx_ref, anchor_attempts, anchor_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.MerkleRoot.String(),
		len(b.Events),
		b.SealedAt.UTC().Format(time.RFC3339Nano),
		string(b.AnchorStatus),
		b.LedgerTxRef,
		b.AnchorAttempts,
		b.AnchorError,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read batch id: %w", err)
	}

	for _, ev := range b.Events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_events (sequence, batch_id, fingerprint, kind, enqueued_at)
			VALUES (?, ?, ?, ?, ?)`,
			ev.Sequence,
			id,
			ev.Fingerprint.String(),
			ev.Kind,
			ev.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	b.ID = uint64(id)
	b.EventCount = len(b.Events)
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uint64) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, merkle_root, event_count, sealed_at, anchor_status, ledger_tx_ref, anchor_attempts, anchor_error
		FROM batches WHERE id = ?`, id)

	b, err := scanBatchRow(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadEvents(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SQLiteStore) GetByRoot(ctx context.Context, root merkle.Digest) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, merkle_root, event_count, sealed_at, anchor_status, ledger_tx_ref, anchor_attempts, anchor_error
		FROM batches WHERE merkle_root = ?
		ORDER BY id ASC LIMIT 1`, root.String())

	b, err := scanBatchRow(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadEvents(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, merkle_root, event_count, sealed_at, anchor_status, ledger_tx_ref, anchor_attempts, anchor_error
		FROM batches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatchRow(rows)
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

func (s *SQLiteStore) ListUnanchored(ctx context.Context) ([]*Batch, error) {
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
		b, err := scanBatchRow(rows)
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

func (s *SQLiteStore) SetAnchorState(ctx context.Context, id uint64, status AnchorStatus, txRef string, attempts int, anchorErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches SET anchor_status = ?, ledger_tx_ref = ?, anchor_attempts = ?, anchor_error = ?
		WHERE id = ?`,
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

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) loadEvents(ctx context.Context, b *Batch) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, fingerprint, kind, enqueued_at
		FROM batch_events WHERE batch_id = ?
		ORDER BY sequence ASC`, b.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			seq        uint64
			fpText     string
			kind       sql.NullString
			enqueuedAt string
		)
		if err := rows.Scan(&seq, &fpText, &kind, &enqueuedAt); err != nil {
			return err
		}

		fp, err := merkle.ParseDigest(fpText)
		if err != nil {
			return fmt.Errorf("corrupt fingerprint in batch %d: %w", b.ID, err)
		}

		b.Events = append(b.Events, ingest.EventRecord{
			Sequence:    seq,
			Fingerprint: fp,
			Kind:        kind.String,
			EnqueuedAt:  parseStoredTime(enqueuedAt),
		})
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatchRow(row rowScanner) (*Batch, error) {
	var (
		id           uint64
		rootText     string
		eventCount   int
		sealedAt     string
		status       string
		txRef        sql.NullString
		attempts     int
		anchorErrMsg sql.NullString
	)
	err := row.Scan(&id, &rootText, &eventCount, &sealedAt, &status, &txRef, &attempts, &anchorErrMsg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	root, err := merkle.ParseDigest(rootText)
	if err != nil {
		return nil, fmt.Errorf("corrupt merkle root for batch %d: %w", id, err)
	}

	return &Batch{
		ID:             id,
		MerkleRoot:     root,
		EventCount:     eventCount,
		SealedAt:       parseStoredTime(sealedAt),
		AnchorStatus:   AnchorStatus(status),
		LedgerTxRef:    txRef.String,
		AnchorAttempts: attempts,
		AnchorError:    anchorErrMsg.String,
	}, nil
}

func parseStoredTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
