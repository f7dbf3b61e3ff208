package batch

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// Construct directly; migration DDL is exercised against a real
	// database, not the mock.
	return &PostgresStore{db: db}, mock
}

func TestPostgresStoreInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	fp := merkle.Fingerprint([]byte("pg-event"))
	root := fp // single leaf batch
	sealedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	b := &Batch{
		MerkleRoot:   root,
		SealedAt:     sealedAt,
		AnchorStatus: AnchorPending,
		Events: []ingest.EventRecord{{
			Fingerprint: fp,
			Sequence:    41,
			Kind:        ingest.KindGuard,
			EnqueuedAt:  sealedAt.Add(-time.Minute),
		}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO batches")).
		WithArgs(root.String(), 1, sealedAt, string(AnchorPending), "", 0, "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batch_events")).
		WithArgs(uint64(41), uint64(7), fp.String(), ingest.KindGuard, sealedAt.Add(-time.Minute)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Insert(ctx, b))
	require.Equal(t, uint64(7), b.ID)
	require.Equal(t, 1, b.EventCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGet(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	fp := merkle.Fingerprint([]byte("pg-get"))
	sealedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	batchCols := []string{"id", "merkle_root", "event_count", "sealed_at", "anchor_status", "ledger_tx_ref", "anchor_attempts", "anchor_error"}
	eventCols := []string{"sequence", "fingerprint", "kind", "enqueued_at"}

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM batches WHERE id = $1")).
			WithArgs(uint64(3)).
			WillReturnRows(sqlmock.NewRows(batchCols).
				AddRow(3, fp.String(), 1, sealedAt, "confirmed", "0xdeadbeef", 2, ""))
		mock.ExpectQuery(regexp.QuoteMeta("FROM batch_events WHERE batch_id = $1")).
			WithArgs(uint64(3)).
			WillReturnRows(sqlmock.NewRows(eventCols).
				AddRow(9, fp.String(), ingest.KindChat, sealedAt))

		got, err := s.Get(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, uint64(3), got.ID)
		require.Equal(t, fp, got.MerkleRoot)
		require.Equal(t, AnchorConfirmed, got.AnchorStatus)
		require.Equal(t, "0xdeadbeef", got.LedgerTxRef)
		require.Len(t, got.Events, 1)
		require.Equal(t, uint64(9), got.Events[0].Sequence)
		require.Equal(t, fp, got.Events[0].Fingerprint)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM batches WHERE id = $1")).
			WithArgs(uint64(404)).
			WillReturnRows(sqlmock.NewRows(batchCols))

		_, err := s.Get(ctx, 404)
		require.ErrorIs(t, err, ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSetAnchorState(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	t.Run("updates existing row", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE batches SET anchor_status")).
			WithArgs("confirmed", "0xfeed", 3, "", uint64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.SetAnchorState(ctx, 5, AnchorConfirmed, "0xfeed", 3, ""))
	})

	t.Run("missing row", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE batches SET anchor_status")).
			WithArgs("failed", "", 5, FailureDuplicateRoot, uint64(6)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.ErrorIs(t, s.SetAnchorState(ctx, 6, AnchorFailed, "", 5, FailureDuplicateRoot), ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM batches")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "events", "confirmed", "failed"}).
			AddRow(4, 120, 3, 1))
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY kind")).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "count"}).
			AddRow(ingest.KindLogin, 80).
			AddRow(ingest.KindGuard, 40))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, stats.TotalBatches)
	require.Equal(t, 120, stats.TotalEvents)
	require.Equal(t, 3, stats.ConfirmedBatches)
	require.Equal(t, 1, stats.FailedBatches)
	require.Equal(t, 80, stats.EventsByKind[ingest.KindLogin])
	require.NoError(t, mock.ExpectationsWereMet())
}
