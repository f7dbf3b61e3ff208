package batch

import (
	"context"
	"sort"
	"sync"

	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

// MemoryStore is the in-process Store used in local mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[uint64]*Batch
	nextID  uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches: make(map[uint64]*Batch),
		nextID:  1,
	}
}

func (s *MemoryStore) Insert(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.ID = s.nextID
	s.nextID++
	b.EventCount = len(b.Events)

	s.batches[b.ID] = cloneBatch(b)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBatch(b), nil
}

func (s *MemoryStore) GetByRoot(_ context.Context, root merkle.Digest) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest *Batch
	for _, b := range s.batches {
		if b.MerkleRoot != root {
			continue
		}
		if earliest == nil || b.ID < earliest.ID {
			earliest = b
		}
	}
	if earliest == nil {
		return nil, ErrNotFound
	}
	return cloneBatch(earliest), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.batches))
	for id := range s.batches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]*Batch, 0, len(ids))
	for _, id := range ids {
		summary := cloneBatch(s.batches[id])
		summary.Events = nil
		out = append(out, summary)
	}
	return out, nil
}

func (s *MemoryStore) ListUnanchored(_ context.Context) ([]*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0)
	for id, b := range s.batches {
		if b.AnchorStatus == AnchorPending || b.AnchorStatus == AnchorSubmitting {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*Batch, 0, len(ids))
	for _, id := range ids {
		summary := cloneBatch(s.batches[id])
		summary.Events = nil
		out = append(out, summary)
	}
	return out, nil
}

func (s *MemoryStore) SetAnchorState(_ context.Context, id uint64, status AnchorStatus, txRef string, attempts int, anchorErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[id]
	if !ok {
		return ErrNotFound
	}
	b.AnchorStatus = status
	b.LedgerTxRef = txRef
	b.AnchorAttempts = attempts
	b.AnchorError = anchorErr
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{EventsByKind: make(map[string]int)}
	for _, b := range s.batches {
		stats.TotalBatches++
		stats.TotalEvents += b.EventCount
		switch b.AnchorStatus {
		case AnchorConfirmed:
			stats.ConfirmedBatches++
		case AnchorFailed:
			stats.FailedBatches++
		}
		for _, ev := range b.Events {
			if ev.Kind != "" {
				stats.EventsByKind[ev.Kind]++
			}
		}
	}
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneBatch(b *Batch) *Batch {
	out := *b
	if b.Events != nil {
		out.Events = make([]ingest.EventRecord, len(b.Events))
		copy(out.Events, b.Events)
	}
	return &out
}
