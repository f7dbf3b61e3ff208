package ledger

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

// Registry is the in-process Ledger. It enforces the same semantics a
// remote registry would: duplicate roots rejected, zero counts rejected,
// submitter and timestamp recorded, entries immutable once stored. Local
// deployments and tests run against it.
type Registry struct {
	mu        sync.RWMutex
	entries   []Entry
	byRoot    map[merkle.Digest]uint64
	submitter string
	clock     func() time.Time
}

// NewRegistry creates an empty registry. The submitter identity is recorded
// on every entry, the way a chain contract records the sender.
func NewRegistry(submitter string) *Registry {
	return &Registry{
		entries:   make([]Entry, 0),
		byRoot:    make(map[merkle.Digest]uint64),
		submitter: submitter,
		clock:     time.Now,
	}
}

// WithClock overrides clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

func (r *Registry) StoreBatch(_ context.Context, root merkle.Digest, eventCount uint64) (*SubmitReceipt, error) {
	if eventCount == 0 {
		return nil, ErrEmptyBatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byRoot[root]; exists {
		return nil, ErrDuplicateRoot
	}

	index := uint64(len(r.entries)) + 1
	r.entries = append(r.entries, Entry{
		Index:      index,
		Root:       root,
		EventCount: eventCount,
		StoredAt:   r.clock(),
		Submitter:  r.submitter,
	})
	r.byRoot[root] = index

	return &SubmitReceipt{
		TxRef: txRef(root, index),
		Index: index,
	}, nil
}

func (r *Registry) IsRootStored(_ context.Context, root merkle.Digest) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byRoot[root]
	return ok, nil
}

func (r *Registry) GetBatch(_ context.Context, index uint64) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index == 0 || index > uint64(len(r.entries)) {
		return nil, ErrNotFound
	}
	entry := r.entries[index-1]
	return &entry, nil
}

func (r *Registry) VerifyInclusion(_ context.Context, leaf merkle.Digest, siblings []merkle.Digest, root merkle.Digest) (bool, error) {
	return merkle.Verify(leaf, siblings, root), nil
}

// Len returns the number of stored entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// txRef derives a stable transaction reference for a stored entry.
func txRef(root merkle.Digest, index uint64) string {
	var buf [merkle.DigestSize + 8]byte
	copy(buf[:], root[:])
	binary.BigEndian.PutUint64(buf[merkle.DigestSize:], index)
	return merkle.Fingerprint(buf[:]).String()
}
