// Package ingest accepts event fingerprints from producers and holds them,
// in arrival order, until the scheduler drains them into a batch.
//
// Producers are decoupled from batching: enqueue assigns a sequence number
// under a short mutex and returns. Sealing, anchoring and ledger latency are
// never visible to a producer.
package ingest

import (
	"sync"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

// Producer labels carried on events. Informational only; the trail hashes
// fingerprints, not labels.
const (
	KindLogin = "login"
	KindGuard = "guard"
	KindChat  = "chat"
)

// EventRecord is one accepted fingerprint. Records are immutable: a record
// moves from the pending queue into exactly one sealed batch and is retained
// there for audit replay.
type EventRecord struct {
	Fingerprint merkle.Digest `json:"fingerprint"`
	Sequence    uint64        `json:"sequence"`
	Kind        string        `json:"kind,omitempty"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
}

// Queue is the pending-event buffer. A single mutex serializes sequence
// assignment; everything else happens outside it.
type Queue struct {
	mu      sync.Mutex
	pending []EventRecord
	lastSeq uint64
	clock   func() time.Time
}

// NewQueue creates an empty queue. Sequence numbers start at 1.
func NewQueue() *Queue {
	return &Queue{
		pending: make([]EventRecord, 0),
		clock:   time.Now,
	}
}

// WithClock overrides clock for testing.
func (q *Queue) WithClock(clock func() time.Time) *Queue {
	q.clock = clock
	return q
}

// Enqueue accepts a fingerprint and assigns the next sequence number.
// Duplicate fingerprints are accepted; deduplication is not this layer's
// business. Malformed fingerprints never get here, the parse boundary
// rejects them first.
func (q *Queue) Enqueue(fp merkle.Digest, kind string) EventRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.lastSeq++
	rec := EventRecord{
		Fingerprint: fp,
		Sequence:    q.lastSeq,
		Kind:        kind,
		EnqueuedAt:  q.clock(),
	}
	q.pending = append(q.pending, rec)
	return rec
}

// DrainUpTo atomically removes and returns up to n records in sequence
// order. A drained sequence number is never seen by a later drain. n <= 0
// drains nothing.
func (q *Queue) DrainUpTo(n int) []EventRecord {
	if n <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.pending) {
		n = len(q.pending)
	}
	if n == 0 {
		return nil
	}

	drained := make([]EventRecord, n)
	copy(drained, q.pending[:n])

	remaining := make([]EventRecord, len(q.pending)-n)
	copy(remaining, q.pending[n:])
	q.pending = remaining

	return drained
}

// Requeue puts drained records back at the front of the queue with their
// original sequence numbers. The seal path calls this when persisting a
// batch fails, so accepted fingerprints survive a storage outage.
func (q *Queue) Requeue(records []EventRecord) {
	if len(records) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	restored := make([]EventRecord, 0, len(records)+len(q.pending))
	restored = append(restored, records...)
	restored = append(restored, q.pending...)
	q.pending = restored
}

// Len returns the number of pending records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// LastSequence returns the most recently assigned sequence number, zero if
// nothing has ever been enqueued.
func (q *Queue) LastSequence() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSeq
}

// OldestEnqueuedAt returns the arrival time of the oldest pending record.
// The second return is false when the queue is empty. The scheduler's dwell
// trigger reads this.
func (q *Queue) OldestEnqueuedAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return time.Time{}, false
	}
	return q.pending[0].EnqueuedAt, true
}

// Snapshot returns a copy of the most recent pending records, oldest first,
// capped at limit. limit <= 0 returns everything.
func (q *Queue) Snapshot(limit int) []EventRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]EventRecord, n)
	copy(out, q.pending[len(q.pending)-n:])
	return out
}
