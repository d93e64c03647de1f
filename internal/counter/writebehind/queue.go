package writebehind

import (
	"sync"
	"time"

	"github.com/tallyworks/tallyd/internal/counter/domain"
)

// Entry is one coalesced pending write: the net delta accumulated for a key
// since its last successful flush, and the time of the newest event in it.
type Entry struct {
	Net int64
	At  time.Time
}

// Queue buffers deltas between the in-memory state and the durable store.
// Deltas for the same key coalesce into one net value; a key whose net
// reaches zero is removed outright, so offsetting traffic produces no
// durable write at all.
type Queue struct {
	mu       sync.Mutex
	pending  map[domain.Key]Entry
	inflight map[domain.Key]Entry
}

func NewQueue() *Queue {
	return &Queue{
		pending:  make(map[domain.Key]Entry),
		inflight: make(map[domain.Key]Entry),
	}
}

// Enqueue folds one delta into the key's pending entry.
func (q *Queue) Enqueue(key domain.Key, delta int64, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.pending[key]
	e.Net += delta
	if at.After(e.At) {
		e.At = at
	}
	if e.Net == 0 {
		delete(q.pending, key)
		return
	}
	q.pending[key] = e
}

// SnapshotAndClear moves all pending entries to the in-flight set and
// returns them for persisting. New deltas arriving while the snapshot is
// being written accumulate in a fresh pending set.
func (q *Queue) SnapshotAndClear() map[domain.Key]Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	batch := make(map[domain.Key]Entry, len(q.pending))
	for key, e := range q.pending {
		batch[key] = e
		cur := q.inflight[key]
		cur.Net += e.Net
		if e.At.After(cur.At) {
			cur.At = e.At
		}
		q.inflight[key] = cur
	}
	q.pending = make(map[domain.Key]Entry)
	return batch
}

// Resolve marks a key's in-flight entry as durably written.
func (q *Queue) Resolve(key domain.Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, key)
}

// MergeBack returns a failed key's in-flight entry to the pending set,
// folding it into whatever accumulated there in the meantime.
func (q *Queue) MergeBack(key domain.Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.inflight[key]
	if !ok {
		return
	}
	delete(q.inflight, key)
	cur := q.pending[key]
	cur.Net += e.Net
	if e.At.After(cur.At) {
		cur.At = e.At
	}
	if cur.Net == 0 {
		delete(q.pending, key)
		return
	}
	q.pending[key] = cur
}

// Quiescent reports whether the key has nothing pending and nothing in
// flight, meaning the durable store fully reflects it.
func (q *Queue) Quiescent(key domain.Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, pending := q.pending[key]
	_, inflight := q.inflight[key]
	return !pending && !inflight
}

// Depth returns how many keys have unflushed or in-flight deltas.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

// Reset drops everything without writing it.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = make(map[domain.Key]Entry)
	q.inflight = make(map[domain.Key]Entry)
}
