package writebehind

import (
	"testing"
	"time"

	"github.com/tallyworks/tallyd/internal/counter/domain"
)

var qKey = domain.Key{Facility: "Sellersburg_Certified_Center", Line: "FTN", Date: "2024-01-01"}

func TestEnqueueCoalesces(t *testing.T) {
	q := NewQueue()
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	q.Enqueue(qKey, 1, at)
	q.Enqueue(qKey, 1, at.Add(time.Second))
	q.Enqueue(qKey, -1, at.Add(2*time.Second))
	q.Enqueue(qKey, 1, at.Add(3*time.Second))

	batch := q.SnapshotAndClear()
	if len(batch) != 1 {
		t.Fatalf("batch len = %d, want 1", len(batch))
	}
	e := batch[qKey]
	if e.Net != 2 {
		t.Fatalf("net = %d, want 2", e.Net)
	}
	if !e.At.Equal(at.Add(3 * time.Second)) {
		t.Fatalf("at = %v, want time of newest event", e.At)
	}
}

func TestNetZeroProducesNoWrite(t *testing.T) {
	q := NewQueue()
	at := time.Now()

	q.Enqueue(qKey, 1, at)
	q.Enqueue(qKey, -1, at)

	if batch := q.SnapshotAndClear(); batch != nil {
		t.Fatalf("batch = %v, want nil for net-zero traffic", batch)
	}
	if !q.Quiescent(qKey) {
		t.Fatal("key with net-zero traffic should be quiescent")
	}
	if q.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", q.Depth())
	}
}

func TestMergeBackAddsToNewerDeltas(t *testing.T) {
	q := NewQueue()
	at := time.Now()

	q.Enqueue(qKey, 3, at)
	q.SnapshotAndClear()

	// Two more arrive while the original three are being written.
	q.Enqueue(qKey, 2, at.Add(time.Second))

	q.MergeBack(qKey)

	batch := q.SnapshotAndClear()
	if batch[qKey].Net != 5 {
		t.Fatalf("net after merge-back = %d, want 5", batch[qKey].Net)
	}
}

func TestQuiescentTracksInflight(t *testing.T) {
	q := NewQueue()
	q.Enqueue(qKey, 1, time.Now())
	if q.Quiescent(qKey) {
		t.Fatal("pending key reported quiescent")
	}

	q.SnapshotAndClear()
	if q.Quiescent(qKey) {
		t.Fatal("in-flight key reported quiescent")
	}

	q.Resolve(qKey)
	if !q.Quiescent(qKey) {
		t.Fatal("resolved key not quiescent")
	}
}

func TestResetDropsEverything(t *testing.T) {
	q := NewQueue()
	q.Enqueue(qKey, 4, time.Now())
	q.SnapshotAndClear()
	q.Enqueue(qKey, 1, time.Now())

	q.Reset()

	if q.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", q.Depth())
	}
	if !q.Quiescent(qKey) {
		t.Fatal("key not quiescent after reset")
	}
}
