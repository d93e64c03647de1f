package writebehind

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/counter/domain"
)

var pKey = domain.Key{Facility: "Sellersburg_Certified_Center", Line: "FTN", Date: "2024-01-01"}

type persistCall struct {
	key   domain.Key
	delta int64
}

type fakeSink struct {
	mu    sync.Mutex
	calls []persistCall
	errs  []error
}

func (f *fakeSink) PersistDelta(_ context.Context, key domain.Key, delta int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, persistCall{key: key, delta: delta})
	if i < len(f.errs) {
		return f.errs[i]
	}
	return nil
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestPersister(t *testing.T, sink DurableSink, q *Queue) (*Persister, *[]time.Duration) {
	t.Helper()
	p := NewPersister(sink, q, clock.NewFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)), nil, zap.NewNop(), Config{
		MaxAttempts: 4,
	})
	slept := &[]time.Duration{}
	p.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	p.jitter = func(time.Duration) time.Duration { return 0 }
	return p, slept
}

func TestRunOnceCoalescedWrite(t *testing.T) {
	sink := &fakeSink{}
	q := NewQueue()
	p, _ := newTestPersister(t, sink, q)

	at := time.Now()
	q.Enqueue(pKey, 1, at)
	q.Enqueue(pKey, 1, at)
	q.Enqueue(pKey, -1, at)
	q.Enqueue(pKey, 1, at)

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if sink.callCount() != 1 {
		t.Fatalf("store calls = %d, want 1", sink.callCount())
	}
	if sink.calls[0].delta != 2 {
		t.Fatalf("persisted delta = %d, want 2", sink.calls[0].delta)
	}
	if !q.Quiescent(pKey) {
		t.Fatal("key not quiescent after successful flush")
	}
}

func TestRunOnceNetZeroSkipsStore(t *testing.T) {
	sink := &fakeSink{}
	q := NewQueue()
	p, _ := newTestPersister(t, sink, q)

	at := time.Now()
	q.Enqueue(pKey, 1, at)
	q.Enqueue(pKey, -1, at)

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sink.callCount() != 0 {
		t.Fatalf("store calls = %d, want 0 for net-zero traffic", sink.callCount())
	}
}

func TestTransientRetryDelaysDouble(t *testing.T) {
	sink := &fakeSink{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded, nil}}
	q := NewQueue()
	p, slept := newTestPersister(t, sink, q)

	q.Enqueue(pKey, 1, time.Now())
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if sink.callCount() != 3 {
		t.Fatalf("store calls = %d, want 3", sink.callCount())
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("delay %d = %v, want %v", i, (*slept)[i], d)
		}
	}
	if !q.Quiescent(pKey) {
		t.Fatal("key not quiescent after eventual success")
	}
}

func TestJitterAddsToEachDelay(t *testing.T) {
	sink := &fakeSink{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded, nil}}
	q := NewQueue()
	p, slept := newTestPersister(t, sink, q)
	p.jitter = func(time.Duration) time.Duration { return 100 * time.Millisecond }

	q.Enqueue(pKey, 1, time.Now())
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	want := []time.Duration{1100 * time.Millisecond, 2100 * time.Millisecond}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("delay %d = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestRandomJitterStaysBounded(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomJitter(500 * time.Millisecond)
		if d < 0 || d >= 500*time.Millisecond {
			t.Fatalf("jitter %v outside [0, 500ms)", d)
		}
	}
	if randomJitter(0) != 0 {
		t.Fatal("zero bound should produce zero jitter")
	}
}

func TestTransientExhaustionMergesBack(t *testing.T) {
	sink := &fakeSink{errs: []error{
		context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded,
	}}
	q := NewQueue()
	p, slept := newTestPersister(t, sink, q)

	q.Enqueue(pKey, 5, time.Now())
	if err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce should report the exhausted key")
	}

	if sink.callCount() != 4 {
		t.Fatalf("store calls = %d, want MaxAttempts (4)", sink.callCount())
	}
	if len(*slept) != 3 {
		t.Fatalf("sleeps = %d, want 3 (no sleep after the final attempt)", len(*slept))
	}
	if q.Quiescent(pKey) {
		t.Fatal("failed key should remain queued")
	}
	if p.FailingKeys() != 1 {
		t.Fatalf("failing keys = %d, want 1", p.FailingKeys())
	}

	// The requeued delta survives intact for the next cycle.
	batch := q.SnapshotAndClear()
	if batch[pKey].Net != 5 {
		t.Fatalf("requeued net = %d, want 5", batch[pKey].Net)
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	sink := &fakeSink{errs: []error{errors.New("column does not exist")}}
	q := NewQueue()
	p, slept := newTestPersister(t, sink, q)

	q.Enqueue(pKey, 2, time.Now())
	if err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce should report the permanent failure")
	}

	if sink.callCount() != 1 {
		t.Fatalf("store calls = %d, want 1 (no retries on permanent errors)", sink.callCount())
	}
	if len(*slept) != 0 {
		t.Fatalf("slept %v, want no sleeps", *slept)
	}
	if q.Quiescent(pKey) {
		t.Fatal("failed key should remain queued")
	}
	if p.FailingKeys() != 1 {
		t.Fatalf("failing keys = %d, want 1", p.FailingKeys())
	}
}

func TestFailedDeltaMergesWithNewerTraffic(t *testing.T) {
	sink := &fakeSink{errs: []error{errors.New("bad statement")}}
	q := NewQueue()
	p, _ := newTestPersister(t, sink, q)

	q.Enqueue(pKey, 3, time.Now())
	batchStarted := q.SnapshotAndClear()
	if batchStarted[pKey].Net != 3 {
		t.Fatalf("setup: net = %d", batchStarted[pKey].Net)
	}

	// A newer delta lands while the write is failing.
	q.Enqueue(pKey, 2, time.Now())
	if err := p.persistKey(context.Background(), pKey, batchStarted[pKey]); err == nil {
		t.Fatal("persistKey should fail")
	}

	merged := q.SnapshotAndClear()
	if merged[pKey].Net != 5 {
		t.Fatalf("merged net = %d, want 5 (requeued 3 + newer 2)", merged[pKey].Net)
	}
}

func TestSuccessClearsFailureStreak(t *testing.T) {
	sink := &fakeSink{errs: []error{
		context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded,
	}}
	q := NewQueue()
	p, _ := newTestPersister(t, sink, q)

	q.Enqueue(pKey, 1, time.Now())
	if err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("first cycle should fail")
	}
	if p.FailingKeys() != 1 {
		t.Fatalf("failing keys = %d, want 1", p.FailingKeys())
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if p.FailingKeys() != 0 {
		t.Fatalf("failing keys = %d, want 0 after success", p.FailingKeys())
	}
	if !q.Quiescent(pKey) {
		t.Fatal("key not quiescent after recovery")
	}
}
