package writebehind

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/counter/domain"
	"github.com/tallyworks/tallyd/internal/observability/metrics"
	"github.com/tallyworks/tallyd/pkg/db"
)

// DurableSink is the single write the persister needs from the store.
type DurableSink interface {
	PersistDelta(ctx context.Context, key domain.Key, delta int64, occurredAt time.Time) error
}

// Persister drains the queue to the durable store on a fixed cadence.
// Transient write failures retry with doubling delays plus jitter; anything
// still failing merges back into the queue so no delta is ever dropped.
type Persister struct {
	store   DurableSink
	queue   *Queue
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
	cfg     Config

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration

	mu        sync.Mutex
	failing   map[domain.Key]int
	lastFlush time.Time
}

func NewPersister(store DurableSink, queue *Queue, clk clock.Clock, m *metrics.Metrics, log *zap.Logger, cfg Config) *Persister {
	return &Persister{
		store:   store,
		queue:   queue,
		clock:   clk,
		metrics: m,
		log:     log.Named("persister"),
		cfg:     cfg.withDefaults(),
		sleep:   sleepCtx,
		jitter:  randomJitter,
		failing: make(map[domain.Key]int),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// RunForever drains on every tick until the context is cancelled.
func (p *Persister) RunForever(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Warn("drain cycle finished with errors", zap.Error(err))
			}
		}
	}
}

// RunOnce drains the current pending set. Each key is written independently
// so one bad key cannot hold back the rest of the batch.
func (p *Persister) RunOnce(ctx context.Context) error {
	batch := p.queue.SnapshotAndClear()
	if len(batch) == 0 {
		p.metrics.SetPendingWrites(p.queue.Depth())
		return nil
	}

	start := time.Now()
	var errs []error
	for key, entry := range batch {
		if err := p.persistKey(ctx, key, entry); err != nil {
			errs = append(errs, err)
		}
	}

	p.metrics.ObserveFlush(time.Since(start))
	p.metrics.SetPendingWrites(p.queue.Depth())
	p.mu.Lock()
	p.lastFlush = p.clock.Now()
	p.mu.Unlock()

	return errors.Join(errs...)
}

func (p *Persister) persistKey(ctx context.Context, key domain.Key, entry Entry) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryInitialDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err := p.persistOnce(ctx, key, entry)
		if err == nil {
			p.queue.Resolve(key)
			p.clearFailing(key)
			return nil
		}
		lastErr = err

		if !db.IsTransient(err) {
			p.queue.MergeBack(key)
			streak := p.raiseFailing(key)
			p.metrics.IncFlushFailure("permanent")
			p.log.Error("persist failed permanently, delta requeued",
				zap.String("facility", key.Facility),
				zap.String("line", key.Line),
				zap.String("date", key.Date),
				zap.Int64("delta", entry.Net),
				zap.Int("consecutive_failures", streak),
				zap.Error(err))
			return fmt.Errorf("persist %s/%s/%s: %w", key.Facility, key.Line, key.Date, err)
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		delay := bo.NextBackOff() + p.jitter(p.cfg.RetryMaxJitter)
		p.metrics.IncPersistRetry()
		p.log.Warn("transient persist failure, retrying",
			zap.String("facility", key.Facility),
			zap.String("line", key.Line),
			zap.String("date", key.Date),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if err := p.sleep(ctx, delay); err != nil {
			p.queue.MergeBack(key)
			return err
		}
	}

	p.queue.MergeBack(key)
	streak := p.raiseFailing(key)
	p.metrics.IncFlushFailure("transient")
	p.log.Warn("persist retries exhausted, delta requeued",
		zap.String("facility", key.Facility),
		zap.String("line", key.Line),
		zap.String("date", key.Date),
		zap.Int64("delta", entry.Net),
		zap.Int("consecutive_failures", streak),
		zap.Error(lastErr))
	return fmt.Errorf("persist %s/%s/%s after %d attempts: %w", key.Facility, key.Line, key.Date, p.cfg.MaxAttempts, lastErr)
}

func (p *Persister) persistOnce(ctx context.Context, key domain.Key, entry Entry) error {
	writeCtx, cancel := context.WithTimeout(ctx, p.cfg.PersistTimeout)
	defer cancel()
	return p.store.PersistDelta(writeCtx, key, entry.Net, entry.At)
}

func (p *Persister) raiseFailing(key domain.Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[key]++
	return p.failing[key]
}

func (p *Persister) clearFailing(key domain.Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failing, key)
}

// FailingKeys returns how many keys are on a failure streak.
func (p *Persister) FailingKeys() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failing)
}

// LastFlush returns when the last drain cycle completed.
func (p *Persister) LastFlush() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFlush
}

// ResetFailures clears failure streak bookkeeping after a full data reset.
func (p *Persister) ResetFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing = make(map[domain.Key]int)
}
