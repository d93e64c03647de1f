package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/counter/domain"
	"github.com/tallyworks/tallyd/internal/counter/peaks"
	"github.com/tallyworks/tallyd/internal/counter/state"
	"github.com/tallyworks/tallyd/internal/counter/store"
	"github.com/tallyworks/tallyd/internal/observability/metrics"
)

// DurableSource is what the reconciler reads from and raises peaks into.
type DurableSource interface {
	CountsForDates(ctx context.Context, dates []string) ([]domain.Counter, error)
	HourlySums(ctx context.Context, dates []string) ([]store.HourlySum, error)
	FacilityDailyTotals(ctx context.Context) ([]store.FacilityDayTotal, error)
	Peaks(ctx context.Context) ([]domain.FacilityPeak, error)
	RaisePeaks(ctx context.Context, peaks map[string]domain.PeakSnapshot) error
}

// Quiescence reports whether a key has unflushed deltas. Keys that do are
// never overwritten from the store; the in-memory value is ahead of it.
type Quiescence interface {
	Quiescent(key domain.Key) bool
}

// ActiveDateSource lists the dates live subscribers are watching.
type ActiveDateSource interface {
	ActiveDates() []string
}

// Reconciler periodically trues the in-memory state up against the durable
// store for every active date, and rebuilds peak records from the stored
// daily series. Store failures leave memory untouched; the engine keeps
// serving what it has.
type Reconciler struct {
	store   DurableSource
	state   *state.Store
	peaks   *peaks.Tracker
	queue   Quiescence
	dates   ActiveDateSource
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
	cfg     Config

	kick chan struct{}

	mu      sync.Mutex
	warm    map[string]struct{}
	lastRun time.Time
	lastErr error
}

func NewReconciler(src DurableSource, st *state.Store, tr *peaks.Tracker, q Quiescence, dates ActiveDateSource, clk clock.Clock, m *metrics.Metrics, log *zap.Logger, cfg Config) *Reconciler {
	return &Reconciler{
		store:   src,
		state:   st,
		peaks:   tr,
		queue:   q,
		dates:   dates,
		clock:   clk,
		metrics: m,
		log:     log.Named("reconciler"),
		cfg:     cfg.withDefaults(),
		kick:    make(chan struct{}, 1),
		warm:    make(map[string]struct{}),
	}
}

// Kick asks for an early pass covering the given date. Used when a read
// lands on a date the engine has not warmed yet. Never blocks.
func (r *Reconciler) Kick(date string) {
	r.mu.Lock()
	r.warm[date] = struct{}{}
	r.mu.Unlock()
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// RunForever reconciles on every tick, and early on every kick, until the
// context is cancelled.
func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.kick:
		}
		if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("reconcile failed, serving in-memory state", zap.Error(err))
		}
	}
}

// RunOnce reconciles today plus every subscribed and kicked date.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	dates := r.activeDates()

	counts, err := r.store.CountsForDates(runCtx, dates)
	if err != nil {
		return r.fail(err)
	}
	hourly, err := r.store.HourlySums(runCtx, dates)
	if err != nil {
		return r.fail(err)
	}
	series, err := r.store.FacilityDailyTotals(runCtx)
	if err != nil {
		return r.fail(err)
	}
	durablePeaks, err := r.store.Peaks(runCtx)
	if err != nil {
		return r.fail(err)
	}

	r.applyCounts(dates, counts)
	r.applyHourly(hourly)
	r.applyPeaks(runCtx, series, durablePeaks)

	r.metrics.IncReconcileRun()
	r.mu.Lock()
	r.lastRun = r.clock.Now()
	r.lastErr = nil
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) fail(err error) error {
	r.metrics.IncReconcileError()
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
	return err
}

// activeDates returns today, every subscriber date and every kicked date,
// deduplicated. Kicked dates are consumed; a date stays active only while
// something still watches it.
func (r *Reconciler) activeDates() []string {
	seen := map[string]struct{}{domain.DateOf(r.clock.Now()): {}}
	for _, d := range r.dates.ActiveDates() {
		seen[d] = struct{}{}
	}
	r.mu.Lock()
	for d := range r.warm {
		seen[d] = struct{}{}
	}
	r.warm = make(map[string]struct{})
	r.mu.Unlock()

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	return out
}

// applyCounts overwrites quiescent keys with durable values and drops
// quiescent keys the store has no record of. Keys with unflushed deltas
// keep their in-memory value; memory is ahead of the store for them.
func (r *Reconciler) applyCounts(dates []string, counts []domain.Counter) {
	durable := make(map[domain.Key]domain.Counter, len(counts))
	for _, row := range counts {
		key := domain.Key{Facility: row.Facility, Line: row.Line, Date: row.Date}
		durable[key] = row
		if r.queue.Quiescent(key) {
			r.state.SetCount(key, row.Count, row.UpdatedAt)
		}
	}
	for _, date := range dates {
		for _, key := range r.state.KeysForDate(date) {
			if _, ok := durable[key]; ok {
				continue
			}
			if r.queue.Quiescent(key) {
				r.state.Drop(key)
			}
		}
	}
}

func (r *Reconciler) applyHourly(sums []store.HourlySum) {
	byKey := make(map[domain.Key]*[24]int64)
	for _, row := range sums {
		key := domain.Key{Facility: row.Facility, Line: row.Line, Date: row.Date}
		buckets, ok := byKey[key]
		if !ok {
			buckets = new([24]int64)
			byKey[key] = buckets
		}
		if row.Hour >= 0 && row.Hour < 24 {
			buckets[row.Hour] = row.Total
		}
	}
	for key, buckets := range byKey {
		if r.queue.Quiescent(key) {
			r.state.SetHourly(key, *buckets)
		}
	}
}

// applyPeaks merges stored records, rebuilds window candidates from the
// stored daily series with today's live totals layered on top, then writes
// the raised records back.
func (r *Reconciler) applyPeaks(ctx context.Context, series []store.FacilityDayTotal, durablePeaks []domain.FacilityPeak) {
	r.peaks.MergeDurable(durablePeaks)

	byFacility := make(map[string]map[string]int64)
	for _, row := range series {
		days, ok := byFacility[row.Facility]
		if !ok {
			days = make(map[string]int64)
			byFacility[row.Facility] = days
		}
		days[row.Date] = row.Total
	}

	today := domain.DateOf(r.clock.Now())
	for facility, lines := range r.state.CountsForDate(today) {
		var total int64
		for _, c := range lines {
			total += c
		}
		days, ok := byFacility[facility]
		if !ok {
			days = make(map[string]int64)
			byFacility[facility] = days
		}
		if total > days[today] {
			days[today] = total
		}
	}

	r.peaks.RecomputeFromSeries(byFacility)

	if err := r.store.RaisePeaks(ctx, r.peaks.Snapshot()); err != nil {
		r.log.Warn("raising stored peaks failed", zap.Error(err))
	}
}

// LastRun returns when the last successful pass finished.
func (r *Reconciler) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

// LastError returns the failure of the most recent pass, if it failed.
func (r *Reconciler) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}
