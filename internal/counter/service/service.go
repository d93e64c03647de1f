package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/counter/domain"
	"github.com/tallyworks/tallyd/internal/counter/peaks"
	"github.com/tallyworks/tallyd/internal/counter/state"
	"github.com/tallyworks/tallyd/internal/counter/writebehind"
	"github.com/tallyworks/tallyd/internal/observability/metrics"
	"github.com/tallyworks/tallyd/internal/topology"
)

// Resetter clears the durable store.
type Resetter interface {
	ResetAll(ctx context.Context) error
}

// Kicker asks the reconciler for an early pass over one date.
type Kicker interface {
	Kick(date string)
}

// Broadcaster schedules pushes to live subscribers.
type Broadcaster interface {
	RequestBroadcast()
	ResetMilestone()
}

// Deps collects everything the engine service needs.
type Deps struct {
	Topology   *topology.Holder
	State      *state.Store
	Queue      *writebehind.Queue
	Peaks      *peaks.Tracker
	Persister  *writebehind.Persister
	Store      Resetter
	Reconciler Kicker
	Caster     Broadcaster
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Service is the engine facade: it validates requests against the facility
// topology, applies deltas to memory first, queues them for the write-behind
// persister and nudges the broadcaster. Reads are answered from memory
// alone; a read for a date the engine has not seen yet kicks the reconciler
// so the next read finds it warmed.
type Service struct {
	topo       *topology.Holder
	state      *state.Store
	queue      *writebehind.Queue
	peaks      *peaks.Tracker
	persister  *writebehind.Persister
	store      Resetter
	reconciler Kicker
	caster     Broadcaster
	clock      clock.Clock
	metrics    *metrics.Metrics
	log        *zap.Logger
}

var _ domain.Service = (*Service)(nil)

func NewService(d Deps) *Service {
	return &Service{
		topo:       d.Topology,
		state:      d.State,
		queue:      d.Queue,
		peaks:      d.Peaks,
		persister:  d.Persister,
		store:      d.Store,
		reconciler: d.Reconciler,
		caster:     d.Caster,
		clock:      d.Clock,
		metrics:    d.Metrics,
		log:        d.Logger.Named("counter_service"),
	}
}

func (s *Service) validateKey(facility, line, date string) (domain.Key, error) {
	canonical, err := domain.ParseDate(date)
	if err != nil {
		s.metrics.IncDeltaRejected("invalid_date")
		return domain.Key{}, err
	}
	topo := s.topo.Get()
	if !topo.HasFacility(facility) {
		s.metrics.IncDeltaRejected("unknown_facility")
		return domain.Key{}, fmt.Errorf("%w: %q", domain.ErrUnknownFacility, facility)
	}
	if !topo.HasLine(facility, line) {
		s.metrics.IncDeltaRejected("unknown_line")
		return domain.Key{}, fmt.Errorf("%w: %q at %q", domain.ErrUnknownLine, line, facility)
	}
	return domain.Key{Facility: facility, Line: line, Date: canonical}, nil
}

func (s *Service) validateDate(date string) (string, error) {
	canonical, err := domain.ParseDate(date)
	if err != nil {
		return "", err
	}
	return canonical, nil
}

// warm kicks the reconciler when a read lands on a cold date. The read
// itself still answers from memory immediately.
func (s *Service) warm(date string) {
	if !s.state.SeenDate(date) {
		s.reconciler.Kick(date)
	}
}

func (s *Service) GetCount(_ context.Context, facility, line, date string) (domain.CounterState, error) {
	key, err := s.validateKey(facility, line, date)
	if err != nil {
		return domain.CounterState{}, err
	}
	s.warm(key.Date)
	return s.state.Get(key), nil
}

func (s *Service) GetHourlyRates(_ context.Context, date string) (domain.HourlyRates, error) {
	canonical, err := s.validateDate(date)
	if err != nil {
		return nil, err
	}
	s.warm(canonical)
	return s.state.HourlyForDate(canonical), nil
}

func (s *Service) GetHistoricalData(_ context.Context, date string) (domain.HistoricalData, error) {
	canonical, err := s.validateDate(date)
	if err != nil {
		return nil, err
	}
	s.warm(canonical)
	return s.state.HistoricalForDate(canonical), nil
}

func (s *Service) Increment(ctx context.Context, facility, line, date string) (domain.CounterState, error) {
	return s.apply(ctx, facility, line, date, 1, "increment")
}

func (s *Service) Decrement(ctx context.Context, facility, line, date string) (domain.CounterState, error) {
	return s.apply(ctx, facility, line, date, -1, "decrement")
}

func (s *Service) apply(_ context.Context, facility, line, date string, delta int64, op string) (domain.CounterState, error) {
	key, err := s.validateKey(facility, line, date)
	if err != nil {
		return domain.CounterState{}, err
	}

	now := s.clock.Now()
	st := s.state.ApplyDelta(key, delta, now)
	s.queue.Enqueue(key, delta, now)
	s.peaks.RecordDay(key.Facility, s.state.FacilityDailyTotal(key.Facility, key.Date))
	s.metrics.IncDeltaApplied(key.Facility, op)
	s.caster.RequestBroadcast()
	return st, nil
}

// ResetAllData wipes the durable store first, then all in-memory state,
// peak records, queued writes and milestone tracking. If the durable wipe
// fails nothing in memory is touched.
func (s *Service) ResetAllData(ctx context.Context) error {
	if err := s.store.ResetAll(ctx); err != nil {
		return fmt.Errorf("reset durable store: %w", err)
	}

	s.queue.Reset()
	s.state.Reset()
	s.peaks.Reset()
	s.persister.ResetFailures()
	s.caster.ResetMilestone()
	s.caster.RequestBroadcast()

	s.log.Warn("all counter data reset")
	return nil
}

// EngineStatus is a point-in-time health snapshot for the admin surface.
type EngineStatus struct {
	TrackedKeys   int    `json:"tracked_keys"`
	PendingWrites int    `json:"pending_writes"`
	FailingKeys   int    `json:"failing_keys"`
	LastFlush     string `json:"last_flush,omitempty"`
}

func (s *Service) Status() EngineStatus {
	status := EngineStatus{
		TrackedKeys:   s.state.Size(),
		PendingWrites: s.queue.Depth(),
		FailingKeys:   s.persister.FailingKeys(),
	}
	if last := s.persister.LastFlush(); !last.IsZero() {
		status.LastFlush = last.UTC().Format("2006-01-02T15:04:05Z")
	}
	return status
}
