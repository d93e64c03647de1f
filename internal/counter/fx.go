package counter

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/config"
	"github.com/tallyworks/tallyd/internal/counter/broadcast"
	"github.com/tallyworks/tallyd/internal/counter/domain"
	"github.com/tallyworks/tallyd/internal/counter/peaks"
	"github.com/tallyworks/tallyd/internal/counter/reconcile"
	"github.com/tallyworks/tallyd/internal/counter/service"
	"github.com/tallyworks/tallyd/internal/counter/state"
	"github.com/tallyworks/tallyd/internal/counter/store"
	"github.com/tallyworks/tallyd/internal/counter/writebehind"
	"github.com/tallyworks/tallyd/internal/observability/metrics"
	"github.com/tallyworks/tallyd/internal/topology"
)

// Module assembles the counter engine: in-memory state, write-behind
// persistence, reconciliation, peak tracking and broadcast coalescing.
var Module = fx.Module("counter",
	fx.Provide(
		state.NewStore,
		peaks.NewTracker,
		writebehind.NewQueue,
		store.NewStore,
		broadcast.NewRegistry,
		providePersister,
		provideCoalescer,
		provideReconciler,
		provideService,
	),
	fx.Invoke(runEngine),
)

func providePersister(s *store.Store, q *writebehind.Queue, clk clock.Clock, m *metrics.Metrics, log *zap.Logger, cfg config.Config) *writebehind.Persister {
	return writebehind.NewPersister(s, q, clk, m, log, writebehind.Config{
		FlushInterval: cfg.FlushInterval,
	})
}

func provideCoalescer(st *state.Store, tr *peaks.Tracker, topo *topology.Holder, reg *broadcast.Registry, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *broadcast.Coalescer {
	return broadcast.NewCoalescer(st, tr, topo, reg, clk, m, log, broadcast.DefaultConfig())
}

func provideReconciler(s *store.Store, st *state.Store, tr *peaks.Tracker, q *writebehind.Queue, reg *broadcast.Registry, clk clock.Clock, m *metrics.Metrics, log *zap.Logger, cfg config.Config) *reconcile.Reconciler {
	return reconcile.NewReconciler(s, st, tr, q, reg, clk, m, log, reconcile.Config{
		Interval: cfg.ReconcileInterval,
	})
}

type serviceParams struct {
	fx.In

	Topology   *topology.Holder
	State      *state.Store
	Queue      *writebehind.Queue
	Peaks      *peaks.Tracker
	Persister  *writebehind.Persister
	Store      *store.Store
	Reconciler *reconcile.Reconciler
	Caster     *broadcast.Coalescer
	Clock      clock.Clock
	Metrics    *metrics.Metrics `optional:"true"`
	Logger     *zap.Logger
}

func provideService(p serviceParams) (*service.Service, domain.Service) {
	svc := service.NewService(service.Deps{
		Topology:   p.Topology,
		State:      p.State,
		Queue:      p.Queue,
		Peaks:      p.Peaks,
		Persister:  p.Persister,
		Store:      p.Store,
		Reconciler: p.Reconciler,
		Caster:     p.Caster,
		Clock:      p.Clock,
		Metrics:    p.Metrics,
		Logger:     p.Logger,
	})
	return svc, svc
}

// runEngine starts the drain and reconcile loops and wires a graceful stop:
// the broadcaster is silenced, the loops wind down, then one final drain
// pushes whatever is still queued.
func runEngine(lc fx.Lifecycle, persister *writebehind.Persister, reconciler *reconcile.Reconciler, caster *broadcast.Coalescer, clk clock.Clock, log *zap.Logger) {
	var cancel context.CancelFunc
	var wg sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop

			wg.Add(2)
			go func() {
				defer wg.Done()
				persister.RunForever(runCtx)
			}()
			go func() {
				defer wg.Done()
				reconciler.RunForever(runCtx)
			}()

			// Warm today from the durable store right away instead of
			// waiting out the first reconcile interval.
			reconciler.Kick(domain.DateOf(clk.Now()))

			log.Info("counter engine started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			caster.Stop()
			if cancel != nil {
				cancel()
			}
			wg.Wait()
			if err := persister.RunOnce(ctx); err != nil {
				log.Warn("final drain finished with errors", zap.Error(err))
				return nil
			}
			log.Info("counter engine stopped")
			return nil
		},
	})
}
