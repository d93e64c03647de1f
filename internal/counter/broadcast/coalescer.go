package broadcast

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/counter/domain"
	"github.com/tallyworks/tallyd/internal/observability/metrics"
)

// Config controls broadcast batching.
type Config struct {
	// DebounceWindow is how long after the last request a broadcast waits.
	// A burst of updates collapses into one push.
	DebounceWindow time.Duration
	// RerunDelay is the wait before re-broadcasting when requests arrived
	// while a broadcast was already executing.
	RerunDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		DebounceWindow: 350 * time.Millisecond,
		RerunDelay:     100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = def.DebounceWindow
	}
	if c.RerunDelay <= 0 {
		c.RerunDelay = def.RerunDelay
	}
	return c
}

// Coalescer batches broadcast requests. Requests restart a debounce timer;
// when it fires, each viewed date's state is assembled once and pushed to
// everyone watching it. At most one broadcast executes at a time; requests
// landing mid-execution set a flag that schedules one follow-up run.
//
// Milestone detection rides on the current date's view: each time the daily
// total crosses another hundred, that view carries the milestone exactly
// once until a full reset.
type Coalescer struct {
	state   StateSource
	peaks   PeakSource
	topo    TopologySource
	reg     *Registry
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
	cfg     Config

	mu            sync.Mutex
	timer         *time.Timer
	running       bool
	pending       bool
	lastMilestone int64
}

func NewCoalescer(st StateSource, pk PeakSource, topo TopologySource, reg *Registry, clk clock.Clock, m *metrics.Metrics, log *zap.Logger, cfg Config) *Coalescer {
	return &Coalescer{
		state:   st,
		peaks:   pk,
		topo:    topo,
		reg:     reg,
		clock:   clk,
		metrics: m,
		log:     log.Named("broadcast"),
		cfg:     cfg.withDefaults(),
	}
}

// RequestBroadcast schedules a push after the debounce window. Calling it
// again before the window elapses restarts the window.
func (c *Coalescer) RequestBroadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Reset(c.cfg.DebounceWindow)
		return
	}
	c.timer = time.AfterFunc(c.cfg.DebounceWindow, c.fire)
}

// Stop cancels any scheduled broadcast.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = false
}

// ResetMilestone clears milestone tracking after a full data reset.
func (c *Coalescer) ResetMilestone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastMilestone = 0
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	c.timer = nil
	if c.running {
		c.pending = true
		c.mu.Unlock()
		c.metrics.IncBroadcastDeferred()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.broadcast()

	c.mu.Lock()
	c.running = false
	if c.pending {
		c.pending = false
		if c.timer == nil {
			c.timer = time.AfterFunc(c.cfg.RerunDelay, c.fire)
		}
	}
	c.mu.Unlock()
}

func (c *Coalescer) broadcast() {
	byDate := c.reg.SinksByDate()
	if len(byDate) == 0 {
		return
	}
	c.metrics.IncBroadcastRun()

	topo := c.topo.Get()
	today := domain.DateOf(c.clock.Now())

	for date, sinks := range byDate {
		view := buildView(date, c.state, c.peaks, topo)
		if date == today {
			if crossed, ok := c.checkMilestone(view.Total); ok {
				view.Milestone = strconv.FormatInt(crossed, 10)
				c.metrics.IncMilestone()
				c.log.Info("daily total crossed a milestone",
					zap.String("date", date),
					zap.Int64("milestone", crossed))
			}
		}

		frame := domain.Frame{Type: domain.FrameUpdate, Date: date, Data: &view}
		for _, sink := range sinks {
			if err := sink.Send(frame); err != nil {
				c.log.Warn("subscriber send failed",
					zap.String("date", date),
					zap.Error(err))
			}
		}
	}
}

// checkMilestone reports whether the total crossed into a new hundred since
// the last crossing was announced.
func (c *Coalescer) checkMilestone(total int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	milestone := (total / 100) * 100
	if milestone > c.lastMilestone {
		c.lastMilestone = milestone
		return milestone, true
	}
	return 0, false
}
