package seed

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/config"
	"github.com/tallyworks/tallyd/internal/counter/domain"
	"github.com/tallyworks/tallyd/internal/counter/store"
	"github.com/tallyworks/tallyd/internal/topology"
)

// Demo history is spread over the working hours of the past week so hourly
// rates and the weekly peak window render immediately on a fresh install.
const (
	demoDays      = 7
	demoStartHour = 6
	demoEndHour   = 16
)

// EnsureDemoData backfills recent count history for every line in the
// topology when the counters table is empty. A database that already holds
// counts is left untouched.
func EnsureDemoData(db *gorm.DB, st *store.Store, topo topology.Topology, clk clock.Clock) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	var existing int64
	if err := db.Model(&domain.Counter{}).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	ctx := context.Background()
	now := clk.Now()

	for _, fac := range topo.Facilities {
		if len(fac.Lines) == 0 {
			continue
		}
		lineShare := fac.DailyTarget / int64(len(fac.Lines))
		if lineShare <= 0 {
			lineShare = 200
		}
		for _, line := range fac.Lines {
			for day := demoDays; day >= 1; day-- {
				dayStart := now.AddDate(0, 0, -day)
				// Between roughly 75% and 105% of the line share.
				total := lineShare * int64(70+day*5) / 100
				if err := seedDay(ctx, st, fac.Name, line, dayStart, total); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func seedDay(ctx context.Context, st *store.Store, facility, line string, dayStart time.Time, total int64) error {
	hours := int64(demoEndHour - demoStartHour)
	perHour := total / hours
	remainder := total % hours

	key := domain.Key{Facility: facility, Line: line, Date: domain.DateOf(dayStart)}
	day := dayStart.UTC()

	for h := int64(0); h < hours; h++ {
		delta := perHour
		if h == hours-1 {
			delta += remainder
		}
		if delta == 0 {
			continue
		}
		at := time.Date(day.Year(), day.Month(), day.Day(), demoStartHour+int(h), 30, 0, 0, time.UTC)
		if err := st.PersistDelta(ctx, key, delta, at); err != nil {
			return err
		}
	}
	return nil
}

var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, db *gorm.DB, st *store.Store, holder *topology.Holder, clk clock.Clock, log *zap.Logger) error {
		if !cfg.SeedDemoData {
			return nil
		}
		if err := EnsureDemoData(db, st, holder.Get(), clk); err != nil {
			return err
		}
		log.Named("seed").Info("demo data ready")
		return nil
	}),
)
