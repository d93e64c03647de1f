package broadcast

import (
	"math"

	"github.com/tallyworks/tallyd/internal/counter/domain"
	"github.com/tallyworks/tallyd/internal/topology"
)

// StateSource is the slice of the in-memory store a view needs.
type StateSource interface {
	CountsForDate(date string) map[string]map[string]int64
	HourlyForDate(date string) domain.HourlyRates
	DailyTotal(date string) int64
}

// PeakSource provides the current per-facility records.
type PeakSource interface {
	Snapshot() map[string]domain.PeakSnapshot
}

// TopologySource provides the configured facility layout.
type TopologySource interface {
	Get() topology.Topology
}

// buildView assembles the full picture for one date. Every configured
// facility and line appears, zero-filled when idle, plus anything recorded
// under a facility the current topology no longer lists.
func buildView(date string, st StateSource, pk PeakSource, topo topology.Topology) domain.DateView {
	counts := st.CountsForDate(date)
	hourly := st.HourlyForDate(date)

	view := domain.DateView{
		Date:      date,
		Counts:    make(map[string]map[string]int64),
		Hourly:    make(domain.HourlyRates),
		Total:     st.DailyTotal(date),
		TargetPct: make(map[string]int),
		Peaks:     pk.Snapshot(),
	}

	for _, f := range topo.Facilities {
		viewLines := make(map[string]int64, len(f.Lines))
		viewHours := make(map[string][]int64, len(f.Lines))
		var facilityTotal int64
		for _, line := range f.Lines {
			c := counts[f.Name][line]
			viewLines[line] = c
			facilityTotal += c
			if buckets, ok := hourly[f.Name][line]; ok {
				viewHours[line] = buckets
			} else {
				viewHours[line] = make([]int64, 24)
			}
		}
		view.Counts[f.Name] = viewLines
		view.Hourly[f.Name] = viewHours
		if f.DailyTarget > 0 {
			view.TargetPct[f.Name] = int(math.Round(100 * float64(facilityTotal) / float64(f.DailyTarget)))
		} else {
			view.TargetPct[f.Name] = 0
		}
	}

	for facility, lines := range counts {
		for line, c := range lines {
			if _, ok := view.Counts[facility][line]; ok {
				continue
			}
			if view.Counts[facility] == nil {
				view.Counts[facility] = make(map[string]int64)
				view.Hourly[facility] = make(map[string][]int64)
			}
			view.Counts[facility][line] = c
			if buckets, ok := hourly[facility][line]; ok {
				view.Hourly[facility][line] = buckets
			} else {
				view.Hourly[facility][line] = make([]int64, 24)
			}
		}
	}

	return view
}
