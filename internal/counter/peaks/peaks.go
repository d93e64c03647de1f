package peaks

import (
	"sort"
	"sync"

	"github.com/tallyworks/tallyd/internal/counter/domain"
)

// Tracker keeps per-facility record values: the best single-day total and
// the best 7-day window sum. Values only rise; a tie keeps the existing
// record. Only Reset lowers them.
type Tracker struct {
	mu    sync.RWMutex
	peaks map[string]domain.PeakSnapshot
}

func NewTracker() *Tracker {
	return &Tracker{peaks: make(map[string]domain.PeakSnapshot)}
}

// RecordDay offers a facility's current daily total as a peak-day candidate.
func (t *Tracker) RecordDay(facility string, dayTotal int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.peaks[facility]
	if dayTotal > snap.PeakDay {
		snap.PeakDay = dayTotal
		t.peaks[facility] = snap
	}
}

// RecordWindow offers a 7-day window sum as a peak-weekly candidate.
func (t *Tracker) RecordWindow(facility string, windowTotal int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.peaks[facility]
	if windowTotal > snap.PeakWeekly {
		snap.PeakWeekly = windowTotal
		t.peaks[facility] = snap
	}
}

// MergeDurable folds stored peak rows in, keeping whichever side is higher.
func (t *Tracker) MergeDurable(rows []domain.FacilityPeak) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		snap := t.peaks[row.Facility]
		if row.PeakDay > snap.PeakDay {
			snap.PeakDay = row.PeakDay
		}
		if row.PeakWeekly > snap.PeakWeekly {
			snap.PeakWeekly = row.PeakWeekly
		}
		t.peaks[row.Facility] = snap
	}
}

// RecomputeFromSeries rebuilds peak candidates from per-facility daily total
// series (date -> total). Dates are ordered and a window of the most recent
// min(7, len) entries slides across each series; both the day and window
// records are offered, never lowered.
func (t *Tracker) RecomputeFromSeries(series map[string]map[string]int64) {
	for facility, days := range series {
		dates := make([]string, 0, len(days))
		for d := range days {
			dates = append(dates, d)
		}
		sort.Strings(dates)

		var sum int64
		for i, d := range dates {
			t.RecordDay(facility, days[d])
			sum += days[d]
			if i >= 7 {
				sum -= days[dates[i-7]]
			}
			t.RecordWindow(facility, sum)
		}
	}
}

// Get returns the current records for one facility.
func (t *Tracker) Get(facility string) domain.PeakSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peaks[facility]
}

// Snapshot returns a copy of all facility records.
func (t *Tracker) Snapshot() map[string]domain.PeakSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]domain.PeakSnapshot, len(t.peaks))
	for facility, snap := range t.peaks {
		out[facility] = snap
	}
	return out
}

// Reset clears every record.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peaks = make(map[string]domain.PeakSnapshot)
}
