package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/counter/domain"
)

const (
	upsertCounterSQL = `
INSERT INTO counters (facility, line, date, count, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (facility, line, date)
DO UPDATE SET count = counters.count + EXCLUDED.count, updated_at = EXCLUDED.updated_at`

	upsertCounterSQLite = `
INSERT INTO counters (facility, line, date, count, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (facility, line, date)
DO UPDATE SET count = count + excluded.count, updated_at = excluded.updated_at`

	raisePeakSQL = `
INSERT INTO facility_peaks (facility, peak_day, peak_weekly, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (facility)
DO UPDATE SET
  peak_day = GREATEST(facility_peaks.peak_day, EXCLUDED.peak_day),
  peak_weekly = GREATEST(facility_peaks.peak_weekly, EXCLUDED.peak_weekly),
  updated_at = EXCLUDED.updated_at`

	raisePeakSQLite = `
INSERT INTO facility_peaks (facility, peak_day, peak_weekly, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (facility)
DO UPDATE SET
  peak_day = MAX(peak_day, excluded.peak_day),
  peak_weekly = MAX(peak_weekly, excluded.peak_weekly),
  updated_at = excluded.updated_at`

	hourlySumsSQL = `
SELECT facility, line, date, EXTRACT(HOUR FROM occurred_at AT TIME ZONE 'UTC')::int AS hour, SUM(delta) AS total
FROM counter_events
WHERE date IN ?
GROUP BY facility, line, date, hour`

	hourlySumsSQLite = `
SELECT facility, line, date, CAST(strftime('%H', occurred_at) AS INTEGER) AS hour, SUM(delta) AS total
FROM counter_events
WHERE date IN ?
GROUP BY facility, line, date, hour`

	facilityTotalsSQL = `
SELECT facility, date, SUM(GREATEST(count, 0)) AS total
FROM counters
GROUP BY facility, date`

	facilityTotalsSQLite = `
SELECT facility, date, SUM(MAX(count, 0)) AS total
FROM counters
GROUP BY facility, date`
)

// HourlySum is one (key, hour) net delta aggregated from the event trail.
type HourlySum struct {
	Facility string
	Line     string
	Date     string
	Hour     int
	Total    int64
}

// FacilityDayTotal is one facility's clamped total for one date, summed
// across its lines.
type FacilityDayTotal struct {
	Facility string
	Date     string
	Total    int64
}

// Store persists counter deltas and serves the durable truth the engine
// reconciles against.
type Store struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock
	log   *zap.Logger
}

func NewStore(db *gorm.DB, node *snowflake.Node, clk clock.Clock, log *zap.Logger) *Store {
	return &Store{db: db, node: node, clock: clk, log: log.Named("counter_store")}
}

func (s *Store) isSQLite() bool {
	return strings.EqualFold(s.db.Dialector.Name(), "sqlite")
}

// PersistDelta appends one delta event and folds it into the counter row in
// a single transaction, so the audit trail and the net total cannot drift.
func (s *Store) PersistDelta(ctx context.Context, key domain.Key, delta int64, occurredAt time.Time) error {
	now := s.clock.Now()
	event := domain.DeltaEvent{
		ID:         s.node.Generate().Int64(),
		Facility:   key.Facility,
		Line:       key.Line,
		Date:       key.Date,
		Delta:      delta,
		OccurredAt: occurredAt.UTC(),
	}

	upsert := upsertCounterSQL
	if s.isSQLite() {
		upsert = upsertCounterSQLite
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("insert delta event: %w", err)
		}
		if err := tx.Exec(upsert, key.Facility, key.Line, key.Date, delta, now).Error; err != nil {
			return fmt.Errorf("upsert counter: %w", err)
		}
		return nil
	})
}

// CountsForDates returns the signed counter rows for the given dates.
func (s *Store) CountsForDates(ctx context.Context, dates []string) ([]domain.Counter, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	var rows []domain.Counter
	if err := s.db.WithContext(ctx).Where("date IN ?", dates).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select counters: %w", err)
	}
	return rows, nil
}

// HourlySums rebuilds per-hour net deltas for the given dates from the
// event trail.
func (s *Store) HourlySums(ctx context.Context, dates []string) ([]HourlySum, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	query := hourlySumsSQL
	if s.isSQLite() {
		query = hourlySumsSQLite
	}
	var rows []HourlySum
	if err := s.db.WithContext(ctx).Raw(query, dates).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("select hourly sums: %w", err)
	}
	return rows, nil
}

// FacilityDailyTotals returns every facility's clamped daily total across
// all recorded dates, for rebuilding peak records.
func (s *Store) FacilityDailyTotals(ctx context.Context) ([]FacilityDayTotal, error) {
	query := facilityTotalsSQL
	if s.isSQLite() {
		query = facilityTotalsSQLite
	}
	var rows []FacilityDayTotal
	if err := s.db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("select facility totals: %w", err)
	}
	return rows, nil
}

// Peaks returns the stored peak records for all facilities.
func (s *Store) Peaks(ctx context.Context) ([]domain.FacilityPeak, error) {
	var rows []domain.FacilityPeak
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select facility peaks: %w", err)
	}
	return rows, nil
}

// RaisePeaks writes the given peak snapshots, keeping whichever value is
// higher between the stored row and the snapshot.
func (s *Store) RaisePeaks(ctx context.Context, peaks map[string]domain.PeakSnapshot) error {
	if len(peaks) == 0 {
		return nil
	}
	upsert := raisePeakSQL
	if s.isSQLite() {
		upsert = raisePeakSQLite
	}
	now := s.clock.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for facility, snap := range peaks {
			if err := tx.Exec(upsert, facility, snap.PeakDay, snap.PeakWeekly, now).Error; err != nil {
				return fmt.Errorf("upsert peak for %s: %w", facility, err)
			}
		}
		return nil
	})
}

// ResetAll deletes every counter, delta event and peak record.
func (s *Store) ResetAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"counter_events", "counters", "facility_peaks"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		return nil
	})
}
