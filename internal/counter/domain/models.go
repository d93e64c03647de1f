package domain

import "time"

// Counter is the durable net total for one key. Count is a signed sum of
// applied deltas; readers clamp it at zero.
type Counter struct {
	Facility  string    `gorm:"primaryKey;size:128" json:"facility"`
	Line      string    `gorm:"primaryKey;size:64" json:"line"`
	Date      string    `gorm:"primaryKey;size:10" json:"date"`
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Counter) TableName() string { return "counters" }

// DeltaEvent is one applied delta in the append-only audit trail. OccurredAt
// preserves the hour the delta was applied in memory, so hourly rates rebuilt
// from events match what the engine served live.
type DeltaEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Facility   string    `gorm:"size:128;index:idx_counter_events_key" json:"facility"`
	Line       string    `gorm:"size:64;index:idx_counter_events_key" json:"line"`
	Date       string    `gorm:"size:10;index:idx_counter_events_key;index:idx_counter_events_date" json:"date"`
	Delta      int64     `json:"delta"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (DeltaEvent) TableName() string { return "counter_events" }

// FacilityPeak is the durable record of a facility's best day and best
// 7-day window. Values only ever rise, except through a full reset.
type FacilityPeak struct {
	Facility   string    `gorm:"primaryKey;size:128" json:"facility"`
	PeakDay    int64     `json:"peak_day"`
	PeakWeekly int64     `json:"peak_weekly"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (FacilityPeak) TableName() string { return "facility_peaks" }
