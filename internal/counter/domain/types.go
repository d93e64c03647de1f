package domain

import (
	"context"
	"time"
)

// Key identifies one counter: a production line at a facility on a civil date.
type Key struct {
	Facility string
	Line     string
	Date     string
}

// CounterState is the externally visible state for a key. Count is clamped at
// zero; the signed net value lives inside the state store.
type CounterState struct {
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// PeakSnapshot carries a facility's record single-day total and record
// 7-day window sum.
type PeakSnapshot struct {
	PeakDay    int64 `json:"peak_day"`
	PeakWeekly int64 `json:"peak_weekly"`
}

// HourlyRates maps facility -> line -> 24 per-hour net deltas (UTC hours).
type HourlyRates map[string]map[string][]int64

// HistoricalData maps facility -> line -> counter state for one date.
type HistoricalData map[string]map[string]CounterState

// Service is the live counter engine consumed by the transport layer.
type Service interface {
	GetCount(ctx context.Context, facility, line, date string) (CounterState, error)
	GetHourlyRates(ctx context.Context, date string) (HourlyRates, error)
	GetHistoricalData(ctx context.Context, date string) (HistoricalData, error)
	Increment(ctx context.Context, facility, line, date string) (CounterState, error)
	Decrement(ctx context.Context, facility, line, date string) (CounterState, error)
	ResetAllData(ctx context.Context) error
}
