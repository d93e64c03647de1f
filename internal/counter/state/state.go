package state

import (
	"sync"
	"time"

	"github.com/tallyworks/tallyd/internal/counter/domain"
)

type entry struct {
	net         int64
	hourly      [24]int64
	lastUpdated time.Time
}

// Store holds the authoritative in-memory counter state. Each key keeps a
// signed net accumulator plus 24 hourly buckets; the clamp to zero happens
// on read, never on the accumulator itself, so an increment arriving after
// a burst of decrements still cancels one of them.
type Store struct {
	mu      sync.RWMutex
	entries map[domain.Key]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[domain.Key]*entry)}
}

func clamp(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// Get returns the visible state for a key. Unseen keys read as zero.
func (s *Store) Get(key domain.Key) domain.CounterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return domain.CounterState{}
	}
	return domain.CounterState{Count: clamp(e.net), LastUpdated: e.lastUpdated}
}

// ApplyDelta folds one delta into the key's net accumulator and its hourly
// bucket, creating the entry on first touch. Returns the new visible state.
func (s *Store) ApplyDelta(key domain.Key, delta int64, at time.Time) domain.CounterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.net += delta
	e.hourly[domain.HourOf(at)] += delta
	e.lastUpdated = at.UTC()
	return domain.CounterState{Count: clamp(e.net), LastUpdated: e.lastUpdated}
}

// SetCount overwrites a key's net accumulator with the durable value.
func (s *Store) SetCount(key domain.Key, net int64, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.net = net
	if !updatedAt.IsZero() {
		e.lastUpdated = updatedAt.UTC()
	}
}

// SetHourly overwrites a key's hourly buckets with durable sums.
func (s *Store) SetHourly(key domain.Key, hourly [24]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.hourly = hourly
}

// Drop removes a key entirely. Used when durable truth has no record of it.
func (s *Store) Drop(key domain.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// CountsForDate returns facility -> line -> clamped count for one date.
func (s *Store) CountsForDate(date string) map[string]map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]int64)
	for key, e := range s.entries {
		if key.Date != date {
			continue
		}
		lines, ok := out[key.Facility]
		if !ok {
			lines = make(map[string]int64)
			out[key.Facility] = lines
		}
		lines[key.Line] = clamp(e.net)
	}
	return out
}

// HourlyForDate returns facility -> line -> 24 hourly net deltas for one date.
func (s *Store) HourlyForDate(date string) domain.HourlyRates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(domain.HourlyRates)
	for key, e := range s.entries {
		if key.Date != date {
			continue
		}
		lines, ok := out[key.Facility]
		if !ok {
			lines = make(map[string][]int64)
			out[key.Facility] = lines
		}
		buckets := make([]int64, 24)
		copy(buckets, e.hourly[:])
		lines[key.Line] = buckets
	}
	return out
}

// HistoricalForDate returns facility -> line -> visible state for one date.
func (s *Store) HistoricalForDate(date string) domain.HistoricalData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(domain.HistoricalData)
	for key, e := range s.entries {
		if key.Date != date {
			continue
		}
		lines, ok := out[key.Facility]
		if !ok {
			lines = make(map[string]domain.CounterState)
			out[key.Facility] = lines
		}
		lines[key.Line] = domain.CounterState{Count: clamp(e.net), LastUpdated: e.lastUpdated}
	}
	return out
}

// DailyTotal sums the clamped counts of every key on one date.
func (s *Store) DailyTotal(date string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for key, e := range s.entries {
		if key.Date == date {
			total += clamp(e.net)
		}
	}
	return total
}

// FacilityDailyTotal sums the clamped counts of one facility's lines on
// one date.
func (s *Store) FacilityDailyTotal(facility, date string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for key, e := range s.entries {
		if key.Facility == facility && key.Date == date {
			total += clamp(e.net)
		}
	}
	return total
}

// KeysForDate lists every key recorded for one date.
func (s *Store) KeysForDate(date string) []domain.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []domain.Key
	for key := range s.entries {
		if key.Date == date {
			keys = append(keys, key)
		}
	}
	return keys
}

// SeenDate reports whether any key exists for the date.
func (s *Store) SeenDate(date string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := range s.entries {
		if key.Date == date {
			return true
		}
	}
	return false
}

// Size returns the number of tracked keys.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset drops all in-memory state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[domain.Key]*entry)
}
