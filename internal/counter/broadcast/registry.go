package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tallyworks/tallyd/internal/counter/domain"
	"github.com/tallyworks/tallyd/internal/observability/metrics"
)

// Sink receives frames for one subscriber. Implementations must not block;
// a slow consumer is the sink's problem, not the broadcaster's.
type Sink interface {
	Send(frame domain.Frame) error
}

type subscriber struct {
	sink Sink
	date string
}

// Registry tracks live subscribers and the date each one is viewing.
type Registry struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		subs:    make(map[string]*subscriber),
		metrics: m,
	}
}

// Add registers a sink viewing the given date and returns its id.
func (r *Registry) Add(sink Sink, date string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.subs[id] = &subscriber{sink: sink, date: date}
	r.metrics.SetSubscribers(len(r.subs))
	return id
}

// SetDate switches which date a subscriber is viewing.
func (r *Registry) SetDate(id, date string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[id]; ok {
		sub.date = date
	}
}

// Date returns the date a subscriber is viewing.
func (r *Registry) Date(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return "", false
	}
	return sub.date, true
}

// Remove drops a subscriber.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	r.metrics.SetSubscribers(len(r.subs))
}

// ActiveDates lists the distinct dates currently being viewed.
func (r *Registry) ActiveDates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, sub := range r.subs {
		seen[sub.date] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	return out
}

// SinksByDate groups subscriber sinks by the date they are viewing.
func (r *Registry) SinksByDate() map[string][]Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]Sink)
	for _, sub := range r.subs {
		out[sub.date] = append(out[sub.date], sub.sink)
	}
	return out
}

// Count returns the number of connected subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
