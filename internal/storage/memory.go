package storage

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"silowatch/internal/silo"
)

// memoryStore keeps everything in process memory. Used by tests and the
// "memory" driver. Safe for concurrent use.
type memoryStore struct {
	mu       sync.RWMutex
	readings map[string][]silo.Reading // silo id -> readings in insert order
	states   map[string]silo.DerivedState
	events   []silo.Event
	alerts   []silo.Alert
	outcomes []silo.DeliveryOutcome
}

func NewMemory() Store {
	return &memoryStore{
		readings: map[string][]silo.Reading{},
		states:   map[string]silo.DerivedState{},
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) LastReading(_ context.Context, siloID string) (*silo.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs := m.readings[siloID]
	if len(rs) == 0 {
		return nil, nil
	}
	r := rs[len(rs)-1]
	return &r, nil
}

func (m *memoryStore) SaveReading(_ context.Context, r *silo.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, prev := range m.readings[r.SiloID] {
		if prev.Timestamp.Equal(r.Timestamp) {
			return nil // (silo_id, ts) unique
		}
	}
	m.readings[r.SiloID] = append(m.readings[r.SiloID], *r)
	return nil
}

func (m *memoryStore) DerivedState(_ context.Context, siloID string) (*silo.DerivedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[siloID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *memoryStore) SaveDerivedState(_ context.Context, st *silo.DerivedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.SiloID] = *st
	return nil
}

func (m *memoryStore) SaveEvent(_ context.Context, e *silo.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memoryStore) SaveAlert(_ context.Context, a *silo.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, *a)
	return nil
}

func (m *memoryStore) SaveOutcome(_ context.Context, o *silo.DeliveryOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, *o)
	return nil
}

func (m *memoryStore) RecentAlerts(_ context.Context, siloID string, limit int) ([]silo.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []silo.Alert
	for _, a := range m.alerts {
		if siloID == "" || a.SiloID == siloID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) AcknowledgeAlert(_ context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == alertID {
			m.alerts[i].Acknowledged = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryStore) UndeliveredAlerts(_ context.Context, retryBudget, limit int) ([]silo.Alert, error) {
	if retryBudget <= 0 {
		retryBudget = 3
	}
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	failed := map[string]int{}
	delivered := map[string]bool{}
	for _, o := range m.outcomes {
		switch o.Status {
		case silo.DeliveryFailed:
			failed[o.AlertID]++
		case silo.DeliveryDelivered:
			delivered[o.AlertID] = true
		}
	}

	var out []silo.Alert
	for _, a := range m.alerts {
		n := failed[a.ID]
		if n > 0 && !delivered[a.ID] && n < retryBudget {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
