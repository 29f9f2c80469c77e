package logging

import (
	"sync"
	"sync/atomic"
)

// Metrics holds process counters: events routed per type plus free-form
// telemetry keys the session updates. The zero value is ready to use.
type Metrics struct {
	eventsTotal  atomic.Uint64
	droppedTotal atomic.Uint64

	mu        sync.Mutex
	byType    map[EventType]uint64
	telemetry map[string]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		byType:    make(map[EventType]uint64),
		telemetry: make(map[string]uint64),
	}
}

func (m *Metrics) countType(t EventType) {
	m.mu.Lock()
	if m.byType == nil {
		m.byType = make(map[EventType]uint64)
	}
	m.byType[t]++
	m.mu.Unlock()
}

func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.telemetry == nil {
		m.telemetry = make(map[string]uint64)
	}
	m.telemetry[key] += delta
	m.mu.Unlock()
}

func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.telemetry == nil {
		m.telemetry = make(map[string]uint64)
	}
	m.telemetry[key] = value
	m.mu.Unlock()
}

// Snapshot copies every counter into a flat map. Event type counts are
// keyed "events.<type>".
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	out["events.total"] = m.eventsTotal.Load()
	out["events.dropped"] = m.droppedTotal.Load()
	m.mu.Lock()
	defer m.mu.Unlock()
	for t, n := range m.byType {
		out["events."+string(t)] = n
	}
	for k, v := range m.telemetry {
		out[k] = v
	}
	return out
}
