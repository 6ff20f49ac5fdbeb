package metrics

import "sync"

type MemoryObserver struct {
	mu     sync.Mutex
	Events []MetricsEvent
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev MetricsEvent) {
	m.mu.Lock()
	m.Events = append(m.Events, ev)
	m.mu.Unlock()
}

// LatenciesForStage returns the recorded latency samples for one pipeline
// stage, in recording order -- used by tests asserting a specific stage
// was (or wasn't) measured during a run.
func (m *MemoryObserver) LatenciesForStage(stage Stage) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []float64
	for _, ev := range m.Events {
		if ev.Stage == stage {
			out = append(out, ev.LatencyMs)
		}
	}
	return out
}
