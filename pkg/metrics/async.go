package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver forwards MetricsEvents to an inner Observer off the
// pipeline's hot path, so a stalled JSONL/HTTP sink never blocks
// OnAudioFrame. Drops are tracked per pipeline Stage rather than as a
// single total: STT fires once per accepted frame (the highest call
// rate of the three providers) and is expected to be the first stage
// shed under backpressure, so an operator diagnosing metric gaps needs
// to know which stage is starving, not just that the buffer filled.
type AsyncObserver struct {
	inner  Observer
	ch     chan MetricsEvent
	closed atomic.Bool
	once   sync.Once

	mu      sync.Mutex
	dropped map[Stage]int64
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner:   inner,
		ch:      make(chan MetricsEvent, buffer),
		dropped: make(map[Stage]int64),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil || a.closed.Load() {
		return
	}
	select {
	case a.ch <- ev:
	default:
		a.mu.Lock()
		a.dropped[ev.Stage]++
		a.mu.Unlock()
	}
}

// Dropped returns the total events shed across all stages.
func (a *AsyncObserver) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for _, n := range a.dropped {
		total += n
	}
	return total
}

// DroppedByStage returns a snapshot of drop counts per pipeline stage.
func (a *AsyncObserver) DroppedByStage() map[Stage]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[Stage]int64, len(a.dropped))
	for k, v := range a.dropped {
		out[k] = v
	}
	return out
}

func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.ch)
	})
}

func (a *AsyncObserver) loop() {
	for ev := range a.ch {
		a.inner.RecordEvent(ev)
	}
}
