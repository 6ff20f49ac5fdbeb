package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards a fixed fraction of pipeline latency events to
// an inner Observer, trading metrics fidelity for logging volume on a
// high-call-rate deployment. Driven by the gateway's METRICS_SAMPLE_RATE
// config field (pkg/config, default 1.0 -- sample everything) and wired
// between the JSONL sink and the async wrapper in cmd/server/main.go.
type SamplingObserver struct {
	inner       Observer
	rate        float64
	sampleEvery uint64
	counter     uint64
}

// Rate reports the configured sampling fraction, for diagnostics/tests.
func (s *SamplingObserver) Rate() float64 { return s.rate }

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	if rate > 1 {
		rate = 1
	}
	if rate < 0 {
		rate = 0
	}
	var every uint64
	if rate == 0 {
		every = 0
	} else if rate == 1 {
		every = 1
	} else {
		every = uint64(math.Round(1.0 / rate))
		if every == 0 {
			every = 1
		}
	}
	return &SamplingObserver{inner: inner, rate: rate, sampleEvery: every}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.rate == 0 {
		return
	}
	if s.sampleEvery <= 1 {
		s.inner.RecordEvent(ev)
		return
	}
	n := atomic.AddUint64(&s.counter, 1)
	if n%s.sampleEvery == 0 {
		s.inner.RecordEvent(ev)
	}
}
