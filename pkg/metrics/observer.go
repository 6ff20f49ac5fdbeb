// Package metrics records per-stage latency samples and counter deltas for
// the Voice Orchestrator's pipeline, per spec.md §3/§4.4.4's SessionMetrics
// (last-sample gauges, monotonic counters, no histograms).
package metrics

import "time"

// Stage identifies which leg of the STT -> MT -> TTS -> Egress pipeline a
// MetricsEvent was recorded for, mirroring domain.SessionMetrics' gauges
// (LastSTTLatencyMs, LastTranslationLatMs, LastTTSLatencyMs,
// LastPipelineLatencyMs).
type Stage string

const (
	StageSTT         Stage = "stt"
	StageTranslation Stage = "translation"
	StageTTS         Stage = "tts"
	StagePipeline    Stage = "pipeline"
	StageEgress      Stage = "egress"
)

// MetricsEvent is one latency sample for a single session/stage pair,
// alongside any counter deltas (droppedFrames, egressDropCount, ...)
// recorded at the same instant.
type MetricsEvent struct {
	SessionID string
	Stage     Stage
	Time      time.Time
	LatencyMs float64
	Counters  map[string]int64
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
