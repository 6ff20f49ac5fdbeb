// Package orchestrator implements the Voice Orchestrator: the component
// that turns an IncomingCallEvent into an active CallSession and drives
// every inbound AudioFrame through STT -> MT -> TTS -> Egress Store,
// emitting SessionEvents and per-session metrics along the way. Grounded
// on the teacher's pkg/ranya.Engine for lifecycle-and-observer wiring
// (metrics.Observer, errorsx.ReasonedError), but the pipeline itself is
// written fresh: the teacher's engine runs an async multi-stage turn
// pipeline with interruption and tool dispatch, while spec.md §4.4
// describes a single sequential per-frame pass with no turn-taking.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/egress"
	"github.com/vozlink/gateway/pkg/errorsx"
	"github.com/vozlink/gateway/pkg/logging"
	"github.com/vozlink/gateway/pkg/metrics"
	"github.com/vozlink/gateway/pkg/providers"
	"github.com/vozlink/gateway/pkg/session"
)

// EventSink receives SessionEvents for relay through the External Event
// Bridge. It must not block the orchestrator's call path.
type EventSink interface {
	Publish(evt domain.SessionEvent)
}

// Orchestrator is safe for concurrent use: frame handling can run
// concurrently across sessions and within a session. Frames of one
// session are not serialized against each other; each session's
// callState lock guards only its counters and rate-limit cursor.
type Orchestrator struct {
	sessions *session.Store

	stt providers.StreamingSttProvider
	mt  providers.TranslationProvider
	tts providers.TtsProvider

	events     EventSink
	onTtsChunk func(sessionID string, chunk domain.TtsChunk)
	metrics    metrics.Observer
	logger     *slog.Logger

	minFrameInterval time.Duration

	mu      sync.Mutex
	perCall map[string]*callState
}

// callState holds one session's rate-limiting cursor and metrics
// snapshot. Each accessor takes its own short-lived lock rather than one
// held across a whole OnAudioFrame call: a provider call or the
// OnTtsChunk callback may re-enter the Orchestrator (ReportEgressStats)
// on the same goroutine, and a lock held across that boundary would
// deadlock against itself.
type callState struct {
	mu            sync.Mutex
	lastFrameAtMs int64
	hasLastFrame  bool
	m             domain.SessionMetrics
}

// checkRateLimit reports whether frame should be dropped for arriving
// too soon after the previous one (spec.md §4.4.2.c), updating the
// last-frame cursor and dropped-frame counter atomically.
func (c *callState) checkRateLimit(timestampMs int64, minInterval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if minInterval > 0 && c.hasLastFrame {
		delta := timestampMs - c.lastFrameAtMs
		if delta >= 0 && time.Duration(delta)*time.Millisecond < minInterval {
			c.m.DroppedFrames++
			return true
		}
	}
	c.lastFrameAtMs = timestampMs
	c.hasLastFrame = true
	return false
}

func (c *callState) incrPassthrough() {
	c.mu.Lock()
	c.m.PassthroughFrames++
	c.mu.Unlock()
}

func (c *callState) setSTTLatency(ms int64) {
	c.mu.Lock()
	c.m.LastSTTLatencyMs = ms
	c.mu.Unlock()
}

func (c *callState) setTranslationLatency(ms int64) {
	c.mu.Lock()
	c.m.LastTranslationLatMs = ms
	c.mu.Unlock()
}

func (c *callState) incrTranslatedChunks() {
	c.mu.Lock()
	c.m.TranslatedChunks++
	c.mu.Unlock()
}

func (c *callState) setTTSLatency(ms int64) {
	c.mu.Lock()
	c.m.LastTTSLatencyMs = ms
	c.mu.Unlock()
}

// setPipelineLatency records the end-to-end latency for this frame and
// returns the translated-chunk count for the event emitted alongside it.
func (c *callState) setPipelineLatency(ms int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.LastPipelineLatencyMs = ms
	return c.m.TranslatedChunks
}

// recordEgressStats updates the egress gauges/counter and returns the
// running drop count for the metrics event.
func (c *callState) recordEgressStats(stats egress.EnqueueResult) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stats.DroppedOldest {
		c.m.EgressDropCount++
	}
	if int64(stats.QueueSize) > c.m.EgressQueuePeak {
		c.m.EgressQueuePeak = int64(stats.QueueSize)
	}
	return c.m.EgressDropCount
}

// Config holds the construction-time dependencies wired once at startup
// per spec.md §9's design note: providers never change after this call.
type Config struct {
	Sessions *session.Store
	STT      providers.StreamingSttProvider
	MT       providers.TranslationProvider
	TTS      providers.TtsProvider
	Events   EventSink
	// OnTtsChunk delivers a synthesized chunk to the Egress Store. The
	// Boundary layer supplies this at construction (per spec.md §4.4):
	// it enqueues the chunk and reports the resulting queue stats back
	// via ReportEgressStats. A nil callback silently discards TTS output.
	OnTtsChunk       func(sessionID string, chunk domain.TtsChunk)
	Metrics          metrics.Observer
	BaseLogger       *slog.Logger
	MinFrameInterval time.Duration
}

func New(cfg Config) *Orchestrator {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopObserver{}
	}
	return &Orchestrator{
		sessions:         cfg.Sessions,
		stt:              cfg.STT,
		mt:               cfg.MT,
		tts:              cfg.TTS,
		events:           cfg.Events,
		onTtsChunk:       cfg.OnTtsChunk,
		metrics:          cfg.Metrics,
		logger:           logging.NewComponentLogger(cfg.BaseLogger, "orchestrator"),
		minFrameInterval: cfg.MinFrameInterval,
		perCall:          make(map[string]*callState),
	}
}

// OnIncomingCall resolves an existing session for this external call id,
// or creates and activates a new one. A handshake retried by the ingress
// adapter (e.g. a webhook redelivery) must be idempotent, so an existing
// session is returned as-is rather than recreated.
func (o *Orchestrator) OnIncomingCall(evt domain.IncomingCallEvent, outboundTarget string) (*domain.CallSession, error) {
	if existing, ok := o.sessions.GetByExternal(evt.Source, evt.ExternalCallID); ok {
		return existing, nil
	}

	sess := o.sessions.CreateFromIncoming(evt, outboundTarget)
	sess, ok := o.sessions.UpdateState(sess.ID, domain.StateActive)
	if !ok {
		return nil, errorsx.Wrap(errNotFound(sess.ID), errorsx.ReasonUnknownSession)
	}

	o.publish(domain.SessionEvent{
		Type:      domain.EventSessionStarted,
		SessionID: sess.ID,
		AtMs:      sess.StartedAtMs,
		Payload: map[string]any{
			"source":           string(sess.Source),
			"external_call_id": sess.ExternalCallID,
			"mode":             string(sess.Mode),
			"source_language":  string(sess.SourceLanguage),
			"target_language":  string(sess.TargetLanguage),
		},
	})
	return sess, nil
}

// OnAudioFrame drives one inbound frame through the pipeline. Unknown or
// terminal sessions are rejected so a lagging ingress adapter cannot
// resurrect a call the gateway has already torn down.
func (o *Orchestrator) OnAudioFrame(ctx context.Context, frame domain.AudioFrame) error {
	sess, ok := o.sessions.Get(frame.SessionID)
	if !ok {
		return errorsx.Wrap(errNotFound(frame.SessionID), errorsx.ReasonUnknownSession)
	}
	if sess.State.Terminal() {
		return errorsx.Wrap(errNotFound(frame.SessionID), errorsx.ReasonUnknownSession)
	}

	state := o.stateFor(frame.SessionID)

	if state.checkRateLimit(frame.TimestampMs, o.minFrameInterval) {
		return nil
	}

	if sess.Mode == domain.ModePassthrough {
		state.incrPassthrough()
		return nil
	}

	pipelineStart := time.Now()

	sttStart := time.Now()
	transcript, err := o.stt.Transcribe(ctx, frame)
	if err != nil {
		o.logger.Warn("pipeline_provider_call_failed",
			slog.String("session_id", frame.SessionID),
			slog.String("reason", string(errorsx.RateLimitReason(err, errorsx.ReasonSTTRateLimit, errorsx.ReasonSTTRetry))),
			slog.String("error", err.Error()))
		return nil
	}
	sttLatencyMs := time.Since(sttStart).Milliseconds()
	state.setSTTLatency(sttLatencyMs)
	o.recordLatency(frame.SessionID, metrics.StageSTT, sttLatencyMs)
	if transcript == nil || strings.TrimSpace(transcript.Text) == "" {
		return nil
	}
	o.publish(domain.SessionEvent{
		Type:      domain.EventSessionTranscript,
		SessionID: frame.SessionID,
		AtMs:      transcript.TimestampMs,
		Payload:   map[string]any{"text": transcript.Text, "is_final": transcript.IsFinal},
	})

	mtStart := time.Now()
	translation, err := o.mt.Translate(ctx, *transcript, sess.TargetLanguage)
	if err != nil {
		o.logger.Warn("pipeline_provider_call_failed",
			slog.String("session_id", frame.SessionID),
			slog.String("reason", string(errorsx.RateLimitReason(err, errorsx.ReasonMTRateLimit, errorsx.ReasonMTRetry))),
			slog.String("error", err.Error()))
		return nil
	}
	mtLatencyMs := time.Since(mtStart).Milliseconds()
	state.setTranslationLatency(mtLatencyMs)
	o.recordLatency(frame.SessionID, metrics.StageTranslation, mtLatencyMs)
	if translation == nil {
		return nil
	}
	state.incrTranslatedChunks()
	o.publish(domain.SessionEvent{
		Type:      domain.EventSessionTranslation,
		SessionID: frame.SessionID,
		AtMs:      translation.TimestampMs,
		Payload: map[string]any{
			"text":            translation.Text,
			"source_language": string(translation.SourceLanguage),
			"target_language": string(translation.TargetLanguage),
		},
	})

	ttsStart := time.Now()
	audio, err := o.tts.Synthesize(ctx, *translation)
	if err != nil {
		o.logger.Warn("pipeline_provider_call_failed",
			slog.String("session_id", frame.SessionID),
			slog.String("reason", string(errorsx.RateLimitReason(err, errorsx.ReasonTTSRateLimit, errorsx.ReasonTTSRetry))),
			slog.String("error", err.Error()))
		return nil
	}
	ttsLatencyMs := time.Since(ttsStart).Milliseconds()
	state.setTTSLatency(ttsLatencyMs)
	o.recordLatency(frame.SessionID, metrics.StageTTS, ttsLatencyMs)
	if audio == nil {
		return nil
	}

	// onTtsChunk may re-enter the Orchestrator via ReportEgressStats on
	// this same goroutine, so no callState lock may be held here.
	if o.onTtsChunk != nil {
		o.onTtsChunk(frame.SessionID, *audio)
	}

	pipelineLatencyMs := time.Since(pipelineStart).Milliseconds()
	translatedChunks := state.setPipelineLatency(pipelineLatencyMs)
	o.metrics.RecordEvent(metrics.MetricsEvent{
		SessionID: frame.SessionID,
		Stage:     metrics.StagePipeline,
		Time:      time.Now(),
		LatencyMs: float64(pipelineLatencyMs),
		Counters:  map[string]int64{"translated_chunks": translatedChunks},
	})
	return nil
}

// recordLatency emits one MetricsEvent per pipeline stage as it completes,
// so a JSONL/async observer sees per-stage timing instead of only the
// final pipeline total.
func (o *Orchestrator) recordLatency(sessionID string, stage metrics.Stage, latencyMs int64) {
	o.metrics.RecordEvent(metrics.MetricsEvent{
		SessionID: sessionID,
		Stage:     stage,
		Time:      time.Now(),
		LatencyMs: float64(latencyMs),
	})
}

// ReportEgressStats implements spec.md §4.4.3's reportEgressStats operation.
// The Boundary layer calls this once per enqueue into the Egress Store —
// right after the enqueue triggered by the OnTtsChunk callback above — so
// the Orchestrator can update egressQueuePeak/egressDropCount without
// owning the Egress Store itself.
func (o *Orchestrator) ReportEgressStats(sessionID string, stats egress.EnqueueResult) {
	state := o.stateFor(sessionID)
	dropCount := state.recordEgressStats(stats)
	o.metrics.RecordEvent(metrics.MetricsEvent{
		SessionID: sessionID,
		Stage:     metrics.StageEgress,
		Time:      time.Now(),
		Counters: map[string]int64{
			"queue_size":        int64(stats.QueueSize),
			"egress_drop_count": dropCount,
		},
	})
}

// UpdateSessionControl applies a control patch and emits a control-update
// event when it succeeds.
func (o *Orchestrator) UpdateSessionControl(id string, patch domain.ControlPatch) (*domain.CallSession, error) {
	sess, ok := o.sessions.UpdateControl(id, patch)
	if !ok {
		return nil, errorsx.Wrap(errNotFound(id), errorsx.ReasonUnknownSession)
	}
	o.publish(domain.SessionEvent{
		Type:      domain.EventSessionControlUpdated,
		SessionID: id,
		AtMs:      time.Now().UnixMilli(),
		Payload: map[string]any{
			"mode":            string(sess.Mode),
			"source_language": string(sess.SourceLanguage),
			"target_language": string(sess.TargetLanguage),
		},
	})
	return sess, nil
}

// EndSession transitions a session to ended and emits a session-ended
// event. Idempotent: ending an already-ended session succeeds without
// re-emitting the event. Per spec.md §4.3 the Boundary layer, not the
// Orchestrator, clears the Egress Store after this call returns.
func (o *Orchestrator) EndSession(id string) error {
	sess, ok := o.sessions.Get(id)
	if !ok {
		return errorsx.Wrap(errNotFound(id), errorsx.ReasonUnknownSession)
	}
	alreadyEnded := sess.State == domain.StateEnded
	sess, ok = o.sessions.UpdateState(id, domain.StateEnded)
	if !ok {
		return errorsx.Wrap(errNotFound(id), errorsx.ReasonUnknownSession)
	}
	if alreadyEnded {
		return nil
	}
	o.publish(domain.SessionEvent{
		Type:      domain.EventSessionEnded,
		SessionID: id,
		AtMs:      time.Now().UnixMilli(),
	})
	return nil
}

// SessionMetrics returns a snapshot of a session's counters/gauges.
func (o *Orchestrator) SessionMetrics(id string) (domain.SessionMetrics, bool) {
	o.mu.Lock()
	state, ok := o.perCall[id]
	o.mu.Unlock()
	if !ok {
		return domain.SessionMetrics{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.m, true
}

func (o *Orchestrator) stateFor(sessionID string) *callState {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.perCall[sessionID]
	if !ok {
		state = &callState{}
		o.perCall[sessionID] = state
	}
	return state
}

func (o *Orchestrator) publish(evt domain.SessionEvent) {
	if o.events == nil {
		return
	}
	o.events.Publish(evt)
}

type sessionNotFoundError struct{ id string }

func (e sessionNotFoundError) Error() string { return "unknown session: " + e.id }

func errNotFound(id string) error { return sessionNotFoundError{id: id} }
