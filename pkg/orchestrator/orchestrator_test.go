package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/egress"
	"github.com/vozlink/gateway/pkg/metrics"
	"github.com/vozlink/gateway/pkg/providers/stub"
	"github.com/vozlink/gateway/pkg/session"
)

// failingSTT simulates an ordinary vendor hiccup (rate limit, dropped
// connection, etc) — the kind of transient error a real adapter returns
// on otherwise-healthy frames.
type failingSTT struct{}

func (failingSTT) Name() string { return "failing_stt" }
func (failingSTT) Transcribe(ctx context.Context, frame domain.AudioFrame) (*domain.TranscriptionChunk, error) {
	return nil, errors.New("vendor: rate limited")
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (r *recordingSink) Publish(evt domain.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingSink) types() []domain.SessionEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SessionEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// wiredEgress constructs an Egress Store plus an OnTtsChunk callback that
// enqueues into it and reports stats back to the Orchestrator, mirroring
// how cmd/server/main.go wires the Boundary layer per spec.md §4.4.
func wiredEgress(o **Orchestrator) (*egress.Store, func(sessionID string, chunk domain.TtsChunk)) {
	store := egress.New(0)
	return store, func(sessionID string, chunk domain.TtsChunk) {
		result := store.Enqueue(sessionID, chunk)
		(*o).ReportEgressStats(sessionID, result)
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *egress.Store, *recordingSink) {
	t.Helper()
	stt, err := stub.NewSTT(map[string]any{"transcript": "hola"})
	if err != nil {
		t.Fatalf("NewSTT: %v", err)
	}
	mt, err := stub.NewTranslation(nil)
	if err != nil {
		t.Fatalf("NewTranslation: %v", err)
	}
	tts, err := stub.NewTTS(nil)
	if err != nil {
		t.Fatalf("NewTTS: %v", err)
	}
	sink := &recordingSink{}
	var o *Orchestrator
	store, onTtsChunk := wiredEgress(&o)
	o = New(Config{
		Sessions:   session.New(),
		STT:        stt,
		MT:         mt,
		TTS:        tts,
		Events:     sink,
		OnTtsChunk: onTtsChunk,
	})
	return o, store, sink
}

func TestOnIncomingCallStartsAndEmitsEvent(t *testing.T) {
	o, _, sink := newTestOrchestrator(t)
	sess, err := o.OnIncomingCall(domain.IncomingCallEvent{Source: domain.IngressSIPBridge, ExternalCallID: "c1"}, "+1")
	if err != nil {
		t.Fatalf("OnIncomingCall: %v", err)
	}
	if sess.State != domain.StateActive {
		t.Fatalf("expected active state, got %s", sess.State)
	}
	types := sink.types()
	if len(types) != 1 || types[0] != domain.EventSessionStarted {
		t.Fatalf("expected single session.started event, got %v", types)
	}
}

func TestOnIncomingCallIsIdempotentForSameExternalID(t *testing.T) {
	o, _, sink := newTestOrchestrator(t)
	evt := domain.IncomingCallEvent{Source: domain.IngressSIPBridge, ExternalCallID: "c1"}
	first, _ := o.OnIncomingCall(evt, "+1")
	second, _ := o.OnIncomingCall(evt, "+1")
	if first.ID != second.ID {
		t.Fatalf("expected same session id on repeated handshake")
	}
	if len(sink.types()) != 1 {
		t.Fatalf("expected only one session.started event, got %d", len(sink.types()))
	}
}

func TestOnAudioFrameRejectsUnknownSession(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	err := o.OnAudioFrame(context.Background(), domain.AudioFrame{SessionID: "does-not-exist", Payload: []byte{1}})
	if err == nil {
		t.Fatalf("expected error for unknown session")
	}
}

func TestOnAudioFrameDrivesFullPipeline(t *testing.T) {
	o, store, sink := newTestOrchestrator(t)
	sess, _ := o.OnIncomingCall(domain.IncomingCallEvent{Source: domain.IngressSIPBridge, ExternalCallID: "c1"}, "+1")

	err := o.OnAudioFrame(context.Background(), domain.AudioFrame{
		SessionID:   sess.ID,
		Payload:     []byte{1, 2, 3, 4},
		TimestampMs: 1000,
	})
	if err != nil {
		t.Fatalf("OnAudioFrame: %v", err)
	}

	chunk, ok := store.Dequeue(sess.ID)
	if !ok {
		t.Fatalf("expected a synthesized chunk in the egress store")
	}
	if chunk.SessionID != sess.ID {
		t.Fatalf("unexpected chunk session id: %s", chunk.SessionID)
	}

	types := sink.types()
	if len(types) != 3 {
		t.Fatalf("expected started+transcript+translation events, got %v", types)
	}
	if types[1] != domain.EventSessionTranscript || types[2] != domain.EventSessionTranslation {
		t.Fatalf("unexpected event order: %v", types)
	}

	m, ok := o.SessionMetrics(sess.ID)
	if !ok || m.TranslatedChunks != 1 {
		t.Fatalf("expected one translated chunk recorded, got %+v", m)
	}
}

func TestOnAudioFrameDropsBelowMinInterval(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	o.minFrameInterval = 400 * time.Millisecond
	sess, _ := o.OnIncomingCall(domain.IncomingCallEvent{Source: domain.IngressSIPBridge, ExternalCallID: "c1"}, "+1")

	if err := o.OnAudioFrame(context.Background(), domain.AudioFrame{SessionID: sess.ID, Payload: []byte{1}, TimestampMs: 1000}); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if err := o.OnAudioFrame(context.Background(), domain.AudioFrame{SessionID: sess.ID, Payload: []byte{1}, TimestampMs: 1100}); err != nil {
		t.Fatalf("second frame: %v", err)
	}

	m, _ := o.SessionMetrics(sess.ID)
	if m.DroppedFrames != 1 {
		t.Fatalf("expected one dropped frame, got %d", m.DroppedFrames)
	}
}

func TestPassthroughModeBypassesPipeline(t *testing.T) {
	o, store, sink := newTestOrchestrator(t)
	sess, _ := o.OnIncomingCall(domain.IncomingCallEvent{Source: domain.IngressSIPBridge, ExternalCallID: "c1"}, "+1")
	mode := domain.ModePassthrough
	if _, err := o.UpdateSessionControl(sess.ID, domain.ControlPatch{Mode: &mode}); err != nil {
		t.Fatalf("UpdateSessionControl: %v", err)
	}

	if err := o.OnAudioFrame(context.Background(), domain.AudioFrame{
		SessionID: sess.ID, Payload: []byte{9, 9, 9}, TimestampMs: 1000,
	}); err != nil {
		t.Fatalf("OnAudioFrame: %v", err)
	}

	if _, ok := store.Dequeue(sess.ID); ok {
		t.Fatalf("expected no egress chunk in passthrough mode: pipeline must not run")
	}

	m, _ := o.SessionMetrics(sess.ID)
	if m.PassthroughFrames != 1 || m.TranslatedChunks != 0 {
		t.Fatalf("unexpected metrics for passthrough frame: %+v", m)
	}
	// control update event only, pipeline events never fire in passthrough.
	types := sink.types()
	if len(types) != 2 || types[1] != domain.EventSessionControlUpdated {
		t.Fatalf("unexpected events: %v", types)
	}
}

// The Orchestrator no longer owns the Egress Store (spec.md §4.4, §4.3):
// clearing queued audio on end is the Boundary layer's job, done right
// after this call returns. This test covers only EndSession's own
// idempotency and event-emission contract.
func TestEndSessionIsIdempotent(t *testing.T) {
	o, _, sink := newTestOrchestrator(t)
	sess, _ := o.OnIncomingCall(domain.IncomingCallEvent{Source: domain.IngressSIPBridge, ExternalCallID: "c1"}, "+1")

	if err := o.EndSession(sess.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := o.EndSession(sess.ID); err != nil {
		t.Fatalf("EndSession idempotent call: %v", err)
	}

	ended := 0
	for _, ty := range sink.types() {
		if ty == domain.EventSessionEnded {
			ended++
		}
	}
	if ended != 1 {
		t.Fatalf("expected exactly one session.ended event, got %d", ended)
	}
}

func TestAudioFrameRecordsLatencyMetrics(t *testing.T) {
	stt, err := stub.NewSTT(map[string]any{"transcript": "hola"})
	if err != nil {
		t.Fatalf("NewSTT: %v", err)
	}
	mt, err := stub.NewTranslation(nil)
	if err != nil {
		t.Fatalf("NewTranslation: %v", err)
	}
	tts, err := stub.NewTTS(nil)
	if err != nil {
		t.Fatalf("NewTTS: %v", err)
	}
	observer := metrics.NewMemoryObserver()
	var o *Orchestrator
	_, onTtsChunk := wiredEgress(&o)
	o = New(Config{
		Sessions:   session.New(),
		STT:        stt,
		MT:         mt,
		TTS:        tts,
		Events:     &recordingSink{},
		OnTtsChunk: onTtsChunk,
		Metrics:    observer,
	})
	sess, _ := o.OnIncomingCall(domain.IncomingCallEvent{Source: domain.IngressSIPBridge, ExternalCallID: "c1"}, "+1")

	if err := o.OnAudioFrame(context.Background(), domain.AudioFrame{
		SessionID: sess.ID, Payload: []byte{1, 2, 3}, TimestampMs: 1000,
	}); err != nil {
		t.Fatalf("OnAudioFrame: %v", err)
	}

	if len(observer.Events) == 0 {
		t.Fatalf("expected at least one recorded metrics event for a translated frame")
	}
	for _, stage := range []metrics.Stage{metrics.StageSTT, metrics.StageTranslation, metrics.StageTTS, metrics.StagePipeline} {
		if len(observer.LatenciesForStage(stage)) == 0 {
			t.Fatalf("expected a recorded latency sample for stage %q", stage)
		}
	}

	var sawEgress bool
	for _, ev := range observer.Events {
		if ev.Stage == metrics.StageEgress {
			sawEgress = true
			if _, ok := ev.Counters["queue_size"]; !ok {
				t.Fatalf("expected egress metrics event to carry a queue_size counter")
			}
		}
	}
	if !sawEgress {
		t.Fatalf("expected an egress-stage metrics event")
	}
}

// A provider error must never surface as an OnAudioFrame error: spec.md §7
// treats provider failure as an absorbed null result, and §9 requires the
// Orchestrator never throw to the Boundary layer over an ordinary vendor
// hiccup.
func TestOnAudioFrameAbsorbsProviderErrors(t *testing.T) {
	mt, err := stub.NewTranslation(nil)
	if err != nil {
		t.Fatalf("NewTranslation: %v", err)
	}
	tts, err := stub.NewTTS(nil)
	if err != nil {
		t.Fatalf("NewTTS: %v", err)
	}
	sink := &recordingSink{}
	var o *Orchestrator
	store, onTtsChunk := wiredEgress(&o)
	o = New(Config{
		Sessions:   session.New(),
		STT:        failingSTT{},
		MT:         mt,
		TTS:        tts,
		Events:     sink,
		OnTtsChunk: onTtsChunk,
	})
	sess, _ := o.OnIncomingCall(domain.IncomingCallEvent{Source: domain.IngressSIPBridge, ExternalCallID: "c1"}, "+1")

	if err := o.OnAudioFrame(context.Background(), domain.AudioFrame{
		SessionID: sess.ID, Payload: []byte{1, 2, 3}, TimestampMs: 1000,
	}); err != nil {
		t.Fatalf("expected provider error to be absorbed, got %v", err)
	}

	if _, ok := store.Dequeue(sess.ID); ok {
		t.Fatalf("expected no egress chunk when STT fails")
	}
	types := sink.types()
	if len(types) != 1 || types[0] != domain.EventSessionStarted {
		t.Fatalf("expected no transcript/translation events after a failed STT call, got %v", types)
	}
}
