// Package domain holds the wire- and state-independent data model shared
// by every component of the gateway: ingress/session/audio/event types.
// Types are tagged variants rather than bare strings so dispatch on them
// is exhaustive and compiler-checked, per the teacher's configuration enum
// style (pkg/ranya/config.go) generalized to runtime data instead of config.
package domain

import (
	"fmt"

	"golang.org/x/text/language"
)

// IngressSource identifies which ingress dialect originated a session.
type IngressSource string

const (
	IngressSIPBridge     IngressSource = "sip-bridge"
	IngressWebhookStream IngressSource = "webhook-stream"
)

func (s IngressSource) Valid() bool {
	switch s {
	case IngressSIPBridge, IngressWebhookStream:
		return true
	default:
		return false
	}
}

func (s IngressSource) String() string { return string(s) }

// LanguageCode is the closed set of languages this gateway translates
// between.
type LanguageCode string

const (
	LanguageES LanguageCode = "es"
	LanguageEN LanguageCode = "en"
)

func (l LanguageCode) Valid() bool {
	switch l {
	case LanguageES, LanguageEN:
		return true
	default:
		return false
	}
}

func (l LanguageCode) String() string { return string(l) }

// Other returns the counterpart language in the fixed es<->en pair, per
// the TranslationProvider cross-language policy in spec.md §4.3.
func (l LanguageCode) Other() LanguageCode {
	if l == LanguageES {
		return LanguageEN
	}
	return LanguageES
}

// ParseLanguageCode validates a raw BCP-47 tag (e.g. "es", "es-MX", "en-US")
// and narrows it to this gateway's closed es<->en pair by base language,
// rejecting anything outside it.
func ParseLanguageCode(raw string) (LanguageCode, error) {
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("unsupported language code %q: %w", raw, err)
	}
	base, _ := tag.Base()
	lc := LanguageCode(base.String())
	if !lc.Valid() {
		return "", fmt.Errorf("unsupported language code %q", raw)
	}
	return lc, nil
}

// SessionMode toggles whether the pipeline runs or frames merely pass
// through uncounted-but-for-metrics.
type SessionMode string

const (
	ModePrivateTranslation SessionMode = "private-translation"
	ModePassthrough        SessionMode = "passthrough"
)

func (m SessionMode) Valid() bool {
	switch m {
	case ModePrivateTranslation, ModePassthrough:
		return true
	default:
		return false
	}
}

// SessionState is the CallSession lifecycle. Transitions are monotonic:
// pending -> active -> (ended | failed). ended and failed are terminal.
type SessionState string

const (
	StatePending SessionState = "pending"
	StateActive  SessionState = "active"
	StateEnded   SessionState = "ended"
	StateFailed  SessionState = "failed"
)

// Terminal reports whether no further transition is legal from this state.
func (s SessionState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// CanTransitionTo reports whether moving from s to next is legal under the
// monotonic state machine in spec.md §3.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatePending:
		return next == StateActive || next == StateEnded || next == StateFailed
	case StateActive:
		return next == StateEnded || next == StateFailed
	default:
		return false
	}
}

// AudioEncoding is the wire encoding of an AudioFrame payload.
type AudioEncoding string

const (
	EncodingPCMS16LE AudioEncoding = "pcm_s16le"
	EncodingMulaw    AudioEncoding = "mulaw"
)

func (e AudioEncoding) Valid() bool {
	switch e {
	case EncodingPCMS16LE, EncodingMulaw:
		return true
	default:
		return false
	}
}

// CallSession is the single authoritative record of a call the gateway is
// bridging. Fields annotated mutable may only change while state is
// pending or active (spec.md §3 invariants).
type CallSession struct {
	ID             string
	Source         IngressSource
	ExternalCallID string
	InboundCaller  string
	OutboundTarget string
	StartedAtMs    int64
	Mode           SessionMode
	SourceLanguage LanguageCode
	TargetLanguage LanguageCode
	State          SessionState
}

// Clone returns a value copy safe to hand to callers outside the store's
// lock.
func (c CallSession) Clone() CallSession { return c }

// IncomingCallEvent is what an Ingress Adapter hands the Session Store /
// Orchestrator on a call handshake, before a CallSession exists.
type IncomingCallEvent struct {
	Source         IngressSource
	ExternalCallID string
	From           string
	To             string
	ReceivedAtMs   int64
}

// ControlPatch carries the subset of CallSession fields an operator may
// update via session control. Nil fields are left unchanged.
type ControlPatch struct {
	Mode           *SessionMode
	SourceLanguage *LanguageCode
	TargetLanguage *LanguageCode
}

// AudioFrame is the inbound unit produced by an Ingress Adapter and
// consumed by the Voice Orchestrator.
type AudioFrame struct {
	SessionID    string
	Source       IngressSource
	SampleRateHz int
	Encoding     AudioEncoding
	TimestampMs  int64
	Payload      []byte
}

// TranscriptionChunk is emitted by an STT provider. A nil *TranscriptionChunk
// return from StreamingSttProvider.Transcribe means "no transcript for this
// frame" (silence, partial below threshold).
type TranscriptionChunk struct {
	SessionID   string
	Text        string
	IsFinal     bool
	Language    LanguageCode
	TimestampMs int64
}

// TranslationChunk is emitted by a TranslationProvider. A nil return means
// the translator declined.
type TranslationChunk struct {
	SessionID      string
	Text           string
	SourceLanguage LanguageCode
	TargetLanguage LanguageCode
	TimestampMs    int64
}

// TtsChunk is the outbound synthesized-audio unit enqueued into the
// Egress Store.
type TtsChunk struct {
	SessionID    string
	Encoding     AudioEncoding
	SampleRateHz int
	Payload      []byte
	TimestampMs  int64
}

// SessionEventType is the closed set of events the Orchestrator emits.
type SessionEventType string

const (
	EventSessionStarted         SessionEventType = "session.started"
	EventSessionEnded           SessionEventType = "session.ended"
	EventSessionControlUpdated  SessionEventType = "session.control.updated"
	EventSessionTranscript      SessionEventType = "session.transcript"
	EventSessionTranslation     SessionEventType = "session.translation"
)

// SessionEvent is the envelope the Orchestrator produces and the External
// Event Bridge consumes.
type SessionEvent struct {
	Type      SessionEventType
	SessionID string
	AtMs      int64
	Payload   map[string]any
}

// SessionMetrics are the per-session counters and latest-sample gauges
// defined in spec.md §3/§4.4.4. Latency fields are last-sample gauges,
// never histograms; counters are strictly monotonic.
type SessionMetrics struct {
	LastSTTLatencyMs      int64
	LastTranslationLatMs  int64
	LastTTSLatencyMs      int64
	LastPipelineLatencyMs int64

	DroppedFrames     int64
	PassthroughFrames int64
	TranslatedChunks  int64
	EgressDropCount   int64
	EgressQueuePeak   int64
}
