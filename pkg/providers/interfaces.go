// Package providers defines the capability interfaces the Voice
// Orchestrator calls against — StreamingSttProvider, TranslationProvider,
// TtsProvider — and the registry used to build one by name at startup.
// Grounded on the teacher's pkg/adapters/{stt,tts} vendor-neutral
// interfaces, narrowed from a persistent streaming session (Start/
// SendAudio/Results channel) to a single blocking call per unit of work,
// per spec.md §4.3/§9: providers are selected once at startup and every
// AudioFrame/TranslationChunk is a self-contained request, there is no
// long-lived per-call provider session to manage.
package providers

import (
	"context"

	"github.com/vozlink/gateway/pkg/domain"
)

// StreamingSttProvider transcribes one inbound audio frame. A nil
// TranscriptionChunk with a nil error means the frame produced no
// transcript (below VAD threshold, pure silence) — not an error.
type StreamingSttProvider interface {
	Name() string
	Transcribe(ctx context.Context, frame domain.AudioFrame) (*domain.TranscriptionChunk, error)
}

// TranslationProvider translates one final transcript into the session's
// target language.
type TranslationProvider interface {
	Name() string
	Translate(ctx context.Context, chunk domain.TranscriptionChunk, target domain.LanguageCode) (*domain.TranslationChunk, error)
}

// TtsProvider synthesizes one translated chunk into outbound audio.
type TtsProvider interface {
	Name() string
	Synthesize(ctx context.Context, chunk domain.TranslationChunk) (*domain.TtsChunk, error)
}
