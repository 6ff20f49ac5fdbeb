// Package stub provides deterministic STT/MT/TTS providers used for local
// development and tests, grounded on the teacher's pkg/providers/mock
// package: fixed output, no network calls, same interface surface as a
// real vendor provider.
package stub

import (
	"context"
	"fmt"

	"github.com/vozlink/gateway/pkg/configutil"
	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/providers"
)

// SttConfig controls the stub STT provider's canned transcript.
type SttConfig struct {
	Transcript string `mapstructure:"transcript"`
}

type Stt struct {
	transcript string
}

// NewSTT builds a stub STT provider; cmd/server/main.go passes
// STUB_STT_TEXT (config.Config.StubSTTText) as the "transcript" setting,
// decoded the same way a real vendor's settings would be.
var sttSettingsSchema = configutil.Schema{Optional: []string{"transcript"}}

func NewSTT(settings map[string]any) (*Stt, error) {
	if err := configutil.ValidateSettings(settings, sttSettingsSchema); err != nil {
		return nil, err
	}
	cfg := SttConfig{Transcript: "hola, como estas"}
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	return &Stt{transcript: cfg.Transcript}, nil
}

func (s *Stt) Name() string { return "stub_stt" }

// Transcribe returns the configured canned transcript for every non-empty
// frame, marked final, and nil for an empty frame — the stub exists to make the
// rest of the pipeline observable without a vendor account.
func (s *Stt) Transcribe(ctx context.Context, frame domain.AudioFrame) (*domain.TranscriptionChunk, error) {
	if len(frame.Payload) == 0 {
		return nil, nil
	}
	return &domain.TranscriptionChunk{
		SessionID:   frame.SessionID,
		Text:        s.transcript,
		IsFinal:     true,
		Language:    domain.LanguageES,
		TimestampMs: frame.TimestampMs,
	}, nil
}

// Translation is a stub TranslationProvider that prefixes the source text
// with the target language tag rather than calling a real MT backend.
type Translation struct{}

func NewTranslation(settings map[string]any) (*Translation, error) {
	return &Translation{}, nil
}

func (t *Translation) Name() string { return "stub_translate" }

func (t *Translation) Translate(ctx context.Context, chunk domain.TranscriptionChunk, target domain.LanguageCode) (*domain.TranslationChunk, error) {
	return &domain.TranslationChunk{
		SessionID:      chunk.SessionID,
		Text:           fmt.Sprintf("[%s] %s", target, chunk.Text),
		SourceLanguage: chunk.Language,
		TargetLanguage: target,
		TimestampMs:    chunk.TimestampMs,
	}, nil
}

// TtsConfig controls the stub TTS provider's canned output shape.
type TtsConfig struct {
	SampleRateHz int `mapstructure:"sample_rate_hz"`
	FrameBytes   int `mapstructure:"frame_bytes"`
}

type Tts struct {
	sampleRateHz int
	frameBytes   int
}

var ttsSettingsSchema = configutil.Schema{Optional: []string{"sample_rate_hz", "frame_bytes"}}

func NewTTS(settings map[string]any) (*Tts, error) {
	if err := configutil.ValidateSettings(settings, ttsSettingsSchema); err != nil {
		return nil, err
	}
	cfg := TtsConfig{SampleRateHz: 16000, FrameBytes: 320}
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	return &Tts{sampleRateHz: cfg.SampleRateHz, frameBytes: cfg.FrameBytes}, nil
}

func (t *Tts) Name() string { return "stub_tts" }

// Synthesize returns deterministic silence at the stub's fixed wideband
// PCM shape, enough to exercise the Egress Store without a vendor account.
func (t *Tts) Synthesize(ctx context.Context, chunk domain.TranslationChunk) (*domain.TtsChunk, error) {
	return &domain.TtsChunk{
		SessionID:    chunk.SessionID,
		Encoding:     domain.EncodingPCMS16LE,
		SampleRateHz: t.sampleRateHz,
		Payload:      make([]byte, t.frameBytes),
		TimestampMs:  chunk.TimestampMs,
	}, nil
}

var (
	_ providers.StreamingSttProvider = (*Stt)(nil)
	_ providers.TranslationProvider  = (*Translation)(nil)
	_ providers.TtsProvider          = (*Tts)(nil)
)
