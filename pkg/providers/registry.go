package providers

import (
	"fmt"
	"strings"
)

// SttFactory builds a StreamingSttProvider from raw vendor settings.
type SttFactory func(settings map[string]any) (StreamingSttProvider, error)

// TranslationFactory builds a TranslationProvider from raw vendor settings.
type TranslationFactory func(settings map[string]any) (TranslationProvider, error)

// TtsFactory builds a TtsProvider from raw vendor settings.
type TtsFactory func(settings map[string]any) (TtsProvider, error)

// Registry maps provider names to constructors, grounded on the teacher's
// pkg/ranya.ProviderRegistry. Selection happens once at startup (spec.md
// §9 design note) — there is no runtime capability negotiation.
type Registry struct {
	stt map[string]SttFactory
	mt  map[string]TranslationFactory
	tts map[string]TtsFactory
}

func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]SttFactory),
		mt:  make(map[string]TranslationFactory),
		tts: make(map[string]TtsFactory),
	}
}

func (r *Registry) RegisterSTT(name string, factory SttFactory) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *Registry) RegisterTranslation(name string, factory TranslationFactory) {
	r.mt[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *Registry) RegisterTTS(name string, factory TtsFactory) {
	r.tts[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *Registry) BuildSTT(name string, settings map[string]any) (StreamingSttProvider, error) {
	fn := r.stt[strings.ToLower(strings.TrimSpace(name))]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", name)
	}
	return fn(settings)
}

func (r *Registry) BuildTranslation(name string, settings map[string]any) (TranslationProvider, error) {
	fn := r.mt[strings.ToLower(strings.TrimSpace(name))]
	if fn == nil {
		return nil, fmt.Errorf("translation provider not registered: %s", name)
	}
	return fn(settings)
}

func (r *Registry) BuildTTS(name string, settings map[string]any) (TtsProvider, error) {
	fn := r.tts[strings.ToLower(strings.TrimSpace(name))]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", name)
	}
	return fn(settings)
}
