// Package translate adapts an OpenAI-compatible chat completions endpoint
// into a TranslationProvider. Grounded on the teacher's
// pkg/providers/openai.Adapter: same request shape, same rate-limit
// detection via resilience.RateLimitError, same bearer-token header.
// Stripped of everything that belongs to a conversational agent —
// streaming deltas, tool calls, handoff markers — because a translation
// call is a single non-streaming request/response per transcript.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vozlink/gateway/pkg/configutil"
	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/providers"
	"github.com/vozlink/gateway/pkg/resilience"
)

// Config is decoded from the gateway's provider settings map.
type Config struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type Provider struct {
	cfg     Config
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
}

var settingsSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "base_url"},
}

func New(settings map[string]any) (*Provider, error) {
	if err := configutil.ValidateSettings(settings, settingsSchema); err != nil {
		return nil, err
	}
	cfg := Config{Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"}
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(cfg.APIKey, "translate.api_key"); err != nil {
		return nil, err
	}
	return &Provider{
		cfg:     cfg,
		client:  &http.Client{Timeout: 15 * time.Second},
		breaker: resilience.NewProviderCircuitBreaker(resilience.StageTranslation),
		retry:   resilience.NewProviderRetryPolicy(resilience.StageTranslation),
	}, nil
}

func (p *Provider) Name() string { return "openai_translate" }

// Translate sends a single chat-completion request asking for a
// translation and nothing else. The system prompt is deliberately rigid
// (no commentary, no alternate phrasing) since the caller only wants the
// translated string back.
func (p *Provider) Translate(ctx context.Context, chunk domain.TranscriptionChunk, target domain.LanguageCode) (*domain.TranslationChunk, error) {
	if !p.breaker.Allow() {
		return nil, resilience.RateLimitError{Provider: "openai_translate", Message: "circuit open"}
	}

	var text string
	err := p.retry.Do(func() error {
		t, callErr := p.call(ctx, chunk.Text, chunk.Language, target)
		if callErr != nil {
			p.breaker.OnError(callErr)
			return callErr
		}
		text = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.breaker.OnSuccess()

	return &domain.TranslationChunk{
		SessionID:      chunk.SessionID,
		Text:           text,
		SourceLanguage: chunk.Language,
		TargetLanguage: target,
		TimestampMs:    chunk.TimestampMs,
	}, nil
}

func (p *Provider) call(ctx context.Context, text string, source, target domain.LanguageCode) (string, error) {
	prompt := fmt.Sprintf("Translate the following %s text to %s. Reply with only the translation, no notes.", source, target)
	body, err := json.Marshal(map[string]any{
		"model": p.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": prompt},
			{"role": "user", "content": text},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(resp.Body)
		return "", resilience.RateLimitError{Provider: "openai_translate", Message: string(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai_translate status %d: %s", resp.StatusCode, raw)
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openai_translate: no choices")
	}
	return payload.Choices[0].Message.Content, nil
}

var _ providers.TranslationProvider = (*Provider)(nil)
