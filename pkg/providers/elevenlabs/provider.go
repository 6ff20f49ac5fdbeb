// Package elevenlabs adapts ElevenLabs' streaming-input websocket API into
// a TtsProvider. Grounded on the teacher's pkg/providers/elevenlabs.TTS:
// same websocket dial, same xi-api-key header, same base64 audio-frame
// decoding; unlike the teacher, no keep-alive ticker is run. What changes
// is the shape above it —
// the teacher exposes SendText/Flush/Results() for a continuously spoken
// agent turn; this gateway calls Synthesize once per TranslationChunk and
// waits for ElevenLabs to return final audio for that one utterance,
// since spec.md §4.3 has no notion of an open TTS turn to keep feeding.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vozlink/gateway/pkg/configutil"
	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/logging"
	"github.com/vozlink/gateway/pkg/providers"
	"github.com/vozlink/gateway/pkg/resilience"
)

// Config is decoded from the gateway's provider settings map.
type Config struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	SampleRateHz int    `mapstructure:"sample_rate_hz"`
	WaitAudioMs  int    `mapstructure:"wait_audio_ms"`
}

// Provider holds a single persistent streaming-input connection, reused
// across every TranslationChunk synthesized — reconnecting per chunk
// would add a full websocket handshake to the pipeline's per-frame
// latency budget.
type Provider struct {
	cfg       Config
	logger    *slog.Logger
	waitAudio time.Duration
	breaker   *resilience.CircuitBreaker

	mu   sync.Mutex
	conn *websocket.Conn

	audioCh chan []byte
}

var settingsSchema = configutil.Schema{
	Required: []string{"api_key", "voice_id"},
	Optional: []string{"model_id", "output_format", "sample_rate_hz", "wait_audio_ms"},
}

func New(settings map[string]any) (*Provider, error) {
	if err := configutil.ValidateSettings(settings, settingsSchema); err != nil {
		return nil, err
	}
	cfg := Config{OutputFormat: "ulaw_8000", SampleRateHz: 8000, WaitAudioMs: 4000}
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(cfg.APIKey, "elevenlabs.api_key"); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(cfg.VoiceID, "elevenlabs.voice_id"); err != nil {
		return nil, err
	}
	if err := configutil.RequirePositiveInt(cfg.SampleRateHz, "elevenlabs.sample_rate_hz"); err != nil {
		return nil, err
	}
	if err := configutil.RequirePositiveInt(cfg.WaitAudioMs, "elevenlabs.wait_audio_ms"); err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
		waitAudio: time.Duration(cfg.WaitAudioMs) * time.Millisecond,
		breaker:   resilience.NewProviderCircuitBreaker(resilience.StageTTS),
		audioCh:   make(chan []byte, 16),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Name() string { return "elevenlabs" }

func (p *Provider) connect() error {
	q := url.Values{}
	if p.cfg.ModelID != "" {
		q.Set("model_id", p.cfg.ModelID)
	}
	q.Set("output_format", p.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	target := "wss://api.elevenlabs.io/v1/text-to-speech/" + p.cfg.VoiceID + "/stream-input?" + q.Encode()

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.Dial(target, http.Header{"xi-api-key": []string{p.cfg.APIKey}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		return err
	}
	p.conn = conn

	if err := p.send(map[string]any{
		"text":                   " ",
		"try_trigger_generation": true,
		"voice_settings":         map[string]any{"stability": 0.5, "similarity_boost": 0.8},
	}); err != nil {
		return err
	}

	go p.readLoop()
	p.logger.Info("elevenlabs connected", slog.String("voice_id", p.cfg.VoiceID))
	return nil
}

// Synthesize sends the translated text as one flushed utterance and
// blocks for the resulting audio chunk or a bounded timeout.
func (p *Provider) Synthesize(ctx context.Context, chunk domain.TranslationChunk) (*domain.TtsChunk, error) {
	if !p.breaker.Allow() {
		return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: "circuit open"}
	}
	if err := p.send(map[string]any{"text": chunk.Text + " ", "flush": true}); err != nil {
		p.breaker.OnError(err)
		return nil, err
	}

	timer := time.NewTimer(p.waitAudio)
	defer timer.Stop()
	var buf bytes.Buffer
	for {
		select {
		case audio, ok := <-p.audioCh:
			if !ok {
				p.breaker.OnSuccess()
				return bufferToChunk(chunk, buf.Bytes(), p.cfg)
			}
			buf.Write(audio)
		case <-timer.C:
			p.breaker.OnSuccess()
			return bufferToChunk(chunk, buf.Bytes(), p.cfg)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func bufferToChunk(chunk domain.TranslationChunk, payload []byte, cfg Config) (*domain.TtsChunk, error) {
	if len(payload) == 0 {
		return nil, errors.New("elevenlabs: no audio returned before timeout")
	}
	return &domain.TtsChunk{
		SessionID:    chunk.SessionID,
		Encoding:     domain.EncodingMulaw,
		SampleRateHz: cfg.SampleRateHz,
		Payload:      payload,
		TimestampMs:  chunk.TimestampMs,
	}, nil
}

func (p *Provider) readLoop() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			close(p.audioCh)
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		audioB64, _ := msg["audio"].(string)
		if audioB64 == "" {
			audioB64, _ = msg["audio_base_64"].(string)
		}
		if audioB64 == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(audioB64)
		if err != nil {
			p.logger.Warn("elevenlabs audio decode error", slog.String("error", err.Error()))
			continue
		}
		select {
		case p.audioCh <- raw:
		default:
			p.logger.Warn("elevenlabs audio channel full, dropping")
		}
	}
}

func (p *Provider) send(payload map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, b)
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return p.conn.Close()
}

var _ providers.TtsProvider = (*Provider)(nil)
