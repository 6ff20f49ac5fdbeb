// Package deepgram adapts the Deepgram streaming websocket client into a
// StreamingSttProvider. Grounded on the teacher's
// pkg/providers/deepgram.StreamingSTT: same client construction, same
// callback-driven message handling, same io.Pipe feed into the SDK's
// Stream call. What changes is the contract above it — the teacher
// exposes a persistent per-call session with a Results() channel a
// pipeline stage drains continuously; this gateway calls Transcribe once
// per inbound AudioFrame and blocks for the next final transcript or a
// bounded timeout, because spec.md §4.3 has no notion of an open
// multi-turn STT session, only single-frame requests against an
// always-on provider.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/vozlink/gateway/pkg/configutil"
	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/logging"
	"github.com/vozlink/gateway/pkg/providers"
)

// Config is decoded from the gateway's provider settings map.
type Config struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	SampleRate int    `mapstructure:"sample_rate_hz"`
	WaitFinal  int    `mapstructure:"wait_final_ms"`
}

// Provider holds one persistent Deepgram connection reused across every
// frame the gateway transcribes, since a per-frame reconnect would add
// hundreds of milliseconds of handshake latency to the pipeline.
type Provider struct {
	cfg       Config
	logger    *slog.Logger
	waitFinal time.Duration

	mu         sync.Mutex
	dgClient   *client.WSCallback
	pipeWriter *io.PipeWriter
	cancel     context.CancelFunc

	finalCh chan domain.TranscriptionChunk
}

var settingsSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "sample_rate_hz", "wait_final_ms"},
}

// New opens the Deepgram websocket connection and returns a ready
// Provider. The connection stays open for the process lifetime.
func New(settings map[string]any) (*Provider, error) {
	if err := configutil.ValidateSettings(settings, settingsSchema); err != nil {
		return nil, err
	}
	cfg := Config{Model: "nova-2", SampleRate: 16000, WaitFinal: 4000}
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(cfg.APIKey, "deepgram.api_key"); err != nil {
		return nil, err
	}
	if err := configutil.RequirePositiveInt(cfg.SampleRate, "deepgram.sample_rate_hz"); err != nil {
		return nil, err
	}
	if err := configutil.RequirePositiveInt(cfg.WaitFinal, "deepgram.wait_final_ms"); err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
		waitFinal: time.Duration(cfg.WaitFinal) * time.Millisecond,
		finalCh:   make(chan domain.TranscriptionChunk, 16),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Name() string { return "deepgram" }

func (p *Provider) connect() error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	pr, pw := io.Pipe()
	p.pipeWriter = pw

	clientOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:       p.cfg.Model,
		Encoding:    "linear16",
		SampleRate:  p.cfg.SampleRate,
		SmartFormat: true,
	}

	dg, err := client.NewWSUsingCallback(ctx, p.cfg.APIKey, clientOptions, transcriptOptions, &callback{parent: p})
	if err != nil {
		return fmt.Errorf("deepgram client create: %w", err)
	}
	if connected := dg.Connect(); !connected {
		return errors.New("deepgram connection failed")
	}
	p.dgClient = dg

	go func() {
		if err := dg.Stream(pr); err != nil && ctx.Err() == nil {
			p.logger.Error("deepgram stream error", slog.String("error", err.Error()))
		}
	}()

	p.logger.Info("deepgram connected", slog.String("model", p.cfg.Model))
	return nil
}

// Transcribe writes the frame's PCM payload to the live connection and
// blocks until the next final transcript arrives or waitFinal elapses. A
// nil, nil return means no final transcript arrived in time — treated as
// "no speech in this frame", not an error, per spec.md §4.3.
func (p *Provider) Transcribe(ctx context.Context, frame domain.AudioFrame) (*domain.TranscriptionChunk, error) {
	p.mu.Lock()
	pw := p.pipeWriter
	p.mu.Unlock()
	if pw == nil {
		return nil, errors.New("deepgram provider closed")
	}
	if _, err := pw.Write(frame.Payload); err != nil {
		return nil, fmt.Errorf("deepgram write: %w", err)
	}

	timer := time.NewTimer(p.waitFinal)
	defer timer.Stop()
	select {
	case chunk := <-p.finalCh:
		chunk.SessionID = frame.SessionID
		return &chunk, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.pipeWriter != nil {
		_ = p.pipeWriter.Close()
	}
	if p.dgClient != nil {
		p.dgClient.Stop()
	}
	return nil
}

type callback struct {
	parent *Provider
}

func (c *callback) Open(*msginterfaces.OpenResponse) error { return nil }

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	if !(mr.IsFinal || mr.SpeechFinal) {
		return nil
	}
	chunk := domain.TranscriptionChunk{
		Text:        alt.Transcript,
		IsFinal:     true,
		Language:    domain.LanguageES,
		TimestampMs: time.Now().UnixMilli(),
	}
	select {
	case c.parent.finalCh <- chunk:
	default:
		c.parent.logger.Warn("deepgram final channel full, dropping transcript")
	}
	return nil
}

func (c *callback) Metadata(*msginterfaces.MetadataResponse) error        { return nil }
func (c *callback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error { return nil }
func (c *callback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error { return nil }
func (c *callback) Close(*msginterfaces.CloseResponse) error              { return nil }

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram error", slog.String("code", er.ErrCode), slog.String("message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(data []byte) error { return nil }

var _ providers.StreamingSttProvider = (*Provider)(nil)
