// Command server is the gateway's process entrypoint: it loads
// environment configuration, builds the Session/Egress stores, selects
// STT/MT/TTS providers by credential presence, wires the Voice
// Orchestrator, the External Event Bridge, and the Boundary Server, and
// runs them under pkg/runner's graceful-shutdown lifecycle. Grounded on
// examples/hvac/main.go's provider-registry-then-engine-start-then-
// signal-wait shape, adapted from a single long-lived pipeline session
// per call to a single long-lived HTTP+WebSocket process serving many
// sessions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/vozlink/gateway/pkg/boundary"
	"github.com/vozlink/gateway/pkg/config"
	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/egress"
	"github.com/vozlink/gateway/pkg/eventbridge"
	"github.com/vozlink/gateway/pkg/logging"
	"github.com/vozlink/gateway/pkg/metrics"
	"github.com/vozlink/gateway/pkg/orchestrator"
	"github.com/vozlink/gateway/pkg/providers"
	"github.com/vozlink/gateway/pkg/providers/deepgram"
	"github.com/vozlink/gateway/pkg/providers/elevenlabs"
	"github.com/vozlink/gateway/pkg/providers/stub"
	"github.com/vozlink/gateway/pkg/providers/translate"
	"github.com/vozlink/gateway/pkg/runner"
	"github.com/vozlink/gateway/pkg/session"
)

func newProviderRegistry() *providers.Registry {
	reg := providers.NewRegistry()
	reg.RegisterSTT("deepgram", func(settings map[string]any) (providers.StreamingSttProvider, error) {
		return deepgram.New(settings)
	})
	reg.RegisterSTT("stub", func(settings map[string]any) (providers.StreamingSttProvider, error) {
		return stub.NewSTT(settings)
	})
	reg.RegisterTranslation("openai", func(settings map[string]any) (providers.TranslationProvider, error) {
		return translate.New(settings)
	})
	reg.RegisterTranslation("stub", func(settings map[string]any) (providers.TranslationProvider, error) {
		return stub.NewTranslation(settings)
	})
	reg.RegisterTTS("elevenlabs", func(settings map[string]any) (providers.TtsProvider, error) {
		return elevenlabs.New(settings)
	})
	reg.RegisterTTS("stub", func(settings map[string]any) (providers.TtsProvider, error) {
		return stub.NewTTS(settings)
	})
	return reg
}

// compositeDrainer drains the HTTP listener, the Event Bridge, and the
// async metrics observer in that order so in-flight requests finish
// before their events are cut off mid-delivery.
type compositeDrainer struct {
	httpServer *http.Server
	bridge     *eventbridge.Bridge
	asyncObs   *metrics.AsyncObserver
}

func (d compositeDrainer) Drain() error {
	var err error
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = multierr.Append(err, d.httpServer.Shutdown(shutdownCtx))
	err = multierr.Append(err, d.bridge.Drain())
	d.asyncObs.Close()
	return err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}

	baseLogger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(baseLogger)

	registry := newProviderRegistry()
	sttSettings := map[string]any{"api_key": cfg.DeepgramAPIKey}
	if cfg.STTProvider == "stub" {
		sttSettings = map[string]any{}
		if cfg.StubSTTText != "" {
			sttSettings["transcript"] = cfg.StubSTTText
		}
	}
	sttProvider, err := registry.BuildSTT(cfg.STTProvider, sttSettings)
	if err != nil {
		baseLogger.Error("stt_provider_unavailable", "provider", cfg.STTProvider, "error", err)
		os.Exit(1)
	}
	mtProvider, err := registry.BuildTranslation(cfg.MTProvider, map[string]any{"api_key": cfg.OpenAIAPIKey})
	if err != nil {
		baseLogger.Error("translation_provider_unavailable", "provider", cfg.MTProvider, "error", err)
		os.Exit(1)
	}
	ttsSettings := map[string]any{
		"api_key":  cfg.ElevenLabsAPIKey,
		"voice_id": cfg.ElevenLabsVoiceID,
	}
	if cfg.TTSProvider == "stub" {
		ttsSettings = nil
	}
	ttsProvider, err := registry.BuildTTS(cfg.TTSProvider, ttsSettings)
	if err != nil {
		baseLogger.Error("tts_provider_unavailable", "provider", cfg.TTSProvider, "error", err)
		os.Exit(1)
	}

	sessions := session.New()
	egressStore := egress.New(cfg.EgressMaxQueuePerSession)

	jsonlObserver := metrics.NewJSONLObserver(os.Stdout)
	sampledObserver := metrics.NewSamplingObserver(jsonlObserver, cfg.MetricsSampleRate)
	asyncObserver := metrics.NewAsyncObserver(sampledObserver, 256)

	bridge := eventbridge.New(eventbridge.Config{
		Endpoint:   cfg.OpenclawBridgeURL,
		APIKey:     cfg.OpenclawBridgeAPIKey,
		QueueDepth: 256,
		Timeout:    time.Duration(cfg.OpenclawBridgeTimeoutMs) * time.Millisecond,
		BaseLogger: baseLogger,
	})

	// boundaryServer is assigned below, after the Orchestrator exists --
	// the closure only calls through it once a frame arrives, by which
	// time construction has completed.
	var boundaryServer *boundary.Server
	orch := orchestrator.New(orchestrator.Config{
		Sessions: sessions,
		STT:      sttProvider,
		MT:       mtProvider,
		TTS:      ttsProvider,
		Events:   bridge,
		OnTtsChunk: func(sessionID string, chunk domain.TtsChunk) {
			boundaryServer.OnTtsChunk(sessionID, chunk)
		},
		Metrics:          asyncObserver,
		BaseLogger:       baseLogger,
		MinFrameInterval: cfg.PipelineMinFrameInterval,
	})

	boundaryServer = boundary.New(boundary.Config{
		Orchestrator:         orch,
		Sessions:             sessions,
		Egress:               egressStore,
		Commands:             bridge,
		Bridge:               bridge,
		OutboundTarget:       cfg.OutboundTargetE164,
		AsteriskSharedSecret: cfg.AsteriskSharedSecret,
		ControlAPISecret:     cfg.ControlAPISecret,
		TwilioAuthToken:      cfg.TwilioAuthToken,
		PublicBaseURL:        cfg.PublicBaseURL,
		BaseLogger:           baseLogger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           boundaryServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	drainer := compositeDrainer{httpServer: httpServer, bridge: bridge, asyncObs: asyncObserver}
	lifecycle := runner.NewLifecycleRunner(drainer, runner.Hooks{
		OnStart: func() {
			baseLogger.Info("gateway_listening", "port", cfg.Port)
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					baseLogger.Error("http_server_failed", "error", err)
				}
			}()
		},
		OnStop: func() {
			baseLogger.Info("gateway_stopped")
		},
	}, 10*time.Second, logging.NewComponentLogger(baseLogger, "lifecycle"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := lifecycle.Run(ctx); err != nil {
		baseLogger.Error("lifecycle_run_failed", "error", err)
		os.Exit(1)
	}
}
