// Package config loads the gateway's entire runtime configuration from
// environment variables, per spec.md §6 — there is no config file for this
// service. Grounded on the teacher's pkg/ranya.LoadConfig defaults-then-
// validate shape (viper.SetDefault per key, then Unmarshal, then Validate),
// generalized from file-based config to viper.AutomaticEnv + explicit
// BindEnv per recognized variable.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vozlink/gateway/pkg/errorsx"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	Port     int
	LogLevel string

	OutboundTargetE164 string

	PublicBaseURL string

	AsteriskSharedSecret string
	ControlAPISecret     string
	TwilioAuthToken      string

	PipelineMinFrameInterval time.Duration
	EgressMaxQueuePerSession int

	STTProvider string
	MTProvider  string
	TTSProvider string

	DeepgramAPIKey    string
	OpenAIAPIKey      string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	StubSTTText string

	OpenclawBridgeURL       string
	OpenclawBridgeAPIKey    string
	OpenclawBridgeTimeoutMs int

	MetricsSampleRate float64
}

// Load reads and validates the environment. It is the only place a
// misconfigured deployment is allowed to abort the process (spec.md §7:
// only startup misconfiguration is fatal).
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bind := []string{
		"port", "log_level",
		"outbound_target_e164", "destination_phone_e164",
		"public_base_url",
		"asterisk_shared_secret", "control_api_secret", "twilio_auth_token",
		"pipeline_min_frame_interval_ms", "egress_max_queue_per_session",
		"deepgram_api_key", "openai_api_key", "elevenlabs_api_key", "elevenlabs_voice_id",
		"stub_stt_text",
		"openclaw_bridge_url", "openclaw_bridge_api_key", "openclaw_bridge_timeout_ms",
		"metrics_sample_rate",
	}
	for _, key := range bind {
		_ = v.BindEnv(key)
	}

	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("pipeline_min_frame_interval_ms", 400)
	v.SetDefault("egress_max_queue_per_session", 64)
	v.SetDefault("openclaw_bridge_timeout_ms", 1200)
	v.SetDefault("metrics_sample_rate", 1.0)

	outboundTarget := v.GetString("outbound_target_e164")
	if outboundTarget == "" {
		// legacy fallback name; only the newer variable is part of the
		// spec, but the repo's history carries this drift (spec.md §9).
		outboundTarget = v.GetString("destination_phone_e164")
	}

	egressBound := v.GetInt("egress_max_queue_per_session")
	if egressBound < 1 {
		egressBound = 1
	}
	bridgeTimeout := v.GetInt("openclaw_bridge_timeout_ms")
	if bridgeTimeout < 100 {
		bridgeTimeout = 100
	}

	cfg := Config{
		Port:                     v.GetInt("port"),
		LogLevel:                 v.GetString("log_level"),
		OutboundTargetE164:       outboundTarget,
		PublicBaseURL:            v.GetString("public_base_url"),
		AsteriskSharedSecret:     v.GetString("asterisk_shared_secret"),
		ControlAPISecret:         v.GetString("control_api_secret"),
		TwilioAuthToken:          v.GetString("twilio_auth_token"),
		PipelineMinFrameInterval: time.Duration(v.GetInt("pipeline_min_frame_interval_ms")) * time.Millisecond,
		EgressMaxQueuePerSession: egressBound,
		DeepgramAPIKey:           v.GetString("deepgram_api_key"),
		OpenAIAPIKey:             v.GetString("openai_api_key"),
		ElevenLabsAPIKey:         v.GetString("elevenlabs_api_key"),
		ElevenLabsVoiceID:        v.GetString("elevenlabs_voice_id"),
		StubSTTText:              v.GetString("stub_stt_text"),
		OpenclawBridgeURL:        v.GetString("openclaw_bridge_url"),
		OpenclawBridgeAPIKey:     v.GetString("openclaw_bridge_api_key"),
		OpenclawBridgeTimeoutMs:  bridgeTimeout,
		MetricsSampleRate:        v.GetFloat64("metrics_sample_rate"),
	}

	cfg.STTProvider = providerFor(cfg.DeepgramAPIKey, "deepgram", "stub")
	cfg.MTProvider = providerFor(cfg.OpenAIAPIKey, "openai", "stub")
	cfg.TTSProvider = providerFor(cfg.ElevenLabsAPIKey, "elevenlabs", "stub")

	if err := cfg.validate(); err != nil {
		return Config{}, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	return cfg, nil
}

func providerFor(credential, vendorName, fallback string) string {
	if strings.TrimSpace(credential) == "" {
		return fallback
	}
	return vendorName
}

func (c Config) validate() error {
	if !e164Pattern.MatchString(c.OutboundTargetE164) {
		return fmt.Errorf("OUTBOUND_TARGET_E164 must match %s, got %q", e164Pattern.String(), c.OutboundTargetE164)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be a valid TCP port, got %d", c.Port)
	}
	if c.EgressMaxQueuePerSession < 1 {
		return fmt.Errorf("EGRESS_MAX_QUEUE_PER_SESSION must be >= 1")
	}
	if c.TTSProvider == "elevenlabs" && strings.TrimSpace(c.ElevenLabsVoiceID) == "" {
		return fmt.Errorf("ELEVENLABS_VOICE_ID is required when ELEVENLABS_API_KEY selects the elevenlabs TTS provider")
	}
	return nil
}
