package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "LOG_LEVEL", "OUTBOUND_TARGET_E164", "DESTINATION_PHONE_E164",
		"PUBLIC_BASE_URL", "ASTERISK_SHARED_SECRET", "CONTROL_API_SECRET", "TWILIO_AUTH_TOKEN",
		"PIPELINE_MIN_FRAME_INTERVAL_MS", "EGRESS_MAX_QUEUE_PER_SESSION",
		"DEEPGRAM_API_KEY", "OPENAI_API_KEY", "ELEVENLABS_API_KEY", "ELEVENLABS_VOICE_ID", "STUB_STT_TEXT",
		"OPENCLAW_BRIDGE_URL", "OPENCLAW_BRIDGE_API_KEY", "OPENCLAW_BRIDGE_TIMEOUT_MS",
		"METRICS_SAMPLE_RATE",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadRequiresOutboundTarget(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when OUTBOUND_TARGET_E164 is unset")
	}
}

func TestLoadAcceptsLegacyDestinationVar(t *testing.T) {
	clearEnv(t)
	os.Setenv("DESTINATION_PHONE_E164", "+15555550100")
	defer os.Unsetenv("DESTINATION_PHONE_E164")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutboundTargetE164 != "+15555550100" {
		t.Fatalf("expected legacy fallback to populate target, got %q", cfg.OutboundTargetE164)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("OUTBOUND_TARGET_E164", "+15555550100")
	defer os.Unsetenv("OUTBOUND_TARGET_E164")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.LogLevel != "info" || cfg.EgressMaxQueuePerSession != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.STTProvider != "stub" || cfg.MTProvider != "stub" || cfg.TTSProvider != "stub" {
		t.Fatalf("expected stub providers with no credentials configured: %+v", cfg)
	}
	if cfg.MetricsSampleRate != 1.0 {
		t.Fatalf("expected default metrics sample rate of 1.0, got %v", cfg.MetricsSampleRate)
	}
}

func TestLoadReadsMetricsSampleRate(t *testing.T) {
	clearEnv(t)
	os.Setenv("OUTBOUND_TARGET_E164", "+15555550100")
	os.Setenv("METRICS_SAMPLE_RATE", "0.25")
	defer os.Unsetenv("OUTBOUND_TARGET_E164")
	defer os.Unsetenv("METRICS_SAMPLE_RATE")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MetricsSampleRate != 0.25 {
		t.Fatalf("expected sample rate 0.25, got %v", cfg.MetricsSampleRate)
	}
}

func TestLoadSelectsVendorProviderWhenCredentialPresent(t *testing.T) {
	clearEnv(t)
	os.Setenv("OUTBOUND_TARGET_E164", "+15555550100")
	os.Setenv("DEEPGRAM_API_KEY", "dg-key")
	defer os.Unsetenv("OUTBOUND_TARGET_E164")
	defer os.Unsetenv("DEEPGRAM_API_KEY")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.STTProvider != "deepgram" {
		t.Fatalf("expected deepgram STT provider selected, got %q", cfg.STTProvider)
	}
}

func TestLoadRequiresVoiceIDWhenElevenLabsSelected(t *testing.T) {
	clearEnv(t)
	os.Setenv("OUTBOUND_TARGET_E164", "+15555550100")
	os.Setenv("ELEVENLABS_API_KEY", "el-key")
	defer os.Unsetenv("OUTBOUND_TARGET_E164")
	defer os.Unsetenv("ELEVENLABS_API_KEY")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when elevenlabs is selected without a voice id")
	}
}

func TestLoadAcceptsElevenLabsWithVoiceID(t *testing.T) {
	clearEnv(t)
	os.Setenv("OUTBOUND_TARGET_E164", "+15555550100")
	os.Setenv("ELEVENLABS_API_KEY", "el-key")
	os.Setenv("ELEVENLABS_VOICE_ID", "voice-123")
	defer os.Unsetenv("OUTBOUND_TARGET_E164")
	defer os.Unsetenv("ELEVENLABS_API_KEY")
	defer os.Unsetenv("ELEVENLABS_VOICE_ID")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TTSProvider != "elevenlabs" || cfg.ElevenLabsVoiceID != "voice-123" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsMalformedOutboundTarget(t *testing.T) {
	clearEnv(t)
	os.Setenv("OUTBOUND_TARGET_E164", "not-a-number")
	defer os.Unsetenv("OUTBOUND_TARGET_E164")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed E.164 target")
	}
}
