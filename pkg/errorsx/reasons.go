package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Boundary / ingress errors (spec.md §7 taxonomy).
	ReasonInvalidPayload   ReasonCode = "invalid_payload"
	ReasonUnauthorized     ReasonCode = "unauthorized"
	ReasonInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonUnknownSession   ReasonCode = "unknown_session"
	ReasonWebSocketUpgrade ReasonCode = "websocket_upgrade_rejected"

	// Provider calls (STT/MT/TTS) — all collapse to a nil result upstream,
	// the reason code only informs the log line.
	ReasonSTTRetry       ReasonCode = "stt_retry"
	ReasonSTTSend        ReasonCode = "stt_send"
	ReasonSTTRateLimit   ReasonCode = "stt_rate_limit"
	ReasonSTTCircuitOpen ReasonCode = "stt_circuit_open"
	ReasonMTRetry        ReasonCode = "mt_retry"
	ReasonMTRateLimit    ReasonCode = "mt_rate_limit"
	ReasonLLMGenerate    ReasonCode = "llm_generate"
	ReasonTTSRetry       ReasonCode = "tts_retry"
	ReasonTTSRateLimit   ReasonCode = "tts_rate_limit"
	ReasonTTSCircuitOpen ReasonCode = "tts_circuit_open"

	// External Event Bridge.
	ReasonBridgeAttemptFailed ReasonCode = "bridge_attempt_failed"
	ReasonBridgeExhausted     ReasonCode = "bridge_attempts_exhausted"

	// Startup.
	ReasonConfigInvalid ReasonCode = "config_invalid"
)
