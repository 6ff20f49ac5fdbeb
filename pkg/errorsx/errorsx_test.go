package errorsx

import (
	"testing"

	"github.com/vozlink/gateway/pkg/resilience"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonLLMGenerate)
	if Reason(err) != ReasonLLMGenerate {
		t.Fatalf("expected reason %s, got %s", ReasonLLMGenerate, Reason(err))
	}
	if !HasReason(err, ReasonLLMGenerate) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTSend)
	second := Wrap(first, ReasonLLMGenerate)
	if Reason(second) != ReasonSTTSend {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestRateLimitReasonDistinguishesQuotaFromTransportError(t *testing.T) {
	rlErr := resilience.RateLimitError{Provider: "elevenlabs", Message: "429"}
	if got := RateLimitReason(rlErr, ReasonTTSRateLimit, ReasonTTSRetry); got != ReasonTTSRateLimit {
		t.Fatalf("expected %s, got %s", ReasonTTSRateLimit, got)
	}
	if got := RateLimitReason(assertErr{}, ReasonTTSRateLimit, ReasonTTSRetry); got != ReasonTTSRetry {
		t.Fatalf("expected %s, got %s", ReasonTTSRetry, got)
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
