package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestNewProviderRetryPolicyVariesByStage(t *testing.T) {
	stt := NewProviderRetryPolicy(StageSTT)
	mt := NewProviderRetryPolicy(StageTranslation)
	tts := NewProviderRetryPolicy(StageTTS)

	if stt.MaxRetries != 1 || stt.Backoff != 75*time.Millisecond {
		t.Fatalf("unexpected stt retry policy: %+v", stt)
	}
	if mt.MaxRetries != 2 || mt.Backoff != 150*time.Millisecond {
		t.Fatalf("unexpected translation retry policy: %+v", mt)
	}
	if tts.MaxRetries != 2 || tts.Backoff != 200*time.Millisecond {
		t.Fatalf("unexpected tts retry policy: %+v", tts)
	}
}

func TestRetryPolicyDoRetriesUntilSuccess(t *testing.T) {
	r := NewRetryPolicy(3, time.Millisecond)
	attempts := 0
	err := r.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryPolicyDoReturnsLastErrorAfterExhaustion(t *testing.T) {
	r := NewRetryPolicy(2, time.Millisecond)
	attempts := 0
	err := r.Do(func() error {
		attempts++
		return errors.New("persistent")
	})
	if err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected MaxRetries+1 attempts, got %d", attempts)
	}
}
