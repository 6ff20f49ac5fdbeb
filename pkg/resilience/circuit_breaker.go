package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError represents a provider rate limit response.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// IsRateLimit returns true when the error is a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// CircuitBreaker blocks requests after repeated rate limit failures.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openUntil time.Time
	cooldown  time.Duration
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Stage identifies which leg of the STT -> MT -> TTS pipeline a
// CircuitBreaker or RetryPolicy is guarding. Defaults differ per stage
// because a frame is dropped wherever the pipeline trips, and the stages
// run at very different call rates: STT fires once per inbound frame
// (every pipeline_min_frame_interval_ms, 400ms by default), while
// translation and TTS only fire once per completed final transcript.
type Stage string

const (
	StageSTT         Stage = "stt"
	StageTranslation Stage = "translation"
	StageTTS         Stage = "tts"
)

// NewProviderCircuitBreaker builds a CircuitBreaker tuned to the call rate
// and failure tolerance of the given pipeline stage, rather than the one
// fixed threshold/cooldown pair every provider used to share.
func NewProviderCircuitBreaker(stage Stage) *CircuitBreaker {
	switch stage {
	case StageSTT:
		// Highest call rate of the three legs: a higher failure
		// threshold than the other stages (5 vs 3), paired with the
		// shortest cooldown so a tripped STT breaker allows calls again
		// soonest.
		return NewCircuitBreaker(5, 15*time.Second)
	case StageTTS:
		// Lowest call rate (once per final transcript) and a dropped
		// chunk is the least disruptive failure of the three -- allow a
		// longer cooldown before retrying the vendor.
		return NewCircuitBreaker(3, 45*time.Second)
	default: // StageTranslation and anything unrecognized.
		return NewCircuitBreaker(3, 30*time.Second)
	}
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !time.Now().Before(c.openUntil)
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	if !IsRateLimit(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.threshold {
		c.openUntil = time.Now().Add(c.cooldown)
	}
}
