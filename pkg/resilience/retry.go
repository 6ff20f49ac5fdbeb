package resilience

import "time"

// RetryPolicy defines retry behavior for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// NewProviderRetryPolicy builds a RetryPolicy tuned to the given pipeline
// stage's latency budget. STT sits directly on the per-frame interval, so
// its retry backoff must stay well under pipeline_min_frame_interval_ms
// (400ms default) or a retry storm starts lagging live audio; translation
// and TTS run once per final transcript and can afford a longer backoff.
func NewProviderRetryPolicy(stage Stage) RetryPolicy {
	switch stage {
	case StageSTT:
		return NewRetryPolicy(1, 75*time.Millisecond)
	case StageTTS:
		return NewRetryPolicy(2, 200*time.Millisecond)
	default: // StageTranslation and anything unrecognized.
		return NewRetryPolicy(2, 150*time.Millisecond)
	}
}

func (r RetryPolicy) Do(fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == r.MaxRetries {
			return err
		}
		time.Sleep(r.Backoff)
	}
	return err
}
