// Package eventbridge implements the External Event Bridge: it relays
// SessionEvents (and operator-issued commands) to a single downstream
// HTTP endpoint with at-least-once delivery, deterministic idempotency
// keys, and bounded exponential-backoff retry. Grounded on the teacher's
// pkg/llm circuit-breaker-over-HTTP pattern and pkg/resilience's
// RetryPolicy, generalized from "retry one outbound LLM call" to "retry
// one outbound delivery, sequentially, off a single FIFO queue" per
// spec.md §4.5. go.uber.org/atomic backs the concurrency-safe
// delivered/dropped counters and the draining flag; go.uber.org/multierr
// combines the errors of every failed delivery attempt for one envelope.
package eventbridge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/logging"
)

const (
	baseBackoff = 250 * time.Millisecond
	maxBackoff  = 2000 * time.Millisecond
	maxAttempts = 4
)

// Envelope is the wire shape posted to the downstream bridge endpoint.
type Envelope struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Type           string         `json:"type"`
	SessionID      string         `json:"session_id,omitempty"`
	AtMs           int64          `json:"at_ms"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Command is an operator-issued, non-session-derived message — its
// idempotency key is random per spec.md §4.5 since there is no
// deterministic input to hash.
type Command struct {
	Type    string
	Payload map[string]any
}

// Bridge owns the single outbound FIFO queue and the HTTP client that
// delivers envelopes to the downstream endpoint.
type Bridge struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger

	queue chan Envelope

	draining  atomic.Bool
	dropped   atomic.Int64
	delivered atomic.Int64
	wg        sync.WaitGroup
}

// Config wires the downstream endpoint and queue depth.
type Config struct {
	Endpoint   string
	APIKey     string
	QueueDepth int
	Timeout    time.Duration
	BaseLogger *slog.Logger
}

func New(cfg Config) *Bridge {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1200 * time.Millisecond
	}
	b := &Bridge{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logging.NewComponentLogger(cfg.BaseLogger, "eventbridge"),
		queue:    make(chan Envelope, cfg.QueueDepth),
	}
	b.wg.Add(1)
	go b.drainLoop()
	return b
}

// Publish implements orchestrator.EventSink: it computes a deterministic
// idempotency key from the event's content and enqueues it. Publish never
// blocks on delivery — a full queue drops the event and increments the
// dropped counter rather than stalling the call path.
func (b *Bridge) Publish(evt domain.SessionEvent) {
	env := Envelope{
		IdempotencyKey: sessionEventKey(evt),
		Type:           string(evt.Type),
		SessionID:      evt.SessionID,
		AtMs:           evt.AtMs,
		Payload:        evt.Payload,
	}
	b.enqueue(env)
}

// PublishCommand enqueues an operator-issued command with a random
// idempotency key.
func (b *Bridge) PublishCommand(cmd Command) {
	b.enqueue(Envelope{
		IdempotencyKey: uuid.NewString(),
		Type:           cmd.Type,
		AtMs:           time.Now().UnixMilli(),
		Payload:        cmd.Payload,
	})
}

func (b *Bridge) enqueue(env Envelope) {
	if b.draining.Load() {
		b.dropped.Inc()
		return
	}
	select {
	case b.queue <- env:
	default:
		b.dropped.Inc()
		b.logger.Warn("eventbridge queue full, dropping envelope", slog.String("type", env.Type))
	}
}

// sessionEventKey hashes the event's stable fields so retried deliveries
// of the SAME event reuse the same key, while two distinct events never
// collide. There is no vendor hashing library in the dependency pack for
// this, so it is built on crypto/sha256 from the standard library.
func sessionEventKey(evt domain.SessionEvent) string {
	payload, _ := json.Marshal(evt.Payload)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", evt.Type, evt.SessionID, evt.AtMs, payload)))
	return hex.EncodeToString(sum[:])
}

// drainLoop is the single sequential consumer of the FIFO queue. Only one
// goroutine ever drains the queue, so deliveries for a given session
// never race each other — a requirement for the event bridge to preserve
// event ordering per session (spec.md §9 Open Question decision).
func (b *Bridge) drainLoop() {
	defer b.wg.Done()
	for env := range b.queue {
		if err := b.deliverWithRetry(env); err != nil {
			b.logger.Error("eventbridge delivery exhausted",
				slog.String("type", env.Type),
				slog.String("idempotency_key", env.IdempotencyKey),
				slog.String("error", err.Error()))
			continue
		}
		b.delivered.Inc()
	}
}

func (b *Bridge) deliverWithRetry(env Envelope) error {
	backoff := baseBackoff
	var errs error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := b.deliver(env)
		if err == nil {
			return nil
		}
		errs = multierr.Append(errs, err)
		if attempt == maxAttempts {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return errs
}

func (b *Bridge) deliver(env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", env.IdempotencyKey)
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("eventbridge: downstream returned status %d", resp.StatusCode)
	}
	return nil
}

// Probe performs a lightweight GET against the downstream bridge's health
// endpoint, used by the Boundary Server's own /health route.
func (b *Bridge) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("eventbridge: health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// Drain implements runner.Drainer: it stops accepting new envelopes and
// blocks until the in-flight queue is fully delivered.
func (b *Bridge) Drain() error {
	b.draining.Store(true)
	close(b.queue)
	b.wg.Wait()
	return nil
}

// Stats reports delivered/dropped counters for the /health or metrics
// surface.
func (b *Bridge) Stats() (delivered, dropped int64) {
	return b.delivered.Load(), b.dropped.Load()
}
