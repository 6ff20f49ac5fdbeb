package eventbridge

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vozlink/gateway/pkg/domain"
)

func TestPublishDeliversAndRecordsStats(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := New(Config{Endpoint: srv.URL, QueueDepth: 4, Timeout: time.Second})
	b.Publish(domain.SessionEvent{Type: domain.EventSessionStarted, SessionID: "s1", AtMs: 100})

	waitForCondition(t, func() bool {
		d, _ := b.Stats()
		return d == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 1 || keys[0] == "" {
		t.Fatalf("expected one delivery carrying an idempotency key, got %v", keys)
	}
}

func TestPublishSameEventTwiceReusesIdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := New(Config{Endpoint: srv.URL, QueueDepth: 4, Timeout: time.Second})
	evt := domain.SessionEvent{Type: domain.EventSessionEnded, SessionID: "s1", AtMs: 200}
	b.Publish(evt)
	b.Publish(evt)

	waitForCondition(t, func() bool {
		d, _ := b.Stats()
		return d == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 || keys[0] != keys[1] {
		t.Fatalf("expected identical idempotency keys for the identical event, got %v", keys)
	}
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	var statuses []int
	responses := []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		status := responses[len(statuses)]
		statuses = append(statuses, status)
		mu.Unlock()
		w.WriteHeader(status)
	}))
	defer srv.Close()

	b := New(Config{Endpoint: srv.URL, QueueDepth: 4, Timeout: time.Second})
	b.PublishCommand(Command{Type: "test.command"})

	waitForCondition(t, func() bool {
		d, _ := b.Stats()
		return d == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 3 {
		t.Fatalf("expected 2 failed attempts then a success, got %v", statuses)
	}
}

func TestDrainStopsAcceptingNewEnvelopes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := New(Config{Endpoint: srv.URL, QueueDepth: 4, Timeout: time.Second})
	if err := b.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	b.Publish(domain.SessionEvent{Type: domain.EventSessionStarted, SessionID: "s1"})
	_, dropped := b.Stats()
	if dropped != 1 {
		t.Fatalf("expected publish after drain to be dropped, dropped=%d", dropped)
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
