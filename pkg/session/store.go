// Package session implements the Session Store: the single owner of
// CallSession records and the (source, externalCallId) -> internalId
// index. Grounded on the teacher's pkg/pipeline.SessionRegistry — a
// sync.Map keyed registry with a separate atomic count — generalized from
// "one entry per call SID" to the spec's two-index model (internal id and
// namespaced external id).
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vozlink/gateway/pkg/domain"
)

// externalKey namespaces an external call id by ingress source so a SIP
// bridge call id and a webhook call SID never collide.
type externalKey struct {
	source domain.IngressSource
	id     string
}

// Store owns CallSession records. Lookups may run concurrently with
// single-writer mutation from the Orchestrator; a coarse RWMutex is used
// because mutation rate is low relative to lookup rate (spec.md §5).
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*domain.CallSession
	byExtern map[externalKey]string
	count    atomic.Int64
}

// New constructs an empty Session Store.
func New() *Store {
	return &Store{
		byID:     make(map[string]*domain.CallSession),
		byExtern: make(map[externalKey]string),
	}
}

// CreateFromIncoming mints a new internal session id and records both
// index entries. It is NOT idempotent on its own — de-duplication of
// repeated ingress handshakes is the Orchestrator's responsibility
// (spec.md §4.4.1); callers that want idempotent behavior must check
// GetByExternal first.
func (s *Store) CreateFromIncoming(evt domain.IncomingCallEvent, outboundTarget string) *domain.CallSession {
	sess := &domain.CallSession{
		ID:             uuid.NewString(),
		Source:         evt.Source,
		ExternalCallID: evt.ExternalCallID,
		InboundCaller:  evt.From,
		OutboundTarget: outboundTarget,
		StartedAtMs:    time.Now().UnixMilli(),
		Mode:           domain.ModePrivateTranslation,
		SourceLanguage: domain.LanguageES,
		TargetLanguage: domain.LanguageEN,
		State:          domain.StatePending,
	}

	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.byExtern[externalKey{source: evt.Source, id: evt.ExternalCallID}] = sess.ID
	s.mu.Unlock()
	s.count.Add(1)

	out := *sess
	return &out
}

// GetByExternal resolves a session by its namespaced external call id.
func (s *Store) GetByExternal(source domain.IngressSource, externalID string) (*domain.CallSession, bool) {
	s.mu.RLock()
	id, ok := s.byExtern[externalKey{source: source, id: externalID}]
	if !ok {
		s.mu.RUnlock()
		return nil, false
	}
	sess, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	out := *sess
	return &out, true
}

// Get resolves a session by its internal id.
func (s *Store) Get(id string) (*domain.CallSession, bool) {
	s.mu.RLock()
	sess, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	out := *sess
	return &out, true
}

// UpdateState transitions a session's state if the transition is legal
// under domain.SessionState.CanTransitionTo. Terminal states are
// idempotent: re-requesting the same terminal state succeeds as a no-op.
func (s *Store) UpdateState(id string, next domain.SessionState) (*domain.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	if sess.State == next {
		out := *sess
		return &out, true
	}
	if !sess.State.CanTransitionTo(next) {
		return nil, false
	}
	sess.State = next
	out := *sess
	return &out, true
}

// UpdateControl applies a patch of mutable fields. No effect while the
// session is ended or failed (spec.md §4.4.3).
func (s *Store) UpdateControl(id string, patch domain.ControlPatch) (*domain.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	if sess.State.Terminal() {
		out := *sess
		return &out, false
	}
	if patch.Mode != nil {
		sess.Mode = *patch.Mode
	}
	if patch.SourceLanguage != nil {
		sess.SourceLanguage = *patch.SourceLanguage
	}
	if patch.TargetLanguage != nil {
		sess.TargetLanguage = *patch.TargetLanguage
	}
	out := *sess
	return &out, true
}

// All returns a snapshot of every known session, for the /sessions route.
func (s *Store) All() []domain.CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CallSession, 0, len(s.byID))
	for _, sess := range s.byID {
		out = append(out, *sess)
	}
	return out
}

// Count returns the number of known sessions.
func (s *Store) Count() int64 {
	return s.count.Load()
}
