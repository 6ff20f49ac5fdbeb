package session

import (
	"testing"

	"github.com/vozlink/gateway/pkg/domain"
)

func TestCreateFromIncomingDefaults(t *testing.T) {
	s := New()
	evt := domain.IncomingCallEvent{
		Source:         domain.IngressSIPBridge,
		ExternalCallID: "sip-1",
		From:           "+15550000001",
		To:             "+18005550199",
	}
	sess := s.CreateFromIncoming(evt, "+15555550100")

	if sess.State != domain.StatePending {
		t.Fatalf("expected pending state, got %s", sess.State)
	}
	if sess.Mode != domain.ModePrivateTranslation {
		t.Fatalf("expected private-translation mode, got %s", sess.Mode)
	}
	if sess.SourceLanguage != domain.LanguageES || sess.TargetLanguage != domain.LanguageEN {
		t.Fatalf("expected es->en defaults, got %s->%s", sess.SourceLanguage, sess.TargetLanguage)
	}
	if s.Count() != 1 {
		t.Fatalf("expected count 1, got %d", s.Count())
	}

	got, ok := s.GetByExternal(domain.IngressSIPBridge, "sip-1")
	if !ok || got.ID != sess.ID {
		t.Fatalf("expected to resolve session by external id")
	}
}

func TestExternalIDNamespacedBySource(t *testing.T) {
	s := New()
	evt := domain.IncomingCallEvent{ExternalCallID: "shared-id", Source: domain.IngressSIPBridge}
	sip := s.CreateFromIncoming(evt, "+1")

	evt.Source = domain.IngressWebhookStream
	web := s.CreateFromIncoming(evt, "+1")

	if sip.ID == web.ID {
		t.Fatalf("expected distinct sessions for distinct ingress sources sharing an external id")
	}
	if s.Count() != 2 {
		t.Fatalf("expected count 2, got %d", s.Count())
	}
}

func TestStateTransitionsAreMonotonic(t *testing.T) {
	s := New()
	sess := s.CreateFromIncoming(domain.IncomingCallEvent{Source: domain.IngressSIPBridge, ExternalCallID: "c1"}, "+1")

	if _, ok := s.UpdateState(sess.ID, domain.StateActive); !ok {
		t.Fatalf("pending -> active should be legal")
	}
	if _, ok := s.UpdateState(sess.ID, domain.StateEnded); !ok {
		t.Fatalf("active -> ended should be legal")
	}
	// Terminal idempotence: re-requesting ended succeeds as a no-op.
	got, ok := s.UpdateState(sess.ID, domain.StateEnded)
	if !ok || got.State != domain.StateEnded {
		t.Fatalf("expected idempotent ended transition")
	}
	// No resurrection.
	if _, ok := s.UpdateState(sess.ID, domain.StateActive); ok {
		t.Fatalf("expected ended -> active to be rejected")
	}
}

func TestUpdateControlRejectedAfterEnded(t *testing.T) {
	s := New()
	sess := s.CreateFromIncoming(domain.IncomingCallEvent{Source: domain.IngressSIPBridge, ExternalCallID: "c1"}, "+1")
	s.UpdateState(sess.ID, domain.StateActive)
	s.UpdateState(sess.ID, domain.StateEnded)

	mode := domain.ModePassthrough
	if _, ok := s.UpdateControl(sess.ID, domain.ControlPatch{Mode: &mode}); ok {
		t.Fatalf("expected control update to be rejected on ended session")
	}
}

func TestGetUnknownSession(t *testing.T) {
	s := New()
	if _, ok := s.Get("does-not-exist"); ok {
		t.Fatalf("expected unknown session lookup to fail")
	}
}
