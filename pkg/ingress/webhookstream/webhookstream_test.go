package webhookstream

import (
	"net/url"
	"testing"

	"github.com/vozlink/gateway/pkg/domain"
)

func TestParseVoiceWebhookRequiresFields(t *testing.T) {
	form := url.Values{"CallSid": {"CA_TEST"}}
	if _, err := ParseVoiceWebhook(form); err == nil {
		t.Fatalf("expected error for missing From/To")
	}
	form.Set("From", "+15551234567")
	form.Set("To", "+18005550199")
	req, err := ParseVoiceWebhook(form)
	if err != nil {
		t.Fatalf("ParseVoiceWebhook: %v", err)
	}
	evt := req.ToEvent(42)
	if evt.Source != domain.IngressWebhookStream || evt.ExternalCallID != "CA_TEST" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestBuildDialTwiMLContainsTarget(t *testing.T) {
	twiml := BuildDialTwiML("+15555550100")
	if twiml != `<Response><Dial>+15555550100</Dial></Response>` {
		t.Fatalf("unexpected twiml: %s", twiml)
	}
}

func TestParseStreamEventValidatesDiscriminator(t *testing.T) {
	if _, err := ParseStreamEvent([]byte(`{"event":"bogus"}`)); err == nil {
		t.Fatalf("expected error for unknown event")
	}
	if _, err := ParseStreamEvent([]byte(`{"event":"start"}`)); err == nil {
		t.Fatalf("expected error for start without callSid")
	}
	evt, err := ParseStreamEvent([]byte(`{"event":"start","start":{"callSid":"CA_TEST"}}`))
	if err != nil || evt.Start.CallSid != "CA_TEST" {
		t.Fatalf("ParseStreamEvent start: %v %+v", err, evt)
	}
}

func TestStreamMediaToFrameFixesEncoding(t *testing.T) {
	media := StreamMedia{Payload: "AQI="}
	frame, err := media.ToFrame("sess-1", 123)
	if err != nil {
		t.Fatalf("ToFrame: %v", err)
	}
	if frame.Encoding != domain.EncodingMulaw || frame.SampleRateHz != 8000 || frame.SessionID != "sess-1" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestStreamMediaToFrameRejectsInvalidBase64(t *testing.T) {
	media := StreamMedia{Payload: "not-base64!!"}
	if _, err := media.ToFrame("sess-1", 0); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}
