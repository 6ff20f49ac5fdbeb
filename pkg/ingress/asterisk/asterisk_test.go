package asterisk

import (
	"testing"

	"github.com/vozlink/gateway/pkg/domain"
)

func TestParseInboundRequiresFields(t *testing.T) {
	if _, err := ParseInbound([]byte(`{"callId":"sip-1"}`)); err == nil {
		t.Fatalf("expected error for missing from/to")
	}
	req, err := ParseInbound([]byte(`{"callId":"sip-1","from":"+15550000001","to":"+18005550199"}`))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	evt := req.ToEvent(1000)
	if evt.Source != domain.IngressSIPBridge || evt.ExternalCallID != "sip-1" || evt.ReceivedAtMs != 1000 {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestParseMediaDecodesPayloadAndValidatesEncoding(t *testing.T) {
	req, payload, err := ParseMedia([]byte(`{"callId":"sip-1","sampleRateHz":8000,"encoding":"mulaw","payloadBase64":"AQI="}`))
	if err != nil {
		t.Fatalf("ParseMedia: %v", err)
	}
	if len(payload) != 2 || payload[0] != 0x01 || payload[1] != 0x02 {
		t.Fatalf("unexpected decoded payload: %v", payload)
	}
	frame := req.ToFrame("sess-1", payload)
	if frame.SessionID != "sess-1" || frame.Encoding != domain.EncodingMulaw || frame.SampleRateHz != 8000 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestParseMediaRejectsUnknownEncoding(t *testing.T) {
	if _, _, err := ParseMedia([]byte(`{"callId":"sip-1","sampleRateHz":8000,"encoding":"opus","payloadBase64":"AQI="}`)); err == nil {
		t.Fatalf("expected error for unsupported encoding")
	}
}

func TestParseMediaRejectsInvalidBase64(t *testing.T) {
	if _, _, err := ParseMedia([]byte(`{"callId":"sip-1","sampleRateHz":8000,"encoding":"mulaw","payloadBase64":"not-base64!!"}`)); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}

func TestParseEndAcceptsEitherIdentifier(t *testing.T) {
	if _, err := ParseEnd([]byte(`{}`)); err == nil {
		t.Fatalf("expected error for empty body")
	}
	req, err := ParseEnd([]byte(`{"callId":"sip-1","source":"sip-bridge"}`))
	if err != nil || req.CallID != "sip-1" {
		t.Fatalf("ParseEnd by callId: %v %+v", err, req)
	}
	req, err = ParseEnd([]byte(`{"sessionId":"sess-1"}`))
	if err != nil || req.SessionID != "sess-1" {
		t.Fatalf("ParseEnd by sessionId: %v %+v", err, req)
	}
}

func TestNewEgressFrameEncodesPayload(t *testing.T) {
	chunk := domain.TtsChunk{SessionID: "sess-1", Encoding: domain.EncodingPCMS16LE, SampleRateHz: 16000, Payload: []byte{1, 2}, TimestampMs: 5}
	frame := NewEgressFrame(chunk, 3)
	if frame.PayloadBase64 != "AQI=" || frame.RemainingQueue != 3 || frame.Encoding != "pcm_s16le" {
		t.Fatalf("unexpected egress frame: %+v", frame)
	}
}
