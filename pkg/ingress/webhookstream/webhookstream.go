// Package webhookstream implements the cloud-telephony ingress dialect: a
// form-encoded voice webhook plus a JSON-over-WebSocket media stream.
// Grounded directly on the teacher's pkg/transports/twilio: the same
// discriminated JSON event shape (start/media/stop), the same base64
// mulaw-at-8kHz media contract, and the same TwiML-by-string-concatenation
// approach to building webhook responses — generalized from "connect the
// call to an AI agent's media stream" (the teacher's use case) to "dial a
// second party while also accepting the call's inbound media" (this
// gateway's use case), so the returned TwiML carries a <Dial> verb instead
// of the teacher's <Connect><Stream>.
package webhookstream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/errorsx"
)

// VoiceWebhookRequest is the form-encoded voice webhook payload.
type VoiceWebhookRequest struct {
	CallSid string
	From    string
	To      string
}

// ParseVoiceWebhook validates the required form fields of a voice webhook.
func ParseVoiceWebhook(form url.Values) (VoiceWebhookRequest, error) {
	req := VoiceWebhookRequest{
		CallSid: form.Get("CallSid"),
		From:    form.Get("From"),
		To:      form.Get("To"),
	}
	if req.CallSid == "" || req.From == "" || req.To == "" {
		return VoiceWebhookRequest{}, errorsx.Wrap(fmt.Errorf("CallSid, From and To are required"), errorsx.ReasonInvalidPayload)
	}
	return req, nil
}

// ToEvent maps a validated webhook payload to the canonical IncomingCallEvent.
func (r VoiceWebhookRequest) ToEvent(receivedAtMs int64) domain.IncomingCallEvent {
	return domain.IncomingCallEvent{
		Source:         domain.IngressWebhookStream,
		ExternalCallID: r.CallSid,
		From:           r.From,
		To:             r.To,
		ReceivedAtMs:   receivedAtMs,
	}
}

// BuildDialTwiML returns the TwiML response instructing the provider to
// dial the gateway's configured outbound target (spec.md §4.6).
func BuildDialTwiML(outboundTarget string) string {
	return `<Response><Dial>` + xmlEscape(outboundTarget) + `</Dial></Response>`
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

// StreamStart carries the call identifier a media stream's "start" event
// resolves against an existing session.
type StreamStart struct {
	CallSid string `json:"callSid"`
}

// StreamMedia carries one base64-encoded audio payload.
type StreamMedia struct {
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// StreamEvent is the discriminated JSON message on the media WebSocket.
type StreamEvent struct {
	Event string       `json:"event"`
	Start *StreamStart `json:"start,omitempty"`
	Media *StreamMedia `json:"media,omitempty"`
}

const (
	StreamEventConnected = "connected"
	StreamEventStart     = "start"
	StreamEventMedia     = "media"
	StreamEventStop      = "stop"
)

// ParseStreamEvent decodes one media-stream WebSocket text frame.
func ParseStreamEvent(raw []byte) (StreamEvent, error) {
	var evt StreamEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return StreamEvent{}, errorsx.Wrap(err, errorsx.ReasonInvalidPayload)
	}
	switch evt.Event {
	case StreamEventConnected, StreamEventStart, StreamEventMedia, StreamEventStop:
	default:
		return StreamEvent{}, errorsx.Wrap(fmt.Errorf("unsupported stream event %q", evt.Event), errorsx.ReasonInvalidPayload)
	}
	if evt.Event == StreamEventStart && (evt.Start == nil || evt.Start.CallSid == "") {
		return StreamEvent{}, errorsx.Wrap(fmt.Errorf("start event requires callSid"), errorsx.ReasonInvalidPayload)
	}
	if evt.Event == StreamEventMedia && (evt.Media == nil || evt.Media.Payload == "") {
		return StreamEvent{}, errorsx.Wrap(fmt.Errorf("media event requires payload"), errorsx.ReasonInvalidPayload)
	}
	return evt, nil
}

// ToFrame builds the canonical AudioFrame for a media event. The dialect
// fixes encoding=mulaw, sampleRateHz=8000 regardless of payload contents
// (spec.md §4.6): the provider never negotiates another format for this
// stream.
func (m StreamMedia) ToFrame(sessionID string, timestampMs int64) (domain.AudioFrame, error) {
	payload, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return domain.AudioFrame{}, errorsx.Wrap(fmt.Errorf("payload is not valid base64"), errorsx.ReasonInvalidPayload)
	}
	return domain.AudioFrame{
		SessionID:    sessionID,
		Source:       domain.IngressWebhookStream,
		SampleRateHz: 8000,
		Encoding:     domain.EncodingMulaw,
		TimestampMs:  timestampMs,
		Payload:      payload,
	}, nil
}
