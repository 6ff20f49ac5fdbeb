// Package asterisk implements the SIP-bridge ingress dialect: JSON-over-HTTP
// request/response shapes for a SIP-bridge-fronted PBX, and the mapping from
// those shapes to the canonical domain events the Voice Orchestrator
// consumes. Grounded on the teacher's pkg/transports/twilio for the overall
// shape of an ingress dialect (typed wire structs, strict validation, a
// base64 media payload) but this dialect is plain request/response — there
// is no persistent connection to hold open, so unlike transports.Transport
// there is no Start/Stop/Recv/Send lifecycle here, only parse/build
// functions the Boundary Server calls per request.
package asterisk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/errorsx"
)

// InboundRequest is the SIP-bridge call handshake payload.
type InboundRequest struct {
	CallID string `json:"callId"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ParseInbound decodes and validates an inbound handshake body.
func ParseInbound(body []byte) (InboundRequest, error) {
	var req InboundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return InboundRequest{}, errorsx.Wrap(err, errorsx.ReasonInvalidPayload)
	}
	if req.CallID == "" || req.From == "" || req.To == "" {
		return InboundRequest{}, errorsx.Wrap(fmt.Errorf("callId, from and to are required"), errorsx.ReasonInvalidPayload)
	}
	return req, nil
}

// ToEvent maps a validated handshake to the canonical IncomingCallEvent.
func (r InboundRequest) ToEvent(receivedAtMs int64) domain.IncomingCallEvent {
	return domain.IncomingCallEvent{
		Source:         domain.IngressSIPBridge,
		ExternalCallID: r.CallID,
		From:           r.From,
		To:             r.To,
		ReceivedAtMs:   receivedAtMs,
	}
}

// MediaRequest is a single inbound audio frame on an established call.
type MediaRequest struct {
	CallID        string `json:"callId"`
	SampleRateHz  int    `json:"sampleRateHz"`
	Encoding      string `json:"encoding"`
	PayloadBase64 string `json:"payloadBase64"`
	TimestampMs   int64  `json:"timestampMs"`
}

// ParseMedia decodes and validates a media-frame body, including the
// closed encoding enum and the base64 payload.
func ParseMedia(body []byte) (MediaRequest, []byte, error) {
	var req MediaRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return MediaRequest{}, nil, errorsx.Wrap(err, errorsx.ReasonInvalidPayload)
	}
	if req.CallID == "" || req.SampleRateHz <= 0 {
		return MediaRequest{}, nil, errorsx.Wrap(fmt.Errorf("callId and sampleRateHz are required"), errorsx.ReasonInvalidPayload)
	}
	enc := domain.AudioEncoding(req.Encoding)
	if !enc.Valid() {
		return MediaRequest{}, nil, errorsx.Wrap(fmt.Errorf("unsupported encoding %q", req.Encoding), errorsx.ReasonInvalidPayload)
	}
	payload, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
	if err != nil {
		return MediaRequest{}, nil, errorsx.Wrap(fmt.Errorf("payloadBase64 is not valid base64"), errorsx.ReasonInvalidPayload)
	}
	return req, payload, nil
}

// ToFrame builds the canonical AudioFrame for a resolved session.
func (r MediaRequest) ToFrame(sessionID string, payload []byte) domain.AudioFrame {
	return domain.AudioFrame{
		SessionID:    sessionID,
		Source:       domain.IngressSIPBridge,
		SampleRateHz: r.SampleRateHz,
		Encoding:     domain.AudioEncoding(r.Encoding),
		TimestampMs:  r.TimestampMs,
		Payload:      payload,
	}
}

// EndRequest ends a call, identified either by (callId, source) or
// directly by the internal sessionId.
type EndRequest struct {
	CallID    string `json:"callId"`
	Source    string `json:"source"`
	SessionID string `json:"sessionId"`
}

// ParseEnd decodes an end-of-call body. At least one identification scheme
// (callId or sessionId) must be present.
func ParseEnd(body []byte) (EndRequest, error) {
	var req EndRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return EndRequest{}, errorsx.Wrap(err, errorsx.ReasonInvalidPayload)
		}
	}
	if req.SessionID == "" && req.CallID == "" {
		return EndRequest{}, errorsx.Wrap(fmt.Errorf("callId or sessionId is required"), errorsx.ReasonInvalidPayload)
	}
	return req, nil
}

// EgressFrame is the JSON body returned by the egress poll route for a
// dequeued TtsChunk.
type EgressFrame struct {
	SessionID      string `json:"sessionId"`
	Encoding       string `json:"encoding"`
	SampleRateHz   int    `json:"sampleRateHz"`
	TimestampMs    int64  `json:"timestampMs"`
	PayloadBase64  string `json:"payloadBase64"`
	RemainingQueue int    `json:"remainingQueue"`
}

// NewEgressFrame builds the poll response body from a dequeued chunk.
func NewEgressFrame(chunk domain.TtsChunk, remainingQueue int) EgressFrame {
	return EgressFrame{
		SessionID:      chunk.SessionID,
		Encoding:       string(chunk.Encoding),
		SampleRateHz:   chunk.SampleRateHz,
		TimestampMs:    chunk.TimestampMs,
		PayloadBase64:  base64.StdEncoding.EncodeToString(chunk.Payload),
		RemainingQueue: remainingQueue,
	}
}
