// Package boundary implements the Boundary Server: the single HTTP+WebSocket
// surface that authenticates, validates, and dispatches both ingress
// dialects onto the Voice Orchestrator, Session Store, and Egress Store.
// Grounded on the teacher's pkg/transports/twilio for the websocket-upgrade
// and signature-validation mechanics, generalized from "one transport, one
// mux" to "one mux multiplexing two ingress dialects plus session-control
// and operator-command routes" per spec.md §4.7.
package boundary

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/vozlink/gateway/pkg/domain"
	"github.com/vozlink/gateway/pkg/egress"
	"github.com/vozlink/gateway/pkg/errorsx"
	"github.com/vozlink/gateway/pkg/eventbridge"
	"github.com/vozlink/gateway/pkg/ingress/asterisk"
	"github.com/vozlink/gateway/pkg/ingress/webhookstream"
	"github.com/vozlink/gateway/pkg/logging"
	"github.com/vozlink/gateway/pkg/orchestrator"
	"github.com/vozlink/gateway/pkg/session"
)

// CommandSink relays operator commands to the External Event Bridge.
type CommandSink interface {
	PublishCommand(cmd eventbridge.Command)
}

// HealthProber supports the liveness route's optional downstream check.
type HealthProber interface {
	Probe(ctx context.Context) error
}

// Config wires the Boundary Server's dependencies and auth secrets.
type Config struct {
	Orchestrator   *orchestrator.Orchestrator
	Sessions       *session.Store
	Egress         *egress.Store
	Commands       CommandSink
	Bridge         HealthProber
	OutboundTarget string

	AsteriskSharedSecret string
	ControlAPISecret     string
	TwilioAuthToken      string
	PublicBaseURL        string

	BaseLogger *slog.Logger
}

// Server is the Boundary Server. It implements http.Handler.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New constructs a Boundary Server and wires its route table.
//
// The Orchestrator is expected to have been constructed with its
// OnTtsChunk callback pointed at this server's OnTtsChunk method (see
// cmd/server/main.go) per spec.md §4.4: the Boundary layer, not the
// Orchestrator, owns the Egress Store and reports stats back after
// each enqueue.
func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.BaseLogger, "boundary"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /sessions", s.handleSessions)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	s.mux.HandleFunc("POST /twilio/voice", s.handleTwilioVoice)
	s.mux.HandleFunc("GET /twilio/stream", s.handleTwilioStream)
	s.mux.HandleFunc("POST /asterisk/inbound", s.handleAsteriskInbound)
	s.mux.HandleFunc("POST /asterisk/media", s.handleAsteriskMedia)
	s.mux.HandleFunc("POST /asterisk/end", s.handleAsteriskEnd)
	s.mux.HandleFunc("GET /asterisk/egress/next", s.handleAsteriskEgressNext)
	s.mux.HandleFunc("POST /sessions/control", s.handleSessionsControl)
	s.mux.HandleFunc("POST /openclaw/command", s.handleOpenclawCommand)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OnTtsChunk implements the Orchestrator's onTtsChunk callback (spec.md
// §4.4): it enqueues a synthesized chunk into the Egress Store and
// reports the resulting queue stats back so the Orchestrator can update
// egressQueuePeak/egressDropCount (§4.4.3's reportEgressStats).
func (s *Server) OnTtsChunk(sessionID string, chunk domain.TtsChunk) {
	result := s.cfg.Egress.Enqueue(sessionID, chunk)
	s.cfg.Orchestrator.ReportEgressStats(sessionID, result)
}

// --- unauthenticated routes ---

// handleHealth reports liveness and, when a HealthProber is configured,
// probes the External Event Bridge so a load balancer stops routing calls
// to an instance that can no longer relay session events.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bridge != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Bridge.Probe(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Sessions.All())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	sessions := s.cfg.Sessions.All()
	out := make(map[string]domain.SessionMetrics, len(sessions))
	for _, sess := range sessions {
		if m, ok := s.cfg.Orchestrator.SessionMetrics(sess.ID); ok {
			out[sess.ID] = m
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// --- webhook-stream dialect ---

func (s *Server) handleTwilioVoice(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorsx.ReasonInvalidPayload)
		return
	}
	r.Body.Close()
	if !s.validateTwilioSignature(r, body) {
		s.forbidden(w)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := r.ParseMultipartForm(0); err != nil {
		_ = r.ParseForm()
	}
	req, err := webhookstream.ParseVoiceWebhook(r.PostForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorsx.Reason(err))
		return
	}
	if _, err := s.cfg.Orchestrator.OnIncomingCall(req.ToEvent(time.Now().UnixMilli()), s.cfg.OutboundTarget); err != nil {
		writeError(w, http.StatusInternalServerError, errorsx.ReasonUnknown)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(webhookstream.BuildDialTwiML(s.cfg.OutboundTarget)))
}

func (s *Server) handleTwilioStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var sessionID string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		evt, err := webhookstream.ParseStreamEvent(msg)
		if err != nil {
			continue
		}
		switch evt.Event {
		case webhookstream.StreamEventStart:
			sess, ok := s.cfg.Sessions.GetByExternal(domain.IngressWebhookStream, evt.Start.CallSid)
			if ok {
				sessionID = sess.ID
			}
		case webhookstream.StreamEventMedia:
			if sessionID == "" || evt.Media == nil {
				continue
			}
			ts, _ := strconv.ParseInt(evt.Media.Timestamp, 10, 64)
			frame, err := evt.Media.ToFrame(sessionID, ts)
			if err != nil {
				continue
			}
			if err := s.cfg.Orchestrator.OnAudioFrame(r.Context(), frame); err != nil {
				s.logger.Warn("webhook stream frame rejected", slog.String("session_id", sessionID), slog.String("error", err.Error()))
			}
		case webhookstream.StreamEventStop:
			if sessionID != "" {
				_ = s.cfg.Orchestrator.EndSession(sessionID)
				s.cfg.Egress.Clear(sessionID)
			}
			return
		}
	}
	if sessionID != "" {
		_ = s.cfg.Orchestrator.EndSession(sessionID)
		s.cfg.Egress.Clear(sessionID)
	}
}

// --- sip-bridge dialect ---

func (s *Server) handleAsteriskInbound(w http.ResponseWriter, r *http.Request) {
	if !s.checkSharedSecret(r, "x-asterisk-secret", s.cfg.AsteriskSharedSecret) {
		s.forbidden(w)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorsx.ReasonInvalidPayload)
		return
	}
	req, err := asterisk.ParseInbound(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorsx.Reason(err))
		return
	}
	sess, err := s.cfg.Orchestrator.OnIncomingCall(req.ToEvent(time.Now().UnixMilli()), s.cfg.OutboundTarget)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorsx.ReasonUnknown)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sess.ID, "dialTarget": s.cfg.OutboundTarget})
}

func (s *Server) handleAsteriskMedia(w http.ResponseWriter, r *http.Request) {
	if !s.checkSharedSecret(r, "x-asterisk-secret", s.cfg.AsteriskSharedSecret) {
		s.forbidden(w)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorsx.ReasonInvalidPayload)
		return
	}
	req, payload, err := asterisk.ParseMedia(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorsx.Reason(err))
		return
	}
	sess, ok := s.cfg.Sessions.GetByExternal(domain.IngressSIPBridge, req.CallID)
	if !ok {
		writeError(w, http.StatusNotFound, errorsx.ReasonUnknownSession)
		return
	}
	frame := req.ToFrame(sess.ID, payload)
	if err := s.cfg.Orchestrator.OnAudioFrame(r.Context(), frame); err != nil {
		if errorsx.HasReason(err, errorsx.ReasonUnknownSession) {
			writeError(w, http.StatusNotFound, errorsx.ReasonUnknownSession)
			return
		}
		writeError(w, http.StatusInternalServerError, errorsx.ReasonUnknown)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "sessionId": sess.ID})
}

func (s *Server) handleAsteriskEnd(w http.ResponseWriter, r *http.Request) {
	if !s.checkSharedSecret(r, "x-asterisk-secret", s.cfg.AsteriskSharedSecret) {
		s.forbidden(w)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorsx.ReasonInvalidPayload)
		return
	}
	req, err := asterisk.ParseEnd(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorsx.Reason(err))
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sess, ok := s.cfg.Sessions.GetByExternal(domain.IngressSIPBridge, req.CallID)
		if !ok {
			writeError(w, http.StatusNotFound, errorsx.ReasonUnknownSession)
			return
		}
		sessionID = sess.ID
	}
	if err := s.cfg.Orchestrator.EndSession(sessionID); err != nil {
		writeError(w, http.StatusNotFound, errorsx.ReasonUnknownSession)
		return
	}
	s.cfg.Egress.Clear(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"ended": true, "sessionId": sessionID})
}

func (s *Server) handleAsteriskEgressNext(w http.ResponseWriter, r *http.Request) {
	if !s.checkSharedSecret(r, "x-asterisk-secret", s.cfg.AsteriskSharedSecret) {
		s.forbidden(w)
		return
	}
	callID := r.URL.Query().Get("callId")
	if callID == "" {
		writeError(w, http.StatusBadRequest, errorsx.ReasonInvalidPayload)
		return
	}
	sess, ok := s.cfg.Sessions.GetByExternal(domain.IngressSIPBridge, callID)
	if !ok {
		writeError(w, http.StatusNotFound, errorsx.ReasonUnknownSession)
		return
	}
	chunk, ok := s.cfg.Egress.Dequeue(sess.ID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, asterisk.NewEgressFrame(chunk, s.cfg.Egress.Size(sess.ID)))
}

// --- control plane ---

type sessionControlRequest struct {
	SessionID      string  `json:"sessionId"`
	Mode           *string `json:"mode"`
	SourceLanguage *string `json:"sourceLanguage"`
	TargetLanguage *string `json:"targetLanguage"`
}

func (s *Server) handleSessionsControl(w http.ResponseWriter, r *http.Request) {
	if !s.checkSharedSecret(r, "x-control-secret", s.cfg.ControlAPISecret) {
		s.forbidden(w)
		return
	}
	var req sessionControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, errorsx.ReasonInvalidPayload)
		return
	}
	patch, err := buildControlPatch(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorsx.ReasonInvalidPayload)
		return
	}
	sess, err := s.cfg.Orchestrator.UpdateSessionControl(req.SessionID, patch)
	if err != nil {
		writeError(w, http.StatusNotFound, errorsx.ReasonUnknownSession)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func buildControlPatch(req sessionControlRequest) (domain.ControlPatch, error) {
	var patch domain.ControlPatch
	if req.Mode != nil {
		mode := domain.SessionMode(*req.Mode)
		if !mode.Valid() {
			return domain.ControlPatch{}, errorsx.Wrap(errNotFoundLocal("mode"), errorsx.ReasonInvalidPayload)
		}
		patch.Mode = &mode
	}
	if req.SourceLanguage != nil {
		lc, err := domain.ParseLanguageCode(*req.SourceLanguage)
		if err != nil {
			return domain.ControlPatch{}, errorsx.Wrap(err, errorsx.ReasonInvalidPayload)
		}
		patch.SourceLanguage = &lc
	}
	if req.TargetLanguage != nil {
		lc, err := domain.ParseLanguageCode(*req.TargetLanguage)
		if err != nil {
			return domain.ControlPatch{}, errorsx.Wrap(err, errorsx.ReasonInvalidPayload)
		}
		patch.TargetLanguage = &lc
	}
	return patch, nil
}

type openclawCommandRequest struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context"`
}

func (s *Server) handleOpenclawCommand(w http.ResponseWriter, r *http.Request) {
	if !s.checkSharedSecret(r, "x-control-secret", s.cfg.ControlAPISecret) {
		s.forbidden(w)
		return
	}
	var req openclawCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, errorsx.ReasonInvalidPayload)
		return
	}
	if s.cfg.Commands != nil {
		s.cfg.Commands.PublishCommand(eventbridge.Command{
			Type: "operator.command",
			Payload: map[string]any{
				"text":    req.Text,
				"context": req.Context,
			},
		})
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// --- auth helpers ---

// checkSharedSecret performs a constant-time comparison of the configured
// secret against the request header. Absent configuration disables the
// check (local dev), per spec.md §4.7.
func (s *Server) checkSharedSecret(r *http.Request, header, secret string) bool {
	if secret == "" {
		return true
	}
	got := r.Header.Get(header)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// validateTwilioSignature validates the HMAC-SHA1 webhook signature when a
// token is configured; absent configuration disables the check.
func (s *Server) validateTwilioSignature(r *http.Request, body []byte) bool {
	if s.cfg.TwilioAuthToken == "" {
		return true
	}
	signature := r.Header.Get("x-twilio-signature")
	if signature == "" {
		return false
	}
	validator := twilioclient.NewRequestValidator(s.cfg.TwilioAuthToken)
	return validator.ValidateBody(s.requestURL(r), body, signature)
}

func (s *Server) requestURL(r *http.Request) string {
	if s.cfg.PublicBaseURL != "" {
		return trimRight(s.cfg.PublicBaseURL, '/') + r.URL.RequestURI()
	}
	return "http://" + r.Host + r.URL.RequestURI()
}

func (s *Server) forbidden(w http.ResponseWriter) {
	// spec.md §7: unauthorized requests are never logged at error level,
	// to avoid flooding logs from automated probes.
	writeError(w, http.StatusForbidden, errorsx.ReasonUnauthorized)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, reason errorsx.ReasonCode) {
	writeJSON(w, status, map[string]string{"error": string(reason)})
}

func trimRight(s string, c byte) string {
	for len(s) > 0 && s[len(s)-1] == c {
		s = s[:len(s)-1]
	}
	return s
}

type stringError string

func (e stringError) Error() string { return string(e) }

func errNotFoundLocal(field string) error { return stringError("unsupported " + field) }
