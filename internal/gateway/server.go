// Package gateway is the HTTP ingress: per-provider webhook endpoints,
// the live output WebSocket, and health reporting.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/hookrelay/internal/command"
	"github.com/nextlevelbuilder/hookrelay/internal/flow"
	"github.com/nextlevelbuilder/hookrelay/internal/queue"
	"github.com/nextlevelbuilder/hookrelay/internal/resilience"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
	"github.com/nextlevelbuilder/hookrelay/internal/webhook"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Config tunes the ingress server.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	// RateLimitPerMinute bounds webhook calls per provider+source key.
	// Zero disables limiting.
	RateLimitPerMinute int
}

// webhookResponse is the uniform ingress reply shape.
type webhookResponse struct {
	Success bool    `json:"success"`
	TaskID  *string `json:"task_id"`
	Message string  `json:"message,omitempty"`
	Error   *string `json:"error"`
}

// Server wires validation, normalization, matching, correlation, and
// enqueueing behind one HTTP surface.
type Server struct {
	cfg         Config
	validator   *webhook.Validator
	normalizers map[store.Provider]webhook.Normalizer
	matcher     *command.Matcher
	correlator  *flow.Correlator
	queue       queue.Queue
	hub         *Hub
	breakers    *resilience.Registry
	rateLimiter *WebhookRateLimiter
	upgrader    websocket.Upgrader
	tracer      trace.Tracer
	log         *slog.Logger

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the ingress server. breakers may be nil; it is only
// consulted for health reporting.
func NewServer(cfg Config, validator *webhook.Validator, normalizers []webhook.Normalizer, matcher *command.Matcher, correlator *flow.Correlator, q queue.Queue, hub *Hub, breakers *resilience.Registry, log *slog.Logger) *Server {
	byProvider := make(map[store.Provider]webhook.Normalizer, len(normalizers))
	for _, n := range normalizers {
		byProvider[n.Provider()] = n
	}
	s := &Server{
		cfg:         cfg,
		validator:   validator,
		normalizers: byProvider,
		matcher:     matcher,
		correlator:  correlator,
		queue:       q,
		hub:         hub,
		breakers:    breakers,
		rateLimiter: NewWebhookRateLimiter(cfg.RateLimitPerMinute),
		tracer:      otel.Tracer("hookrelay/gateway"),
		log:         log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	for _, a := range s.cfg.AllowedOrigins {
		if origin == a || a == "*" {
			return true
		}
	}
	s.log.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/{provider}", s.handleWebhook)
	mux.HandleFunc("/ws", s.handleWatch)
	mux.HandleFunc("/healthz", s.handleHealth)
	s.mux = mux
	return mux
}

// Start listens until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("ingress starting", "addr", addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ingress server: %w", err)
	}
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := store.Provider(r.PathValue("provider"))
	normalizer, ok := s.normalizers[provider]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown provider"))
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "webhook.handle",
		trace.WithAttributes(attribute.String("webhook.provider", string(provider))))
	defer span.End()

	if !s.rateLimiter.Allow(string(provider) + "|" + clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse("rate limited"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("read body"))
		return
	}
	if len(body) > maxWebhookBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("body too large"))
		return
	}

	if err := s.validator.Validate(provider, r.Header, body); err != nil {
		s.log.Warn("signature rejected", "provider", provider, "error", err)
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalid signature"))
		return
	}

	// Chat endpoint registration handshake, answered post-validation.
	if provider == store.ProviderSlack {
		if challenge := urlVerificationChallenge(body); challenge != "" {
			writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
			return
		}
	}

	ev, err := normalizer.Normalize(r.Header.Get("X-GitHub-Event"), body)
	if err != nil {
		s.log.Warn("payload rejected", "provider", provider, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse("malformed payload"))
		return
	}
	if ev == nil {
		// Irrelevant delivery; acknowledge so the provider stops retrying.
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, Message: "ignored"})
		return
	}

	match, err := s.matchEvent(ctx, ev)
	if err != nil {
		s.log.Error("matching failed", "provider", provider, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	if match == nil {
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, Message: "no command matched"})
		return
	}

	task, err := s.correlator.CorrelateTask(ctx, flow.Request{Event: ev, Match: match})
	if err != nil {
		s.log.Error("correlation failed", "provider", provider, "external_id", ev.ExternalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	span.SetAttributes(attribute.String("task.id", task.ID), attribute.String("task.flow_id", task.FlowID))
	if err := s.queue.Enqueue(ctx, task.ID, match.Command.Priority); err != nil {
		s.log.Error("enqueue failed", "task_id", task.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	s.log.Info("webhook accepted", "provider", provider, "task_id", task.ID,
		"command", match.Command.Name, "flow_id", task.FlowID)
	writeJSON(w, http.StatusOK, webhookResponse{Success: true, TaskID: &task.ID, Message: "task queued"})
}

func (s *Server) matchEvent(ctx context.Context, ev *webhook.Event) (*command.Match, error) {
	in := command.Input{
		Provider:  string(ev.Provider),
		MessageID: ev.MessageID,
		Actor:     ev.Actor,
		Text:      ev.Text,
	}
	if ev.ImplicitCommand != "" {
		return s.matcher.MatchImplicit(ctx, in, ev.ImplicitCommand)
	}
	return s.matcher.Match(ctx, in)
}

// handleWatch streams one task's live output over WebSocket.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		http.Error(w, "task_id required", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	s.hub.serve(taskID, conn)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	depth := -1
	if n, err := s.queue.Size(r.Context()); err == nil {
		depth = n
	}
	payload := map[string]any{
		"status":      "ok",
		"queue_depth": depth,
	}
	if s.breakers != nil {
		payload["breakers"] = s.breakers.States()
	}
	writeJSON(w, http.StatusOK, payload)
}

func urlVerificationChallenge(body []byte) string {
	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		return ""
	}
	if string(v.GetStringBytes("type")) != "url_verification" {
		return ""
	}
	return string(v.GetStringBytes("challenge"))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func errorResponse(msg string) webhookResponse {
	return webhookResponse{Success: false, Error: &msg}
}
