// Package api exposes the gateway over HTTP: chat CRUD, the streaming
// chat-turn operation, the capability listing and operational endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/surlabs/ilenia-rag-gateway/internal/chat"
	"github.com/surlabs/ilenia-rag-gateway/internal/circuitbreaker"
	"github.com/surlabs/ilenia-rag-gateway/internal/discovery"
	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
	"github.com/surlabs/ilenia-rag-gateway/internal/metrics"
	"github.com/surlabs/ilenia-rag-gateway/internal/ratelimit"
	"github.com/surlabs/ilenia-rag-gateway/internal/store"
)

type HandlerConfig struct {
	Chats        store.ChatStore
	Sessions     store.SessionStore
	Orchestrator *chat.Orchestrator
	Discovery    *discovery.Service
	RateLimiter  ratelimit.RateLimiter
	RateLimitRPM int
	Breakers     *circuitbreaker.Manager
	HealthCheck  HealthCheckConfig
}

type Handler struct {
	chats        store.ChatStore
	sessions     store.SessionStore
	orchestrator *chat.Orchestrator
	discovery    *discovery.Service
	rateLimiter  ratelimit.RateLimiter
	rateLimitRPM int
	breakers     *circuitbreaker.Manager
	mux          *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}

	h := &Handler{
		chats:        cfg.Chats,
		sessions:     cfg.Sessions,
		orchestrator: cfg.Orchestrator,
		discovery:    cfg.Discovery,
		rateLimiter:  cfg.RateLimiter,
		rateLimitRPM: rpm,
		breakers:     cfg.Breakers,
		mux:          http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chats", h.withUser(h.handleCreateChat))
	h.mux.HandleFunc("GET /v1/chats", h.withUser(h.handleListChats))
	h.mux.HandleFunc("GET /v1/chats/{id}", h.withUser(h.handleGetChat))
	h.mux.HandleFunc("DELETE /v1/chats/{id}", h.withUser(h.handleDeleteChat))
	h.mux.HandleFunc("POST /v1/chats/{id}/messages", h.withUser(h.handleSendMessage))
	h.mux.HandleFunc("GET /v1/chats/{id}/messages", h.withUser(h.handleListMessages))
	h.mux.HandleFunc("GET /v1/capabilities", h.handleCapabilities)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.HealthCheck))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// withUser resolves the bearer session token and applies per-user rate
// limiting before invoking the wrapped handler.
func (h *Handler) withUser(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token := extractBearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing session token")
			return
		}

		userID, err := h.sessions.UserFromToken(ctx, token)
		if err != nil {
			slog.Warn("session lookup failed", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}

		if h.rateLimiter != nil {
			allowed, remaining, resetAt, err := h.rateLimiter.Allow(ctx, userID, h.rateLimitRPM)
			if err != nil {
				slog.Error("rate limiter error", "error", err, "user_id", userID)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimitRPM))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))

			if !allowed {
				slog.Warn("rate limit exceeded", "user_id", userID)
				metrics.RecordRateLimitHit()
				writeError(w, http.StatusTooManyRequests, domain.ErrRateLimitExceeded.Error())
				return
			}
		}

		next(w, r, userID)
	}
}

type createChatRequest struct {
	Title string `json:"title"`
}

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request, userID string) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.chats.CreateChat(r.Context(), userID, req.Title)
	if err != nil {
		slog.Error("failed to create chat", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request, userID string) {
	chats, err := h.chats.ListChats(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list chats", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request, userID string) {
	found, err := h.chats.FindChat(r.Context(), r.PathValue("id"), userID)
	if errors.Is(err, domain.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		slog.Error("failed to fetch chat", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to fetch chat")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request, userID string) {
	err := h.chats.DeleteChat(r.Context(), r.PathValue("id"), userID)
	if errors.Is(err, domain.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete chat", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()
	chatID := r.PathValue("id")

	if _, err := h.chats.FindChat(ctx, chatID, userID); err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	messages, err := h.chats.ListHistory(ctx, chatID)
	if err != nil {
		slog.Error("failed to list messages", "error", err, "chat_id", chatID)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type sendMessageRequest struct {
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Demo     bool   `json:"demo,omitempty"`
	Title    string `json:"title,omitempty"`
}

// handleSendMessage runs a chat turn and relays its event stream as
// server-sent events, one JSON frame per event, terminated by [DONE].
// Errors past the first frame arrive in-band as ERROR status events.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", requestID)

	start := time.Now()
	events := h.orchestrator.SendMessage(ctx, chat.SendMessageRequest{
		ChatID:   r.PathValue("id"),
		UserID:   userID,
		Content:  req.Content,
		Language: req.Language,
		Domain:   req.Domain,
		Demo:     req.Demo,
		Title:    req.Title,
	})

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				w.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()
				slog.Info("chat turn stream closed",
					"request_id", requestID,
					"user_id", userID,
					"latency_ms", time.Since(start).Milliseconds(),
				)
				return
			}

			data, _ := json.Marshal(ev)
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	caps := h.discovery.Capabilities()
	if caps == nil {
		caps = []domain.Capability{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": caps})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	capabilities := h.discovery.Capabilities()

	status := "healthy"
	if len(capabilities) == 0 {
		status = "degraded"
	}

	resp := map[string]any{
		"status":       status,
		"capabilities": len(capabilities),
	}
	if h.breakers != nil {
		resp["circuit_breakers"] = h.breakers.States()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
