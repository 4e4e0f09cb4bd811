// Package api implements the HTTP API for the chat agent.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kubechat/kubechat/internal/agent"
	"github.com/kubechat/kubechat/internal/buildinfo"
	"github.com/kubechat/kubechat/internal/config"
	"github.com/kubechat/kubechat/internal/kube"
	"github.com/kubechat/kubechat/internal/llm"
	"github.com/kubechat/kubechat/internal/probe"
	"github.com/kubechat/kubechat/internal/session"
	"github.com/kubechat/kubechat/internal/tools"
	"github.com/kubechat/kubechat/internal/transcript"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	listen   string
	logger   *slog.Logger
	sessions *session.Manager
	registry *tools.Registry
	llm      llm.Client
	kube     *kube.Client
	auth     config.AuthConfig
	server   *http.Server
	deps     func() map[string]probe.Status

	chatLimiter   *keyLimiter
	streamLimiter *keyLimiter
}

// NewServer creates a new API server.
func NewServer(listen string, logger *slog.Logger, sessions *session.Manager, registry *tools.Registry, client llm.Client, kc *kube.Client, auth config.AuthConfig) *Server {
	return &Server{
		listen:   listen,
		logger:   logger,
		sessions: sessions,
		registry: registry,
		llm:      client,
		kube:     kc,
		auth:     auth,
		// Chat is heavier than inspection; streams hold a connection
		// open, so they get the tighter budget.
		chatLimiter:   newKeyLimiter(20, time.Minute),
		streamLimiter: newKeyLimiter(10, time.Minute),
	}
}

// Handler returns the fully wired handler. Exposed separately from
// Start so tests can drive the API through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.withAuth(s.withLimit(s.chatLimiter, s.handleChat)))
	mux.HandleFunc("POST /chat/stream", s.withAuth(s.withLimit(s.streamLimiter, s.handleChatStream)))
	mux.HandleFunc("GET /chat/ws", s.withAuth(s.handleChatWS))

	mux.HandleFunc("GET /sessions", s.withAuth(s.handleSessionList))
	mux.HandleFunc("GET /sessions/{id}", s.withAuth(s.handleSessionGet))
	mux.HandleFunc("DELETE /sessions/{id}", s.withAuth(s.handleSessionDelete))

	mux.HandleFunc("GET /tools", s.withAuth(s.handleTools))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // long for streaming turns
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// withAuth checks X-API-Key against the configured admin and user keys.
// With no keys configured the API is open (local development).
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth.AdminKey == "" && s.auth.UserKey == "" {
			next(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" || (key != s.auth.AdminKey && key != s.auth.UserKey) {
			s.errorResponse(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

func (s *Server) withLimit(limiter *keyLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.RemoteAddr
		}
		if !limiter.Allow(key) {
			s.errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "KubeChat",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// SetDependencyStatus wires a background monitor's status snapshot
// into the health endpoint. Optional; without it the handler probes
// the dependencies inline.
func (s *Server) SetDependencyStatus(fn func() map[string]probe.Status) {
	s.deps = fn
}

// handleHealth reports connectivity to both upstream dependencies along
// with the available tool catalog.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	llmStatus := "connected"
	if err := s.llm.Ping(ctx); err != nil {
		llmStatus = "unreachable: " + err.Error()
	}

	clusterStatus := "connected"
	if s.kube == nil {
		clusterStatus = "not configured"
	} else if err := s.kube.Ping(ctx); err != nil {
		clusterStatus = "unreachable: " + err.Error()
	}

	status := "healthy"
	if llmStatus != "connected" || clusterStatus != "connected" {
		status = "degraded"
	}

	body := map[string]any{
		"status":  status,
		"llm":     llmStatus,
		"cluster": clusterStatus,
		"tools":   s.registry.Names(),
		"uptime":  buildinfo.Uptime().String(),
	}
	if s.deps != nil {
		body["dependencies"] = s.deps()
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, body, s.logger)
}

// ChatRequest is the inbound turn request.
type ChatRequest struct {
	Message          string `json:"message"`
	SessionID        string `json:"session_id,omitempty"`
	IncludeToolTrace bool   `json:"include_tool_trace,omitempty"`
}

// ChatResponse is the synchronous turn response.
type ChatResponse struct {
	SessionID string             `json:"session_id"`
	Answer    string             `json:"answer"`
	Steps     int                `json:"steps"`
	ToolTrace []agent.TraceEntry `json:"tool_trace,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, sess, ok := s.beginTurn(w, r)
	if !ok {
		return
	}

	result, err := s.sessions.RunTurn(r.Context(), sess.ID, req.Message, nil)
	if err != nil {
		s.turnError(w, err)
		return
	}

	resp := ChatResponse{
		SessionID: sess.ID,
		Answer:    result.Answer,
		Steps:     result.Steps,
	}
	if req.IncludeToolTrace {
		resp.ToolTrace = result.Trace
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// handleChatStream runs a turn in streaming mode. Frame order: a
// session_id event first, then token and tool events as they happen,
// and a [DONE] marker at the end.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, sess, ok := s.beginTurn(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	s.writeSSE(w, map[string]any{"session_id": sess.ID})
	flusher.Flush()

	rc := http.NewResponseController(w)
	callback := func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindToken:
			s.writeSSE(w, map[string]any{"token": ev.Token})
		case llm.KindToolCallStart:
			s.writeSSE(w, map[string]any{"tool": ev.ToolCall.Name, "status": "running"})
		case llm.KindToolCallDone:
			frame := map[string]any{"tool": ev.ToolName, "status": "done"}
			if ev.ToolError != "" {
				frame["status"] = "error"
			}
			s.writeSSE(w, frame)
		case llm.KindDone:
			return
		}
		flusher.Flush()

		// Multi-step tool loops can outlast the write deadline; push it
		// forward on every event.
		if err := rc.SetWriteDeadline(time.Now().Add(180 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}

	_, err := s.sessions.RunTurn(r.Context(), sess.ID, req.Message, callback)
	if err != nil {
		s.logger.Error("streaming turn failed", "session", sess.ID, "error", err)
		s.writeSSE(w, map[string]any{"error": "agent error"})
		flusher.Flush()
		return
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// beginTurn decodes and validates a chat request and resolves its session.
func (s *Server) beginTurn(w http.ResponseWriter, r *http.Request) (*ChatRequest, *transcript.Session, bool) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return nil, nil, false
	}

	sess, err := s.sessions.Resolve(req.SessionID)
	if err != nil {
		s.logger.Error("session resolve failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "session error")
		return nil, nil, false
	}
	return &req, sess, true
}

func (s *Server) turnError(w http.ResponseWriter, err error) {
	s.logger.Error("turn failed", "error", err)
	switch {
	case errors.Is(err, agent.ErrTurnTimeout):
		s.errorResponse(w, http.StatusGatewayTimeout, "agent timed out")
	case errors.Is(err, transcript.ErrSessionNotFound):
		s.errorResponse(w, http.StatusNotFound, "session not found")
	default:
		s.errorResponse(w, http.StatusInternalServerError, "agent error")
	}
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List()
	if err != nil {
		s.logger.Error("session list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}, s.logger)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages, err := s.sessions.History(id)
	if err != nil {
		if errors.Is(err, transcript.ErrSessionNotFound) {
			s.errorResponse(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("session get failed", "error", err, "session", id)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"messages":   messages,
		"count":      len(messages),
	}, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(id); err != nil {
		if errors.Is(err, transcript.ErrSessionNotFound) {
			s.errorResponse(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("session delete failed", "error", err, "session", id)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"tools": s.registry.List(),
		"count": len(s.registry.Names()),
	}, s.logger)
}

func (s *Server) writeSSE(w http.ResponseWriter, frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Debug("failed to marshal SSE frame", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE frame", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
