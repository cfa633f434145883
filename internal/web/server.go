package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/owenh/sceneguide/internal/domain"
	"github.com/owenh/sceneguide/internal/query"
	"github.com/owenh/sceneguide/internal/scene"
)

// sessionAPI is the slice of the session service the HTTP surface
// exposes.
type sessionAPI interface {
	StartSession(ctx context.Context) (*domain.Session, error)
	StopSession(ctx context.Context) (*domain.Session, error)
	HandleUtterance(ctx context.Context, text string) (query.Result, error)
	SubmitFrame(data []byte, mimeType string)
	SceneMemory() (scene.Description, bool)
	Metrics() (scene.Metrics, bool)
	ListSessions(ctx context.Context) ([]*domain.Session, error)
	SessionLog(ctx context.Context, sessionID string) ([]*domain.SceneEntry, []*domain.Turn, error)
}

type Server struct {
	service sessionAPI
	hub     *Hub
	mux     *http.ServeMux
	logger  *slog.Logger
}

func NewServer(svc sessionAPI, hub *Hub, logger *slog.Logger) *Server {
	s := &Server{
		service: svc,
		hub:     hub,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("POST /api/session/start", s.handleStartSession)
	s.mux.HandleFunc("POST /api/session/stop", s.handleStopSession)
	s.mux.HandleFunc("POST /api/frames", s.handleSubmitFrame)
	s.mux.HandleFunc("POST /api/utterances", s.handleUtterance)
	s.mux.HandleFunc("GET /api/scene", s.handleScene)
	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/log", s.handleSessionLog)
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying writer so websocket upgrades work
// through the middleware chain.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}

type sessionResponse struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	FramesSampled  int        `json:"frames_sampled"`
	FramesAccepted int        `json:"frames_accepted"`
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:             s.ID,
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
		FramesSampled:  s.FramesSampled,
		FramesAccepted: s.FramesAccepted,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(ws, s.hub, s.logger)
	s.hub.register(c)
	defer s.hub.unregister(c)

	go c.writePump()
	c.readPump(r.Context())
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.StartSession(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.StopSession(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (s *Server) handleSubmitFrame(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read frame")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty frame")
		return
	}
	if len(data) > maxMessageSize {
		writeError(w, http.StatusRequestEntityTooLarge, "frame too large")
		return
	}

	s.service.SubmitFrame(data, r.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.service.HandleUtterance(r.Context(), req.Text)
	if err != nil {
		s.logger.Warn("utterance handling failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"kind": string(result.Kind),
		"text": result.Text,
	})
}

func (s *Server) handleScene(w http.ResponseWriter, _ *http.Request) {
	d, ok := s.service.SceneMemory()
	if !ok {
		writeError(w, http.StatusNotFound, "no scene captured yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"text":        d.Text,
		"captured_at": d.CapturedAt,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m, sampling := s.service.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"sampling":        sampling,
		"frames_sampled":  m.FramesSampled,
		"frames_accepted": m.FramesAccepted,
		"session_start":   m.SessionStart,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, toSessionResponse(session))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessionLog(w http.ResponseWriter, r *http.Request) {
	entries, turns, err := s.service.SessionLog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	type sceneEntry struct {
		Text       string    `json:"text"`
		CapturedAt time.Time `json:"captured_at"`
	}
	type turnEntry struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"created_at"`
	}
	resp := struct {
		Scenes []sceneEntry `json:"scenes"`
		Turns  []turnEntry  `json:"turns"`
	}{Scenes: []sceneEntry{}, Turns: []turnEntry{}}
	for _, e := range entries {
		resp.Scenes = append(resp.Scenes, sceneEntry{Text: e.Text, CapturedAt: e.CapturedAt})
	}
	for _, t := range turns {
		resp.Turns = append(resp.Turns, turnEntry{Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
