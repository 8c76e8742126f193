// Package httpapi exposes the engine over HTTP: health and status probes,
// Prometheus metrics, and a small JSON API to post messages and read the
// state of a conversation.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/devdenneg/chupik/common/trace"
	"github.com/devdenneg/chupik/common/version"
	"github.com/devdenneg/chupik/internal/chupik/engine"
	"github.com/devdenneg/chupik/internal/chupik/memory"
	"github.com/devdenneg/chupik/internal/chupik/mood"
)

const maxBodyBytes = 64 << 10

// MessageHandler is the part of the engine the API drives.
type MessageHandler interface {
	Handle(ctx context.Context, in engine.Inbound) (engine.Outcome, error)
}

// Deps are the components behind the routes. Handler, Memory and Moods are
// required.
type Deps struct {
	Handler MessageHandler
	Memory  *memory.Store
	Moods   *mood.Engine
	Outbox  *Outbox
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// ActiveTasks reports the number of running detached tasks for /status.
	ActiveTasks func() int
	// TotalFacts reports the size of the knowledge store for /status.
	TotalFacts func() int
}

// Server is the HTTP front end. It is optional; the agent runs without it
// when no address is configured.
type Server struct {
	addr      string
	token     string
	deps      Deps
	startedAt time.Time
	router    chi.Router
	server    *http.Server
}

// New builds the server and its routes (does not start it). When token is
// non-empty every /v1 route requires "Authorization: Bearer <token>".
func New(addr, token string, deps Deps) *Server {
	s := &Server{
		addr:      addr,
		token:     token,
		deps:      deps,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1/conversations/{id}", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/messages", s.handlePostMessage)
		r.Get("/mood", s.handleMood)
		r.Get("/history", s.handleHistory)
		r.Get("/outbox", s.handleOutbox)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins listening in the background. It returns once the listener is
// open; the server shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.addr, err)
	}

	// Remote generation can take a while; the write timeout leaves room
	// for the generation client's own timeout.
	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("httpapi: listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("httpapi: server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("httpapi: shutdown error", "err", err)
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	Commit        string    `json:"commit"`
	BuildTime     string    `json:"build_time"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSecs    float64   `json:"uptime_seconds"`
	Conversations int       `json:"conversations"`
	ActiveTasks   int       `json:"active_tasks"`
	TotalFacts    int       `json:"total_facts"`
	PendingOutbox int       `json:"pending_outbox"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:        "ok",
		Version:       version.Version,
		Commit:        version.GitCommit,
		BuildTime:     version.BuildTime,
		StartedAt:     s.startedAt,
		UptimeSecs:    time.Since(s.startedAt).Seconds(),
		Conversations: s.deps.Memory.Len(),
	}
	if s.deps.ActiveTasks != nil {
		resp.ActiveTasks = s.deps.ActiveTasks()
	}
	if s.deps.TotalFacts != nil {
		resp.TotalFacts = s.deps.TotalFacts()
	}
	if s.deps.Outbox != nil {
		resp.PendingOutbox = s.deps.Outbox.Pending()
	}
	respondJSON(w, http.StatusOK, resp)
}

type postMessageRequest struct {
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	IsGroup    bool      `json:"is_group"`
	Mentioned  bool      `json:"mentioned"`
	ReplyToBot bool      `json:"reply_to_bot"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SenderID) == "" || strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "sender_id and text are required")
		return
	}

	ctx := trace.Ensure(r.Context())
	out, err := s.deps.Handler.Handle(ctx, engine.Inbound{
		ConversationID: chi.URLParam(r, "id"),
		SenderID:       req.SenderID,
		SenderName:     req.SenderName,
		Text:           req.Text,
		Timestamp:      req.Timestamp,
		IsGroup:        req.IsGroup,
		Mentioned:      req.Mentioned,
		ReplyToBot:     req.ReplyToBot,
	})
	if err != nil {
		trace.Logger(ctx).Error("httpapi: handle message", "err", err)
		respondError(w, http.StatusInternalServerError, "internal", "message could not be processed")
		return
	}
	w.Header().Set("X-Trace-Id", trace.FromContext(ctx))
	respondJSON(w, http.StatusOK, out)
}

type moodResponse struct {
	mood.State
	Category  mood.Category    `json:"category"`
	Level     mood.EnergyLevel `json:"level"`
	Directive string           `json:"directive"`
}

func (s *Server) handleMood(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	now := time.Now()
	st := s.deps.Moods.State(id, now)
	respondJSON(w, http.StatusOK, moodResponse{
		State:     st,
		Category:  mood.CategoryOf(st.Score),
		Level:     mood.LevelOf(st.Energy),
		Directive: s.deps.Moods.Directive(id, now),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs := s.deps.Memory.History(chi.URLParam(r, "id"), time.Now())
	if msgs == nil {
		msgs = []memory.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	if s.deps.Outbox == nil {
		respondError(w, http.StatusNotFound, "outbox_disabled", "this server has no outbox")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": s.deps.Outbox.Drain(chi.URLParam(r, "id"))})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: failed to encode JSON response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
