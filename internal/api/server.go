// Package api exposes report sessions over HTTP: a REST surface for the
// editor and a websocket stream of change-detection decisions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/RobinCoderZhao/experience-kit/internal/flow"
)

// FlowFactory starts a session for a new report.
type FlowFactory func(ctx context.Context, in flow.Input) (*flow.Flow, error)

// Config holds server settings.
type Config struct {
	Addr        string        `yaml:"addr" toml:"addr" json:"addr" env:"EXPKIT_ADDR"`
	TokenSecret string        `yaml:"token_secret" toml:"token_secret" json:"-" env:"EXPKIT_TOKEN_SECRET"`
	TokenTTL    time.Duration `yaml:"token_ttl" toml:"token_ttl" json:"token_ttl"`
	// AllowOrigin is sent as Access-Control-Allow-Origin when set.
	AllowOrigin string `yaml:"allow_origin" toml:"allow_origin" json:"allow_origin"`
}

// Server holds the dependencies for the API.
type Server struct {
	cfg       Config
	newFlow   FlowFactory
	sessions  *registry
	hub       *Hub
	jwtSecret []byte
	logger    *slog.Logger
}

// NewServer creates a server. hub must be the stream notifier the factory's
// flows dispatch to.
func NewServer(cfg Config, hub *Hub, newFlow FlowFactory) (*Server, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("token secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		cfg:       cfg,
		newFlow:   newFlow,
		sessions:  newRegistry(),
		hub:       hub,
		jwtSecret: []byte(cfg.TokenSecret),
		logger:    slog.Default(),
	}, nil
}

// Routes returns the configured http.Handler for the API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth())
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession())

	// Session routes require a token issued for that session.
	session := func(h http.HandlerFunc) http.Handler {
		return s.requireSession(s.withFlow(h))
	}
	mux.Handle("GET /api/sessions/{id}", session(s.handleGetSession()))
	mux.Handle("DELETE /api/sessions/{id}", session(s.handleDeleteSession()))
	mux.Handle("POST /api/sessions/{id}/text", session(s.handleText()))
	mux.Handle("POST /api/sessions/{id}/commit", session(s.handleCommit()))
	mux.Handle("POST /api/sessions/{id}/analyze", session(s.handleAnalyze()))
	mux.Handle("POST /api/sessions/{id}/segments/{segmentID}/remove", session(s.handleRemoveSegment()))
	mux.Handle("POST /api/sessions/{id}/undo", session(s.handleUndo()))
	mux.Handle("POST /api/sessions/{id}/reanalysis/{action}", session(s.handleReAnalysis()))
	mux.Handle("GET /api/sessions/{id}/events", session(s.handleEvents()))

	return s.cors(mux)
}

// Shutdown flushes and closes every live session and disconnects streams.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for _, f := range s.sessions.drain() {
		if err := f.Flush(ctx); err != nil {
			s.logger.Error("flush session on shutdown", "session", f.ID(), "error", err)
			errs = append(errs, err)
		}
		f.Close()
	}
	s.hub.Close()
	return errors.Join(errs...)
}

func (s *Server) cors(next http.Handler) http.Handler {
	if s.cfg.AllowOrigin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
