package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bdobrica/ghostai/common/version"
	"github.com/bdobrica/ghostai/internal/ghostai/memory"
	"github.com/bdobrica/ghostai/internal/ghostai/observability"
)

// statusProvider is the part of the memory engine the HTTP surface reads.
type statusProvider interface {
	HotConversations() int
	Status(ctx context.Context, conversationID string) (memory.Status, error)
}

// Server exposes /health, /status, /metrics and per-conversation status.
type Server struct {
	addr      string
	engine    statusProvider
	startedAt time.Time
	router    chi.Router
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status           string    `json:"status"`
	Version          string    `json:"version"`
	Commit           string    `json:"commit"`
	BuildTime        string    `json:"build_time"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSecs       float64   `json:"uptime_seconds"`
	HotConversations int       `json:"hot_conversations"`
}

// conversationResponse is returned by GET /conversations/{id}.
type conversationResponse struct {
	ConversationID string `json:"conversation_id"`
	HotTurns       int    `json:"hot_turns"`
	DurableTurns   int    `json:"durable_turns"`
	Summaries      int    `json:"summaries"`
	ModelKey       string `json:"model_key"`
	StyleKey       string `json:"style_key"`
}

// NewServer creates the HTTP surface (does not start it). metrics may be nil.
func NewServer(addr string, engine statusProvider, metrics *observability.Metrics) *Server {
	s := &Server{
		addr:      addr,
		engine:    engine,
		startedAt: time.Now(),
	}
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/conversations/{id}", s.handleConversation)
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}
	s.router = r
	return s
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}()

	slog.Info("http server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	b := version.Current()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: b.Version,
		Commit:  b.Commit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	b := version.Current()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:           "ok",
		Version:          b.Version,
		Commit:           b.Commit,
		BuildTime:        b.BuildTime,
		StartedAt:        s.startedAt,
		UptimeSecs:       time.Since(s.startedAt).Seconds(),
		HotConversations: s.engine.HotConversations(),
	})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.engine.Status(r.Context(), id)
	if err != nil {
		slog.Warn("http: conversation status failed", "conversation_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{
		ConversationID: st.ConversationID,
		HotTurns:       st.HotTurns,
		DurableTurns:   st.DurableTurns,
		Summaries:      st.Summaries,
		ModelKey:       st.Settings.ModelKey,
		StyleKey:       st.Settings.StyleKey,
	})
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http: failed to encode JSON response", "err", err)
	}
}
