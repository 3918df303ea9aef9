// Package httpapi is the webhook front door: tiered inbound routes from the
// chat platform, a local test endpoint, health, metrics and the admin
// surface.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/songbot-dev/songbot/internal/config"
	"github.com/songbot-dev/songbot/internal/delayed"
	"github.com/songbot-dev/songbot/internal/engine"
	"github.com/songbot-dev/songbot/internal/observability"
	"github.com/songbot-dev/songbot/internal/session"
	"github.com/songbot-dev/songbot/internal/task"
)

// Server bundles the handlers with their collaborators.
type Server struct {
	cfg      *config.Config
	eng      *engine.Engine
	sessions *session.Manager
	tasks    *task.Registry
	store    delayed.Store
}

func NewServer(cfg *config.Config, eng *engine.Engine, sessions *session.Manager, tasks *task.Registry, store delayed.Store) *Server {
	return &Server{cfg: cfg, eng: eng, sessions: sessions, tasks: tasks, store: store}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /{$}", s.instrument("/", s.handleBasic))
	mux.HandleFunc("POST /v2", s.instrument("/v2", s.handlePremium))
	mux.HandleFunc("POST /v1", s.instrument("/v1", s.handleMini))
	mux.HandleFunc("POST /song", s.instrument("/song", s.handleSong))
	mux.HandleFunc("POST /suno_callback", s.instrument("/suno_callback", s.handleSunoCallback))
	mux.HandleFunc("GET /health", s.instrument("/health", s.handleHealth))
	mux.Handle("GET /metrics", observability.MetricsHandler())

	mux.HandleFunc("GET /admin/get_prompt", s.instrument("/admin/get_prompt", s.admin(s.handleGetPrompt)))
	mux.HandleFunc("POST /admin/retry_music", s.instrument("/admin/retry_music", s.admin(s.handleRetryMusic)))
	mux.HandleFunc("GET /admin/list_tasks", s.instrument("/admin/list_tasks", s.admin(s.handleListTasks)))
	mux.HandleFunc("POST /admin/force_send_ready", s.instrument("/admin/force_send_ready", s.admin(s.handleForceSendReady)))

	return mux
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument tags each request with an id, logs it and records metrics.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next(rec, r.WithContext(ctx))
		elapsed := time.Since(start)

		observability.RecordHTTPRequest(r.Method, path, fmt.Sprint(rec.status), elapsed)
		log.Printf("http: %s %s status=%d dur=%s req=%s", r.Method, path, rec.status, elapsed.Round(time.Millisecond), reqID)
	}
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                  true,
		"service":             "songbot",
		"primary_model":       s.cfg.OpenAI.PrimaryModel,
		"fallback_model":      s.cfg.OpenAI.FallbackModel,
		"use_comet":           s.cfg.Comet.UseComet,
		"use_comet_llm":       s.cfg.Comet.UseCometLLM,
		"provider_default":    s.defaultProvider(),
		"comet_model_version": s.cfg.Comet.ModelVersion,
		"mini_model_version":  s.cfg.Comet.MiniModelVersion,
		"sessions_len":        s.sessions.Len(),
		"pending_tasks_len":   len(s.tasks.List()),
		"delayed_tasks_len":   len(s.store.LoadAll()),
		"show_tech_prompt":    s.cfg.ShowTechPrompt,
	})
}

// handleSunoCallback only acknowledges; results come via polling.
func (s *Server) handleSunoCallback(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)
	raw, _ := json.Marshal(payload)
	log.Printf("http: suno callback ignored: %s", raw)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "note": "callback disabled; using polling now"})
}

func (s *Server) defaultProvider() string {
	if s.cfg.Comet.UseComet && s.cfg.CometUsable() {
		return "comet"
	}
	return "foxai"
}
