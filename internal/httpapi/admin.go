package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
)

// admin guards a handler with the shared admin token. The token is accepted
// from the X-Admin-Token header, the ?token query parameter or a "token"
// body field.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if s.cfg.AdminToken == "" || token != s.cfg.AdminToken {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("cuid"))
	sess, ok := s.sessions.Snapshot(userID)
	if userID == "" || !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "unknown_cuid"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"cuid":           userID,
		"story":          sess.Story,
		"lyrics":         sess.Lyrics,
		"style_prompt":   sess.StylePrompt,
		"negative":       sess.NegativePrompt,
		"used_model":     sess.UsedModel,
		"provider":       sess.Provider,
		"model_version":  sess.ModelVersion,
		"use_comet_llm":  sess.UseCometLLM,
		"llm_model":      sess.LLMModel,
		"reminder_delay": sess.ReminderDelay.Seconds(),
		"last_activity":  sess.LastActivityAt.Unix(),
	})
}

func (s *Server) handleRetryMusic(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CUID string `json:"cuid"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	userID := strings.TrimSpace(body.CUID)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "missing_cuid"})
		return
	}
	if _, ok := s.sessions.Snapshot(userID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "unknown_cuid"})
		return
	}
	res := s.eng.ForceRegenerate(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"pending_tasks": s.tasks.List(),
		"delayed_tasks": s.store.LoadAll(),
	})
}

func (s *Server) handleForceSendReady(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CUID string `json:"cuid"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	userID := strings.TrimSpace(body.CUID)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "missing_cuid"})
		return
	}
	sent := s.eng.ForceDeliverPending(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sent": sent, "cuid": userID})
}
